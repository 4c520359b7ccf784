package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"campuspay/internal/authz"
	"campuspay/internal/models"
	"campuspay/internal/repositories"
)

type CredentialService interface {
	Exists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, in SignupInput) (*models.User, error)
	FindForLogin(ctx context.Context, email string, role authz.Role) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	VerifyPassword(user *models.User, plaintext string) bool
	HashPassword(password string) (string, error)
}

type credentialService struct {
	repo repositories.UserRepository
	cost int
	now  func() time.Time
}

func NewCredentialService(repo repositories.UserRepository) CredentialService {
	return &credentialService{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
}

func (s *credentialService) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *credentialService) Exists(ctx context.Context, email string) (bool, error) {
	ok, err := s.repo.ExistsByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return false, persistence("credential exists", err)
	}
	return ok, nil
}

// Create relies on the store's unique email index; a concurrent create for the
// same email loses with ErrDuplicateEmail.
func (s *credentialService) Create(ctx context.Context, in SignupInput) (*models.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		Mobile:       in.Mobile,
		Role:         in.Role,
		Course:       in.Course,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, persistence("credential create", err)
	}
	return user, nil
}

// FindForLogin treats a role that differs from the stored one as not found.
func (s *credentialService) FindForLogin(ctx context.Context, email string, role authz.Role) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistence("credential lookup", err)
	}
	if role != "" && role != user.Role {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *credentialService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistence("credential by id", err)
	}
	return user, nil
}

func (s *credentialService) VerifyPassword(user *models.User, plaintext string) bool {
	if user == nil || user.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plaintext)) == nil
}
