package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"campuspay/internal/authz"
	"campuspay/internal/models"
)

// TokenIssuer signs access tokens for logged-in users.
type TokenIssuer interface {
	Issue(user *models.User) (string, error)
}

type LoginResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// AuthService runs the request-otp / verify-otp / complete-signup flow and
// login.
type AuthService interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	CompleteSignup(ctx context.Context, req models.SignupRequest) (*models.User, error)
	Login(ctx context.Context, email, password string, role authz.Role) (*LoginResult, error)
	Profile(ctx context.Context, userID string) (*models.User, error)
	// Drain waits for signup notifications still being delivered.
	Drain(ctx context.Context) error
}

// signupNotifyDeadline bounds the background delivery of one signup's
// notifications after the request has returned.
const signupNotifyDeadline = time.Minute

type authService struct {
	otp      OTPService
	creds    CredentialService
	tokens   TokenIssuer
	notifier SignupNotifier
	log      *zap.Logger

	pending sync.WaitGroup
}

func NewAuthService(otp OTPService, creds CredentialService, tokens TokenIssuer, notifier SignupNotifier, log *zap.Logger) AuthService {
	return &authService{
		otp:      otp,
		creds:    creds,
		tokens:   tokens,
		notifier: notifier,
		log:      log.Named("auth"),
	}
}

func (s *authService) RequestOTP(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	exists, err := s.creds.Exists(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateEmail
	}
	_, err = s.otp.Issue(ctx, email)
	return err
}

func (s *authService) VerifyOTP(ctx context.Context, email, code string) error {
	return s.otp.Verify(ctx, models.NormalizeEmail(email), strings.TrimSpace(code))
}

// CompleteSignup needs a verified challenge for the email. The challenge is
// consumed only after the credential is stored, so a failed create can be
// retried without a new code. Notifications go out in the background and
// never hold up the response.
func (s *authService) CompleteSignup(ctx context.Context, req models.SignupRequest) (*models.User, error) {
	in := NewSignupInput(req)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	exists, err := s.creds.Exists(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}
	if err := s.otp.RequireVerified(ctx, in.Email); err != nil {
		return nil, err
	}

	user, err := s.creds.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.otp.Consume(ctx, in.Email); err != nil {
		// the account exists; the stale challenge ages out on its own
		s.log.Warn("otp consume failed", zap.String("email", in.Email), zap.Error(err))
	}
	s.log.Info("signup completed", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))

	s.notifySignup(ctx, user.Public())
	return user.Public(), nil
}

func (s *authService) notifySignup(ctx context.Context, user *models.User) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signupNotifyDeadline)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		if err := s.notifier.NotifySignup(ctx, user); err != nil {
			s.log.Warn("signup notification failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}()
}

func (s *authService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *authService) Login(ctx context.Context, email, password string, role authz.Role) (*LoginResult, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, &ValidationError{Fields: map[string]string{"login": "email and password are required"}}
	}
	if role != "" {
		parsed, ok := authz.ParseRole(string(role))
		if !ok {
			return nil, invalidField("role", "role must be STUDENT or TEACHER")
		}
		role = parsed
	}

	user, err := s.creds.FindForLogin(ctx, email, role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Info("login unknown email", zap.String("email", email))
		}
		return nil, err
	}
	if !s.creds.VerifyPassword(user, password) {
		s.log.Info("login bad password", zap.String("user_id", user.ID))
		return nil, ErrInvalidCredential
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.log.Info("login ok", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &LoginResult{User: user.Public(), Token: token}, nil
}

func (s *authService) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.creds.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}
