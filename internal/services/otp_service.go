package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campuspay/internal/models"
	"campuspay/internal/repositories"
	"campuspay/internal/utils"
)

const (
	defaultOTPTTL      = 5 * time.Minute
	maxConfirmAttempts = 5
)

// OTPService owns the signup challenge lifecycle:
// NONE -> PENDING -> (re-issue) PENDING -> VERIFIED -> NONE.
type OTPService interface {
	Issue(ctx context.Context, identifier string) (string, error)
	Verify(ctx context.Context, identifier, code string) error
	RequireVerified(ctx context.Context, identifier string) error
	Consume(ctx context.Context, identifier string) error
	Sweep(ctx context.Context) (int64, error)
}

type OTPOptions struct {
	TTL         time.Duration
	MaxAttempts int
	Now         func() time.Time
	NewCode     func() (string, error)
}

type otpService struct {
	repo        repositories.OTPRepository
	sender      OTPSender
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	newCode     func() (string, error)
	log         *zap.Logger
}

func NewOTPService(repo repositories.OTPRepository, sender OTPSender, opts OTPOptions, log *zap.Logger) OTPService {
	s := &otpService{
		repo:        repo,
		sender:      sender,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		newCode:     opts.NewCode,
		log:         log.Named("otp"),
	}
	if s.ttl <= 0 {
		s.ttl = defaultOTPTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = maxConfirmAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCode == nil {
		s.newCode = utils.GenerateOTP
	}
	return s
}

// Issue stores a fresh code and then hands it to the sender. A failed send
// still returns the stored code alongside ErrDeliveryFailure; the challenge
// stays valid.
func (s *otpService) Issue(ctx context.Context, identifier string) (string, error) {
	if err := validateEmail(identifier); err != nil {
		return "", err
	}
	code, err := s.newCode()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	ch := &models.OTPChallenge{Identifier: identifier, Code: code, IssuedAt: s.now().UTC()}
	if err := s.repo.Upsert(ctx, ch); err != nil {
		return "", persistence("otp issue", err)
	}
	s.log.Info("otp issued", zap.String("identifier", identifier))

	if err := s.sender.SendOTP(ctx, identifier, code); err != nil {
		s.log.Warn("otp delivery failed", zap.String("identifier", identifier), zap.Error(err))
		return code, fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return code, nil
}

// Verify checks code against the live challenge. Every write is conditional on
// the code that was checked, so a re-issue racing with Verify can neither be
// verified nor charged an attempt by the old code.
func (s *otpService) Verify(ctx context.Context, identifier, code string) error {
	fields := map[string]string{}
	if identifier == "" {
		fields["email"] = "email is required"
	}
	if code == "" {
		fields["otp"] = "otp is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	ch, err := s.live(ctx, identifier)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) != 1 {
		attempts, err := s.repo.IncrementAttempts(ctx, identifier, ch.Code)
		if errors.Is(err, repositories.ErrNotFound) {
			return s.superseded(ctx, identifier)
		}
		if err != nil {
			return persistence("otp attempts", err)
		}
		if attempts >= s.maxAttempts {
			if err := s.repo.Delete(ctx, identifier); err != nil {
				return persistence("otp delete", err)
			}
			s.log.Warn("otp locked after too many attempts", zap.String("identifier", identifier))
			return ErrTooManyAttempts
		}
		return ErrOTPMismatch
	}

	if err := s.repo.MarkVerified(ctx, identifier, ch.Code); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return s.superseded(ctx, identifier)
		}
		return persistence("otp mark verified", err)
	}
	return nil
}

// superseded reports on a challenge that changed under Verify: a newer code
// means the one given is a mismatch, no row means there is nothing to verify.
func (s *otpService) superseded(ctx context.Context, identifier string) error {
	ch, err := s.repo.Get(ctx, identifier)
	if err != nil {
		return persistence("otp get", err)
	}
	if ch == nil {
		return ErrOTPNotRequested
	}
	return ErrOTPMismatch
}

func (s *otpService) RequireVerified(ctx context.Context, identifier string) error {
	ch, err := s.live(ctx, identifier)
	if err != nil {
		return err
	}
	if !ch.Verified {
		return ErrOTPNotVerified
	}
	return nil
}

// live loads the challenge and deletes it if it has expired.
func (s *otpService) live(ctx context.Context, identifier string) (*models.OTPChallenge, error) {
	ch, err := s.repo.Get(ctx, identifier)
	if err != nil {
		return nil, persistence("otp get", err)
	}
	if ch == nil {
		return nil, ErrOTPNotRequested
	}
	if ch.ExpiredAt(s.now(), s.ttl) {
		if err := s.repo.Delete(ctx, identifier); err != nil {
			return nil, persistence("otp delete", err)
		}
		return nil, ErrOTPExpired
	}
	return ch, nil
}

func (s *otpService) Consume(ctx context.Context, identifier string) error {
	if err := s.repo.Delete(ctx, identifier); err != nil {
		return persistence("otp consume", err)
	}
	return nil
}

func (s *otpService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteIssuedBefore(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, persistence("otp sweep", err)
	}
	return n, nil
}
