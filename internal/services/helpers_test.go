package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"campuspay/internal/models"
	"campuspay/internal/repositories"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seqCodes hands out 100001, 100002, ... in order.
type seqCodes struct {
	mu sync.Mutex
	n  int
}

func (s *seqCodes) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%06d", 100000+s.n), nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]string)}
}

func (r *recordingSender) SendOTP(_ context.Context, identifier, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent[identifier] = append(r.sent[identifier], code)
	return nil
}

func (r *recordingSender) last(identifier string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.sent[identifier]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

type recordingNotifier struct {
	mu    sync.Mutex
	users []*models.User
	err   error
}

func (n *recordingNotifier) NotifySignup(_ context.Context, user *models.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, user)
	return n.err
}

type stubTokens struct{}

func (stubTokens) Issue(user *models.User) (string, error) { return "token-" + user.ID, nil }

type harness struct {
	clock    *fakeClock
	sender   *recordingSender
	notifier *recordingNotifier
	otpRepo  repositories.OTPRepository
	users    repositories.UserRepository
	otp      OTPService
	creds    CredentialService
	auth     AuthService
}

func newHarness() *harness {
	h := &harness{
		clock:    newFakeClock(),
		sender:   newRecordingSender(),
		notifier: &recordingNotifier{},
		otpRepo:  repositories.NewMemoryOTPRepository(),
		users:    repositories.NewMemoryUserRepository(),
	}
	codes := &seqCodes{}
	h.otp = NewOTPService(h.otpRepo, h.sender, OTPOptions{
		TTL:         5 * time.Minute,
		MaxAttempts: 5,
		Now:         h.clock.Now,
		NewCode:     codes.Next,
	}, zap.NewNop())
	h.creds = &credentialService{repo: h.users, cost: bcrypt.MinCost, now: h.clock.Now}
	h.auth = NewAuthService(h.otp, h.creds, stubTokens{}, h.notifier, zap.NewNop())
	return h
}

func studentSignup(email string) models.SignupRequest {
	return models.SignupRequest{
		Name:     "Asha Rao",
		Email:    email,
		Mobile:   "98765 43210",
		Course:   "BCA",
		Password: "secret1",
		Role:     "STUDENT",
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }
