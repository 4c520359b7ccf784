package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"campuspay/internal/models"
)

// OTPSender delivers a code to the identifier out of band.
type OTPSender interface {
	SendOTP(ctx context.Context, identifier, code string) error
}

// SignupNotifier is told about every completed signup. Failures are logged by
// the caller and never undo the signup.
type SignupNotifier interface {
	NotifySignup(ctx context.Context, user *models.User) error
}

// LogOTPSender writes codes to the log instead of delivering them. Local
// development only.
type LogOTPSender struct {
	log *zap.Logger
}

func NewLogOTPSender(log *zap.Logger) *LogOTPSender {
	return &LogOTPSender{log: log.Named("otp-dry-run")}
}

func (s *LogOTPSender) SendOTP(_ context.Context, identifier, code string) error {
	s.log.Info("otp", zap.String("identifier", identifier), zap.String("code", code))
	return nil
}

type BreakerOptions struct {
	Timeout        time.Duration
	MaxFailures    uint32
	BreakerTimeout time.Duration
	// MaxInFlight caps sends still running, including ones abandoned after
	// Timeout.
	MaxInFlight int
}

const defaultMaxInFlight = 32

// ErrSenderBusy is returned when every send slot is held, typically by sends
// stuck on a stalled transport.
var ErrSenderBusy = errors.New("too many sends in flight")

// guardedSender bounds each send with a timeout and stops calling a transport
// that keeps failing until the breaker half-opens again.
type guardedSender struct {
	next OTPSender
	cb   *gobreaker.CircuitBreaker
	run  *boundedRunner
}

func NewGuardedSender(next OTPSender, opts BreakerOptions, log *zap.Logger) OTPSender {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "otp-sender",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &guardedSender{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(st),
		run:  newBoundedRunner(opts.Timeout, opts.MaxInFlight),
	}
}

func (s *guardedSender) SendOTP(ctx context.Context, identifier, code string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.run.do(ctx, func(ctx context.Context) error {
			return s.next.SendOTP(ctx, identifier, code)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("otp sender unavailable: %w", err)
	}
	return err
}

// boundedRunner runs fn with a deadline. Transports that ignore ctx (SMTP)
// keep running after the deadline; each one holds a slot until it returns, so
// a stalled transport runs out of slots instead of piling up goroutines.
type boundedRunner struct {
	timeout time.Duration
	slots   *semaphore.Weighted
}

func newBoundedRunner(timeout time.Duration, maxInFlight int) *boundedRunner {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &boundedRunner{timeout: timeout, slots: semaphore.NewWeighted(int64(maxInFlight))}
}

func (r *boundedRunner) do(ctx context.Context, fn func(context.Context) error) error {
	if !r.slots.TryAcquire(1) {
		return ErrSenderBusy
	}
	if r.timeout <= 0 {
		defer r.slots.Release(1)
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	done := make(chan error, 1)
	go func() {
		defer r.slots.Release(1)
		defer cancel()
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignupNotifiers fans a signup out to every configured channel in parallel.
// Each channel is bounded by the timeout and one failure does not stop the
// others.
type SignupNotifiers struct {
	channels map[string]SignupNotifier
	run      *boundedRunner
	log      *zap.Logger
}

func NewSignupNotifiers(timeout time.Duration, maxInFlight int, log *zap.Logger) *SignupNotifiers {
	return &SignupNotifiers{
		channels: make(map[string]SignupNotifier),
		run:      newBoundedRunner(timeout, maxInFlight),
		log:      log.Named("signup-notify"),
	}
}

// Add registers a channel under name. Nil notifiers are ignored.
func (n *SignupNotifiers) Add(name string, notifier SignupNotifier) *SignupNotifiers {
	if notifier != nil {
		n.channels[name] = notifier
	}
	return n
}

func (n *SignupNotifiers) Len() int { return len(n.channels) }

// NotifySignup always returns nil; failures are logged per channel.
func (n *SignupNotifiers) NotifySignup(ctx context.Context, user *models.User) error {
	var wg sync.WaitGroup
	for name, ch := range n.channels {
		wg.Add(1)
		go func(name string, ch SignupNotifier) {
			defer wg.Done()
			err := n.run.do(ctx, func(ctx context.Context) error {
				return ch.NotifySignup(ctx, user)
			})
			if err != nil {
				n.log.Warn("signup notification failed",
					zap.String("channel", name), zap.String("user_id", user.ID), zap.Error(err))
			}
		}(name, ch)
	}
	wg.Wait()
	return nil
}
