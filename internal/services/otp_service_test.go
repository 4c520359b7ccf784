package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campuspay/internal/models"
	"campuspay/internal/repositories"
)

func newOTPOver(repo repositories.OTPRepository, clock *fakeClock) OTPService {
	return NewOTPService(repo, newRecordingSender(), OTPOptions{
		TTL:         5 * time.Minute,
		MaxAttempts: 5,
		Now:         clock.Now,
		NewCode:     (&seqCodes{}).Next,
	}, zap.NewNop())
}

// reissuingRepo swaps in a new code right after the first read, the way a
// request-otp landing in the middle of a verify would.
type reissuingRepo struct {
	repositories.OTPRepository
	code string
	once sync.Once
}

func (r *reissuingRepo) Get(ctx context.Context, identifier string) (*models.OTPChallenge, error) {
	ch, err := r.OTPRepository.Get(ctx, identifier)
	if err == nil && ch != nil {
		r.once.Do(func() {
			_ = r.OTPRepository.Upsert(ctx, &models.OTPChallenge{Identifier: identifier, Code: r.code, IssuedAt: ch.IssuedAt})
		})
	}
	return ch, err
}

func TestOTP_ReissueInvalidatesPreviousCode(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.otp.Issue(ctx, "new@college.edu")
	require.NoError(t, err)
	second, err := h.otp.Issue(ctx, "new@college.edu")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	assert.Equal(t, second, h.sender.last("new@college.edu"))

	assert.ErrorIs(t, h.otp.Verify(ctx, "new@college.edu", first), ErrOTPMismatch)
	assert.NoError(t, h.otp.Verify(ctx, "new@college.edu", second))
}

func TestOTP_VerifyWithoutRequest(t *testing.T) {
	h := newHarness()
	err := h.otp.Verify(context.Background(), "nobody@college.edu", "123456")
	assert.ErrorIs(t, err, ErrOTPNotRequested)
}

func TestOTP_VerifyEmptyArguments(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	var ve *ValidationError
	err := h.otp.Verify(ctx, "", "123456")
	assert.ErrorIs(t, err, ErrInvalidInput)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"email": "email is required"}, ve.Fields)

	err = h.otp.Verify(ctx, "a@college.edu", "")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"otp": "otp is required"}, ve.Fields)

	err = h.otp.Verify(ctx, "", "")
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 2)
}

func TestOTP_ReissueDuringVerifyRejectsOldCode(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := &reissuingRepo{OTPRepository: repositories.NewMemoryOTPRepository(), code: "999999"}
	otp := newOTPOver(repo, clock)

	old, err := otp.Issue(ctx, "a@college.edu")
	require.NoError(t, err)

	assert.ErrorIs(t, otp.Verify(ctx, "a@college.edu", old), ErrOTPMismatch)

	ch, err := repo.OTPRepository.Get(ctx, "a@college.edu")
	require.NoError(t, err)
	assert.Equal(t, "999999", ch.Code)
	assert.False(t, ch.Verified)
	assert.ErrorIs(t, otp.RequireVerified(ctx, "a@college.edu"), ErrOTPNotVerified)

	assert.NoError(t, otp.Verify(ctx, "a@college.edu", "999999"))
}

func TestOTP_WrongGuessDuringReissueIsNotCharged(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := &reissuingRepo{OTPRepository: repositories.NewMemoryOTPRepository(), code: "999999"}
	otp := newOTPOver(repo, clock)

	_, err := otp.Issue(ctx, "a@college.edu")
	require.NoError(t, err)

	assert.ErrorIs(t, otp.Verify(ctx, "a@college.edu", "000000"), ErrOTPMismatch)

	ch, err := repo.OTPRepository.Get(ctx, "a@college.edu")
	require.NoError(t, err)
	assert.Zero(t, ch.Attempts)
}

func TestOTP_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("299s verifies", func(t *testing.T) {
		h := newHarness()
		code, err := h.otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		h.clock.Advance(299 * time.Second)
		assert.NoError(t, h.otp.Verify(ctx, "a@college.edu", code))
	})

	t.Run("300s expires", func(t *testing.T) {
		h := newHarness()
		code, err := h.otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		h.clock.Advance(300 * time.Second)
		assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", code), ErrOTPExpired)
	})

	t.Run("301s expires and deletes", func(t *testing.T) {
		h := newHarness()
		code, err := h.otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		h.clock.Advance(301 * time.Second)
		assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", code), ErrOTPExpired)

		ch, err := h.otpRepo.Get(ctx, "a@college.edu")
		require.NoError(t, err)
		assert.Nil(t, ch)
		assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", code), ErrOTPNotRequested)
	})
}

func TestOTP_ExpiryBoundaryOnRedis(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (OTPService, *fakeClock, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		clock := newFakeClock()
		return newOTPOver(repositories.NewRedisOTPRepository(rdb, 5*time.Minute), clock), clock, mr
	}
	advance := func(clock *fakeClock, mr *miniredis.Miniredis, d time.Duration) {
		clock.Advance(d)
		mr.FastForward(d)
	}

	t.Run("299s verifies", func(t *testing.T) {
		otp, clock, mr := setup(t)
		code, err := otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		advance(clock, mr, 299*time.Second)
		assert.NoError(t, otp.Verify(ctx, "a@college.edu", code))
	})

	t.Run("301s expires and deletes", func(t *testing.T) {
		otp, clock, mr := setup(t)
		code, err := otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		advance(clock, mr, 301*time.Second)
		assert.ErrorIs(t, otp.Verify(ctx, "a@college.edu", code), ErrOTPExpired)
		assert.False(t, mr.Exists("otp:a@college.edu"))
		assert.ErrorIs(t, otp.Verify(ctx, "a@college.edu", code), ErrOTPNotRequested)
	})

	t.Run("verified challenge expires before complete-signup", func(t *testing.T) {
		otp, clock, mr := setup(t)
		code, err := otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		require.NoError(t, otp.Verify(ctx, "a@college.edu", code))
		advance(clock, mr, 301*time.Second)
		assert.ErrorIs(t, otp.RequireVerified(ctx, "a@college.edu"), ErrOTPExpired)
	})

	t.Run("reaped by redis long after expiry", func(t *testing.T) {
		otp, clock, mr := setup(t)
		code, err := otp.Issue(ctx, "a@college.edu")
		require.NoError(t, err)
		advance(clock, mr, 11*time.Minute)
		assert.ErrorIs(t, otp.Verify(ctx, "a@college.edu", code), ErrOTPNotRequested)
	})
}

func TestOTP_VerifyKeepsChallenge(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	code, err := h.otp.Issue(ctx, "a@college.edu")
	require.NoError(t, err)
	require.NoError(t, h.otp.Verify(ctx, "a@college.edu", code))

	ch, err := h.otpRepo.Get(ctx, "a@college.edu")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.True(t, ch.Verified)
	assert.NoError(t, h.otp.RequireVerified(ctx, "a@college.edu"))

	require.NoError(t, h.otp.Consume(ctx, "a@college.edu"))
	assert.ErrorIs(t, h.otp.RequireVerified(ctx, "a@college.edu"), ErrOTPNotRequested)
}

func TestOTP_TooManyAttempts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	code, err := h.otp.Issue(ctx, "a@college.edu")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", "000000"), ErrOTPMismatch)
	}
	assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", "000000"), ErrTooManyAttempts)
	// the right code no longer helps
	assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", code), ErrOTPNotRequested)
}

func TestOTP_LeadingZeroIsNotNumeric(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	code, err := h.otp.Issue(ctx, "a@college.edu")
	require.NoError(t, err)
	assert.ErrorIs(t, h.otp.Verify(ctx, "a@college.edu", "0"+code), ErrOTPMismatch)
}

func TestOTP_DeliveryFailureKeepsChallenge(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.sender.err = errors.New("smtp: connection refused")

	code, err := h.otp.Issue(ctx, "a@college.edu")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	require.NotEmpty(t, code)

	assert.NoError(t, h.otp.Verify(ctx, "a@college.edu", code))
}

func TestOTP_IssueRejectsBadIdentifier(t *testing.T) {
	h := newHarness()
	_, err := h.otp.Issue(context.Background(), "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidInput)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
}

func TestOTP_RequireVerifiedPending(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.otp.Issue(ctx, "a@college.edu")
	require.NoError(t, err)
	assert.ErrorIs(t, h.otp.RequireVerified(ctx, "a@college.edu"), ErrOTPNotVerified)
}

func TestOTP_Sweep(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.otp.Issue(ctx, "old@college.edu")
	require.NoError(t, err)
	h.clock.Advance(4 * time.Minute)
	_, err = h.otp.Issue(ctx, "fresh@college.edu")
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	n, err := h.otp.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.ErrorIs(t, h.otp.RequireVerified(ctx, "old@college.edu"), ErrOTPNotRequested)
	assert.ErrorIs(t, h.otp.RequireVerified(ctx, "fresh@college.edu"), ErrOTPNotVerified)
}

func TestRunOTPSweeper_StopsOnCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunOTPSweeper(ctx, h.otp, 10*time.Millisecond, zapNop())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
