package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campuspay/internal/models"
)

// OTPRepository holds at most one challenge per identifier.
//
// Get returns (nil, nil) when nothing is stored. MarkVerified and
// IncrementAttempts only touch the challenge whose code is code; they return
// ErrNotFound when the identifier is missing or has been re-issued since.
type OTPRepository interface {
	Upsert(ctx context.Context, ch *models.OTPChallenge) error
	Get(ctx context.Context, identifier string) (*models.OTPChallenge, error)
	MarkVerified(ctx context.Context, identifier, code string) error
	IncrementAttempts(ctx context.Context, identifier, code string) (int, error)
	Delete(ctx context.Context, identifier string) error
	// DeleteIssuedBefore removes challenges issued at or before cutoff.
	DeleteIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// retentionFor is how long stores that reap on their own (Redis key TTL,
// Mongo TTL index) keep a challenge. It outlives ttl so an expired challenge
// is still there to be reported as expired.
func retentionFor(ttl time.Duration) time.Duration {
	return 2 * ttl
}

type otpRepository struct {
	DB *sql.DB
}

func NewOTPRepository(db *sql.DB) OTPRepository {
	return &otpRepository{DB: db}
}

// Upsert replaces any previous challenge in one statement, so two concurrent
// requests for the same identifier leave exactly one row behind.
func (r *otpRepository) Upsert(ctx context.Context, ch *models.OTPChallenge) error {
	const q = `
		INSERT INTO otp_challenges (identifier, code, issued_at, verified, attempts)
		VALUES ($1, $2, $3, FALSE, 0)
		ON CONFLICT (identifier) DO UPDATE
		SET code = EXCLUDED.code, issued_at = EXCLUDED.issued_at, verified = FALSE, attempts = 0
	`
	if _, err := r.DB.ExecContext(ctx, q, ch.Identifier, ch.Code, ch.IssuedAt); err != nil {
		return fmt.Errorf("otp upsert: %w", err)
	}
	return nil
}

func (r *otpRepository) Get(ctx context.Context, identifier string) (*models.OTPChallenge, error) {
	const q = `
		SELECT identifier, code, issued_at, verified, attempts
		FROM otp_challenges
		WHERE identifier = $1
	`
	var ch models.OTPChallenge
	err := r.DB.QueryRowContext(ctx, q, identifier).
		Scan(&ch.Identifier, &ch.Code, &ch.IssuedAt, &ch.Verified, &ch.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("otp get: %w", err)
	}
	return &ch, nil
}

func (r *otpRepository) MarkVerified(ctx context.Context, identifier, code string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE otp_challenges SET verified = TRUE WHERE identifier = $1 AND code = $2`, identifier, code)
	if err != nil {
		return fmt.Errorf("otp mark verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("otp mark verified: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *otpRepository) IncrementAttempts(ctx context.Context, identifier, code string) (int, error) {
	const q = `
		UPDATE otp_challenges
		SET attempts = attempts + 1
		WHERE identifier = $1 AND code = $2
		RETURNING attempts
	`
	var attempts int
	if err := r.DB.QueryRowContext(ctx, q, identifier, code).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("otp increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *otpRepository) Delete(ctx context.Context, identifier string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM otp_challenges WHERE identifier = $1`, identifier); err != nil {
		return fmt.Errorf("otp delete: %w", err)
	}
	return nil
}

func (r *otpRepository) DeleteIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM otp_challenges WHERE issued_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("otp sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("otp sweep: %w", err)
	}
	return n, nil
}
