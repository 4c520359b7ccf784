package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"campuspay/internal/models"
)

const otpKeyPrefix = "otp:"

var (
	markVerifiedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'code') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'verified', '1')
return 1
`)
	incrAttemptsScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'code') ~= ARGV[1] then return -1 end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)
)

// redisOTPRepo stores each challenge as a hash under otp:<identifier>. Redis
// drops the key once the retention window for ttl has passed, so
// DeleteIssuedBefore has nothing to do.
type redisOTPRepo struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisOTPRepository(rdb redis.UniversalClient, ttl time.Duration) OTPRepository {
	return &redisOTPRepo{rdb: rdb, ttl: ttl}
}

func otpKey(identifier string) string { return otpKeyPrefix + identifier }

func (r *redisOTPRepo) Upsert(ctx context.Context, ch *models.OTPChallenge) error {
	key := otpKey(ch.Identifier)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", ch.Code,
			"issued_at", strconv.FormatInt(ch.IssuedAt.UnixNano(), 10),
			"verified", "0",
			"attempts", 0,
		)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, retentionFor(r.ttl))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("otp upsert: %w", err)
	}
	return nil
}

func (r *redisOTPRepo) Get(ctx context.Context, identifier string) (*models.OTPChallenge, error) {
	fields, err := r.rdb.HGetAll(ctx, otpKey(identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("otp get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("otp get: bad issued_at: %w", err)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	return &models.OTPChallenge{
		Identifier: identifier,
		Code:       fields["code"],
		IssuedAt:   time.Unix(0, issued).UTC(),
		Verified:   fields["verified"] == "1",
		Attempts:   attempts,
	}, nil
}

func (r *redisOTPRepo) MarkVerified(ctx context.Context, identifier, code string) error {
	n, err := markVerifiedScript.Run(ctx, r.rdb, []string{otpKey(identifier)}, code).Int()
	if err != nil {
		return fmt.Errorf("otp mark verified: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisOTPRepo) IncrementAttempts(ctx context.Context, identifier, code string) (int, error) {
	n, err := incrAttemptsScript.Run(ctx, r.rdb, []string{otpKey(identifier)}, code).Int()
	if err != nil {
		return 0, fmt.Errorf("otp increment attempts: %w", err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (r *redisOTPRepo) Delete(ctx context.Context, identifier string) error {
	if err := r.rdb.Del(ctx, otpKey(identifier)).Err(); err != nil {
		return fmt.Errorf("otp delete: %w", err)
	}
	return nil
}

func (r *redisOTPRepo) DeleteIssuedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
