package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunOTPSweeper deletes stale challenges every interval until ctx is done.
// Expiry is still enforced at verify time; this only keeps the store small.
func RunOTPSweeper(ctx context.Context, otp OTPService, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	log = log.Named("otp-sweeper")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := otp.Sweep(ctx)
			if err != nil {
				log.Warn("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("swept expired challenges", zap.Int64("deleted", n))
			}
		}
	}
}
