package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// recoverWithRetry runs the startup recovery pass. Store failures are retried
// with jittered exponential backoff; the scanner must not start until this
// returns nil.
func recoverWithRetry(ctx context.Context, store reminder.Store, d *reminder.Dispatcher, clock reminder.Clock,
	attempts int, backoff time.Duration, log logx.Logger) (reminder.RecoveryReport, error) {
	if attempts <= 0 {
		attempts = defaultRecoveryAttempts
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	const maxBackoff = 15 * time.Second
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		now := time.Now().UTC()
		if clock != nil {
			now = clock().UTC()
		}
		rep, err := reminder.Recover(ctx, store, d, now, log)
		if err == nil {
			return rep, nil
		}
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		var pe *reminder.PersistenceError
		if !errors.As(err, &pe) {
			return rep, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		// +/-20% jitter.
		jitter := time.Duration(float64(backoff) * (rng.Float64()*0.4 - 0.2))
		wait := backoff + jitter
		log.Warn("recovery failed; retrying",
			logx.Int("attempt", attempt),
			logx.Int("attempts", attempts),
			logx.Duration("backoff", wait),
			logx.Err(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return reminder.RecoveryReport{}, ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return reminder.RecoveryReport{}, fmt.Errorf("recovery gave up after %d attempts: %w", attempts, lastErr)
}
