package app

import (
	"context"
	"fmt"
	"time"

	logx "remindbot/pkg/logx"
)

const (
	// minStopStep is granted to every step, even past the caller's deadline,
	// so the store still gets closed.
	minStopStep  = 100 * time.Millisecond
	slowStopStep = 500 * time.Millisecond
)

// shutdownStep runs fn with at most limit of the caller's remaining time. A
// step that overruns is left running in the background and shutdown moves on;
// its late result is still logged.
func shutdownStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	limit = max(limit, minStopStep)
	log = log.With(logx.String("step", name))

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), limit)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("stop step failed", logx.Duration("took", took), logx.Err(err))
		case took >= slowStopStep:
			log.Info("stop step done", logx.Duration("took", took))
		default:
			log.Debug("stop step done", logx.Duration("took", took))
		}
	case <-sctx.Done():
		log.Warn("stop step overran; continuing", logx.Duration("limit", limit))
		go func() {
			if err := <-done; err != nil {
				log.Warn("overrun stop step failed", logx.Duration("took", time.Since(start)), logx.Err(err))
				return
			}
			log.Info("overrun stop step finished", logx.Duration("took", time.Since(start)))
		}()
	}
}
