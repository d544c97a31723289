package app

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// SignalContext returns a context that is cancelled on the first SIGINT or
// SIGTERM, including one that arrives while Start is still recovering. reason
// reports which signal it was, or StopUnknown before any.
func SignalContext(parent context.Context) (ctx context.Context, reason func() StopReason, stop context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ctx, reason, cancel := watchSignals(parent, sigs)
	return ctx, reason, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func watchSignals(parent context.Context, sigs <-chan os.Signal) (context.Context, func() StopReason, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	var got atomic.Value // StopReason
	got.Store(StopUnknown)
	go func() {
		select {
		case sig := <-sigs:
			r := StopSIGINT
			if sig == syscall.SIGTERM {
				r = StopSIGTERM
			}
			got.Store(r)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() StopReason { return got.Load().(StopReason) }, cancel
}
