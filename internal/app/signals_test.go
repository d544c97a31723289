package app

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func TestWatchSignalsCancelsOnSignal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sig  os.Signal
		want StopReason
	}{
		{os.Interrupt, StopSIGINT},
		{syscall.SIGTERM, StopSIGTERM},
	}
	for _, tt := range tests {
		sigs := make(chan os.Signal, 1)
		ctx, reason, cancel := watchSignals(context.Background(), sigs)
		if got := reason(); got != StopUnknown {
			t.Fatalf("reason before signal = %q", got)
		}
		sigs <- tt.sig
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatalf("%v did not cancel the context", tt.sig)
		}
		if got := reason(); got != tt.want {
			t.Fatalf("reason = %q, want %q", got, tt.want)
		}
		cancel()
	}
}

func TestSignalAbortsStartupRecovery(t *testing.T) {
	t.Parallel()
	store := &flakyStore{failures: 10}
	d := reminder.NewDispatcher(store, reminder.GatewayFunc(func(context.Context, reminder.Delivery) error { return nil }),
		nil, reminder.DispatcherConfig{}, logx.Nop(), nil)

	sigs := make(chan os.Signal, 1)
	ctx, reason, cancel := watchSignals(context.Background(), sigs)
	defer cancel()
	time.AfterFunc(50*time.Millisecond, func() { sigs <- syscall.SIGTERM })

	start := time.Now()
	_, err := recoverWithRetry(ctx, store, d, nil, 5, time.Hour, logx.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Fatalf("recovery ran %v after SIGTERM", took)
	}
	if got := reason(); got != StopSIGTERM {
		t.Fatalf("reason = %q, want %q", got, StopSIGTERM)
	}
}
