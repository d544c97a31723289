package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"remindbot/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.Parse()

	ctx, signalled, stop := app.SignalContext(context.Background())
	defer stop()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		// A signal during startup recovery aborts Start; that is a normal stop.
		reason := signalled()
		if reason == app.StopUnknown {
			fmt.Fprintln(os.Stderr, "fatal start:", err)
			reason = app.StopFatalError
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, reason)
		stopCancel()
		if reason == app.StopFatalError {
			os.Exit(1)
		}
		return
	}

	reason := app.StopFatalError
	select {
	case <-ctx.Done():
		reason = signalled()
	case <-a.Done():
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
