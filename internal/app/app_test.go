package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Storage: config.StorageConfig{Path: " ./data/r.db ", BusyTimeout: "3s"}}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./data/r.db" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("storage config = %+v", sc)
	}

	cfg.Storage = config.StorageConfig{Driver: "Postgres", DSN: "postgres://x", MaxOpenConn: 4}
	sc, err = mapStorageConfig(cfg)
	if err != nil || sc.Driver != "postgres" || sc.MaxOpenConn != 4 || sc.DSN != "postgres://x" {
		t.Fatalf("storage config = %+v, err = %v", sc, err)
	}

	cfg.Storage = config.StorageConfig{Path: "x", BusyTimeout: "soon"}
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected error for bad busy_timeout")
	}
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Telegram.GroupLog = "-1001"
	cfg.Logging.Level = "debug"
	cfg.Logging.Telegram = config.LoggingTelegram{Enabled: true, ThreadID: 4, MinLevel: "error", RatePerSec: 2}

	lc := mapLogConfig(cfg)
	if lc.Level != "debug" || !lc.Telegram.Enabled || lc.Telegram.ChatID != -1001 || lc.Telegram.ThreadID != 4 ||
		lc.Telegram.MinLevel != "error" || lc.Telegram.RatePerSec != 2 {
		t.Fatalf("log config = %+v", lc)
	}
}

func TestMapScannerAndDispatchConfig(t *testing.T) {
	t.Parallel()
	empty := &config.Config{}
	if sc, err := mapScannerConfig(empty); err != nil || sc != (reminder.ScannerConfig{}) {
		t.Fatalf("empty scanner config = %+v, %v", sc, err)
	}
	if dc, err := mapDispatchConfig(empty); err != nil || dc != (reminder.DispatcherConfig{}) {
		t.Fatalf("empty dispatch config = %+v, %v", dc, err)
	}

	cfg := &config.Config{
		Scanner:  &config.ScannerConfig{Interval: "2s", Workers: 8, CycleTimeout: "1m"},
		Dispatch: &config.DispatchConfig{SendTimeout: "4s", RatePerSec: 5},
	}
	sc, err := mapScannerConfig(cfg)
	if err != nil || sc != (reminder.ScannerConfig{Interval: 2 * time.Second, Workers: 8, CycleTimeout: time.Minute}) {
		t.Fatalf("scanner config = %+v, %v", sc, err)
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil || dc != (reminder.DispatcherConfig{SendTimeout: 4 * time.Second, RatePerSec: 5}) {
		t.Fatalf("dispatch config = %+v, %v", dc, err)
	}

	cfg.Scanner.Interval = "fast"
	if _, err := mapScannerConfig(cfg); err == nil {
		t.Fatal("expected error for bad scanner.interval")
	}
}

func TestRecoveryAttempts(t *testing.T) {
	t.Parallel()
	if n := recoveryAttempts(&config.Config{}); n != defaultRecoveryAttempts {
		t.Fatalf("default attempts = %d", n)
	}
	if n := recoveryAttempts(&config.Config{Recovery: &config.RecoveryConfig{Attempts: 2}}); n != 2 {
		t.Fatalf("attempts = %d, want 2", n)
	}
}

// flakyStore fails FetchAllPending until failures reaches zero.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	rows     []reminder.Reminder
	deleted  []int64
}

func (s *flakyStore) Create(context.Context, reminder.Reminder) (int64, error) { return 0, nil }

func (s *flakyStore) FetchDue(context.Context, time.Time) ([]reminder.Reminder, error) {
	return nil, nil
}

func (s *flakyStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return true, nil
}

func (s *flakyStore) FetchAllPending(context.Context) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, &reminder.PersistenceError{Op: "fetch_all_pending", Err: errors.New("database is locked")}
	}
	return append([]reminder.Reminder(nil), s.rows...), nil
}

func (s *flakyStore) Get(_ context.Context, id int64) (reminder.Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r, true, nil
		}
	}
	return reminder.Reminder{}, false, nil
}

func (s *flakyStore) FindByMessageID(context.Context, string) ([]reminder.Reminder, error) {
	return nil, nil
}

func (s *flakyStore) ListByUser(context.Context, string) ([]reminder.Reminder, error) {
	return nil, nil
}

func TestRecoverWithRetry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &flakyStore{failures: 2, rows: []reminder.Reminder{
		{ID: 1, UserID: "1", MessageID: "1:1", ChannelID: "1", TriggerTime: now.Add(-time.Hour)},
		{ID: 2, UserID: "1", MessageID: "1:2", ChannelID: "1", TriggerTime: now.Add(time.Hour)},
	}}
	var sent []int64
	var mu sync.Mutex
	gw := reminder.GatewayFunc(func(_ context.Context, d reminder.Delivery) error {
		mu.Lock()
		sent = append(sent, d.ReminderID)
		mu.Unlock()
		return nil
	})
	d := reminder.NewDispatcher(store, gw, nil, reminder.DispatcherConfig{}, logx.Nop(), nil)

	rep, err := recoverWithRetry(context.Background(), store, d, func() time.Time { return now }, 3, time.Millisecond, logx.Nop())
	if err != nil {
		t.Fatalf("recoverWithRetry: %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("FetchAllPending calls = %d, want 3", store.calls)
	}
	if rep.Pending != 2 || rep.Overdue != 1 || rep.Delivered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(sent) != 1 || sent[0] != 1 || len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Fatalf("sent = %v, deleted = %v", sent, store.deleted)
	}
}

func TestRecoverWithRetryGivesUp(t *testing.T) {
	t.Parallel()
	store := &flakyStore{failures: 10}
	d := reminder.NewDispatcher(store, reminder.GatewayFunc(func(context.Context, reminder.Delivery) error { return nil }),
		nil, reminder.DispatcherConfig{}, logx.Nop(), nil)

	_, err := recoverWithRetry(context.Background(), store, d, nil, 2, time.Millisecond, logx.Nop())
	if err == nil || !strings.Contains(err.Error(), "gave up after 2 attempts") {
		t.Fatalf("err = %v", err)
	}
	var pe *reminder.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want wrapped PersistenceError", err)
	}
	if store.calls != 2 {
		t.Fatalf("calls = %d, want 2", store.calls)
	}
}

func TestRecoverWithRetryHonorsCancel(t *testing.T) {
	t.Parallel()
	store := &flakyStore{failures: 10}
	d := reminder.NewDispatcher(store, reminder.GatewayFunc(func(context.Context, reminder.Delivery) error { return nil }),
		nil, reminder.DispatcherConfig{}, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := recoverWithRetry(ctx, store, d, nil, 5, time.Hour, logx.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestShutdownStepBoundsSlowStep(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	shutdownStep(context.Background(), logx.Nop(), "stuck", 150*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	if took := time.Since(start); took > time.Second {
		t.Fatalf("shutdownStep blocked for %v", took)
	}
}

func TestShutdownStepRunsPastCallerDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	ran := make(chan error, 1)
	shutdownStep(ctx, logx.Nop(), "close", time.Second, func(c context.Context) error {
		ran <- c.Err()
		return nil
	})
	select {
	case err := <-ran:
		if err != nil {
			t.Fatalf("step ctx already done: %v", err)
		}
	default:
		t.Fatal("step did not run")
	}
}

func TestShutdownStepRecoversPanic(t *testing.T) {
	t.Parallel()
	shutdownStep(context.Background(), logx.Nop(), "boom", time.Second, func(context.Context) error {
		panic("close twice")
	})
}
