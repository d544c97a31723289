package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// ScannerConfig controls the due-time loop.
//
// Interval has one-second granularity (cron @every); smaller values run every second.
//
// Defaults (when fields are zero):
//   - interval: 5s
//   - workers: 4
//   - cycle_timeout: 30s
type ScannerConfig struct {
	Interval     time.Duration
	Workers      int
	CycleTimeout time.Duration
}

func (c ScannerConfig) withDefaults() ScannerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 30 * time.Second
	}
	return c
}

// ScanReport summarizes one scan cycle.
type ScanReport struct {
	CycleID   string        `json:"cycle_id"`
	Now       time.Time     `json:"now"`
	Fetched   int           `json:"fetched"`
	Delivered int           `json:"delivered"`
	Pending   int           `json:"pending_delete"`
	Retried   int           `json:"retried"`
	Dropped   int           `json:"dropped"`
	Skipped   int           `json:"skipped"`
	Took      time.Duration `json:"took"`
}

func (r *ScanReport) add(o Outcome) {
	switch o {
	case OutcomeDelivered:
		r.Delivered++
	case OutcomeDeliveredPendingDelete:
		r.Pending++
	case OutcomeRetry:
		r.Retried++
	case OutcomeDropped:
		r.Dropped++
	default:
		r.Skipped++
	}
}

// Scanner polls the store for due reminders and hands them to a Dispatcher.
type Scanner struct {
	store Store
	disp  *Dispatcher
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock

	mu       sync.Mutex
	cfg      ScannerConfig
	c        *cron.Cron
	entry    cron.EntryID
	runCtx   context.Context
	cancel   context.CancelFunc
	lastWarn time.Time
	failures int
}

func NewScanner(store Store, disp *Dispatcher, cfg ScannerConfig, log logx.Logger, bus eventbus.Bus, clock Clock) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{
		store: store,
		disp:  disp,
		log:   log,
		bus:   bus,
		clock: clock,
		cfg:   cfg.withDefaults(),
	}
}

// RunOnce executes a single scan cycle and waits for its dispatches.
//
// Reminders are handed off in trigger order. When ctx ends before every
// reminder was started, the rest stay in the store for the next cycle.
func (s *Scanner) RunOnce(ctx context.Context) (ScanReport, error) {
	s.mu.Lock()
	workers := s.cfg.Workers
	s.mu.Unlock()

	start := time.Now()
	rep := ScanReport{CycleID: newCycleID(), Now: s.clock.now()}

	due, err := s.store.FetchDue(ctx, rep.Now)
	if err != nil {
		rep.Took = time.Since(start)
		return rep, persistErr("fetch_due", err)
	}
	rep.Fetched = len(due)
	if len(due) == 0 {
		rep.Took = time.Since(start)
		return rep, nil
	}

	var (
		wg    sync.WaitGroup
		repMu sync.Mutex
		sem   = make(chan struct{}, workers)
	)
	for _, r := range due {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(r Reminder) {
			defer wg.Done()
			defer func() { <-sem }()
			o := s.disp.Dispatch(ctx, r)
			repMu.Lock()
			rep.add(o)
			repMu.Unlock()
		}(r)
	}
	wg.Wait()

	rep.Took = time.Since(start)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventScanCompleted, Time: time.Now(), Data: rep})
	}
	return rep, ctx.Err()
}

// Start schedules RunOnce every Interval until Stop or ctx cancellation.
// Overlapping cycles are allowed; the dispatcher absorbs duplicates.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)

	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s.entry = s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.tick))
	s.c.Start()
	s.log.Info("scanner started", logx.Duration("interval", s.cfg.Interval), logx.Int("workers", s.cfg.Workers))
}

// Stop stops scheduling new cycles, waits for running ones (bounded by ctx),
// then cancels whatever is still in flight.
func (s *Scanner) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scanner stop timed out; cancelling in-flight dispatches")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scanner stopped")
}

// Running reports whether the periodic loop is active.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Apply updates the loop settings. A changed interval takes effect immediately.
func (s *Scanner) Apply(cfg ScannerConfig) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old.Interval == cfg.Interval {
		return
	}
	s.c.Remove(s.entry)
	s.entry = s.c.Schedule(cron.Every(cfg.Interval), cron.FuncJob(s.tick))
	s.log.Info("scanner interval changed", logx.Duration("from", old.Interval), logx.Duration("to", cfg.Interval))
}

func (s *Scanner) tick() {
	s.mu.Lock()
	parent := s.runCtx
	timeout := s.cfg.CycleTimeout
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	rep, err := s.RunOnce(ctx)
	if err != nil {
		s.noteFailure(rep, err)
		return
	}
	s.noteSuccess()
	if rep.Fetched > 0 {
		s.log.Info("scan cycle completed",
			logx.String("cycle", rep.CycleID),
			logx.Int("due", rep.Fetched),
			logx.Int("delivered", rep.Delivered),
			logx.Int("retried", rep.Retried),
			logx.Int("dropped", rep.Dropped),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Took),
		)
	}
}

// noteFailure logs a failed cycle, throttled so a store outage doesn't flood logs.
func (s *Scanner) noteFailure(rep ScanReport, err error) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	now := time.Now()
	warn := now.Sub(s.lastWarn) >= 30*time.Second
	if warn {
		s.lastWarn = now
	}
	s.mu.Unlock()

	fields := []logx.Field{logx.String("cycle", rep.CycleID), logx.Int("consecutive_failures", n), logx.Err(err)}
	if warn {
		s.log.Warn("scan cycle failed", fields...)
		return
	}
	s.log.Debug("scan cycle failed", fields...)
}

func (s *Scanner) noteSuccess() {
	s.mu.Lock()
	n := s.failures
	s.failures = 0
	s.lastWarn = time.Time{}
	s.mu.Unlock()
	if n > 0 {
		s.log.Info("scan cycles recovered", logx.Int("failed_cycles", n))
	}
}

func newCycleID() string {
	id := uuid.NewString()
	return id[:8]
}

// cronLogger bridges cron.Logger onto logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	l.log.Error("cron: "+msg, fields...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
