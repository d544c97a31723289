package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// healthyRun is how long a restarted loop must survive before its backoff
// resets to the minimum.
const healthyRun = 30 * time.Second

// Supervisor runs named goroutines on a shared context and keeps per-name run
// statistics. Panics are recovered and reported as errors.
type Supervisor struct {
	ctx         context.Context
	cancel      context.CancelFunc
	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	idle     chan struct{}
	idleOnce sync.Once

	errMu sync.Mutex
	err   error

	statsMu sync.Mutex
	stats   map[string]*GoroutineStats
}

type SupervisorOption func(*Supervisor)

// GoroutineStats aggregates the runs of every goroutine sharing a name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
}

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure that is
// not retried.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
		stats:  map[string]*GoroutineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.setErr(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Snapshot returns per-name stats, active names first.
func (s *Supervisor) Snapshot() []GoroutineStats {
	s.statsMu.Lock()
	out := make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.statsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active > out[j].Active
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Supervisor) begin(name string, restart bool) time.Time {
	now := time.Now()
	s.statsMu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		s.stats[name] = st
	}
	st.Started++
	st.Active++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = now
	s.statsMu.Unlock()
	s.log.Debug("goroutine started", logx.String("name", name), logx.Bool("restart", restart))
	return now
}

func (s *Supervisor) end(name string, err error, panicked bool) {
	s.statsMu.Lock()
	if st := s.stats[name]; st != nil {
		if st.Active > 0 {
			st.Active--
		}
		if panicked {
			st.Panics++
		}
		if err != nil {
			st.LastErr = err.Error()
		}
	}
	s.statsMu.Unlock()
}

// call runs fn once, turning a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			panicked, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	return false, fn(s.ctx)
}

// Go runs fn once. An error (other than cancellation) or a panic becomes the
// supervisor's first error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, fn, nil)
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, noErr(fn))
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff   time.Duration
	maxBackoff   time.Duration
	limit        int // restarts allowed; <=0 is unlimited
	restartClean bool
	surface      bool
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if lo > 0 {
			p.minBackoff = lo
		}
		if hi > 0 {
			p.maxBackoff = hi
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// WithPublishFirstError records each failure as the supervisor's Err (first
// one wins) while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.surface = enabled }
}

// WithStopOnCleanExit(false) treats a nil return as a failure to restart from.
// By default a nil return ends the loop.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.restartClean = !enabled }
}

// GoRestart runs fn and restarts it after an error or panic until the shared
// context is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := &restartPolicy{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(p)
	}
	p.maxBackoff = max(p.maxBackoff, p.minBackoff)
	s.spawn(name, fn, p)
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, noErr(fn), opts...)
}

func noErr(fn func(ctx context.Context)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fn(ctx)
		return nil
	}
}

func (s *Supervisor) spawn(name string, fn func(ctx context.Context) error, p *restartPolicy) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(name, fn, p)
	}()
}

// run executes fn under p. A nil policy runs it exactly once.
func (s *Supervisor) run(name string, fn func(ctx context.Context) error, p *restartPolicy) {
	var (
		rng      *rand.Rand
		backoff  time.Duration
		restarts int
	)
	if p != nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		backoff = p.minBackoff
	}

	for {
		began := s.begin(name, restarts > 0)
		panicked, err := s.call(name, fn)

		// Returning because of shutdown is a clean stop.
		if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.end(name, nil, panicked)
			return
		}
		if err == nil {
			if p == nil || !p.restartClean {
				s.end(name, nil, false)
				return
			}
			err = errors.New("exited")
		}
		err = fmt.Errorf("%s: %w", name, err)
		s.end(name, err, panicked)

		if p == nil {
			s.fail(err)
			return
		}
		if p.surface {
			s.setErr(err)
		}
		restarts++
		if p.limit > 0 && restarts > p.limit {
			s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts-1), logx.Err(err))
			s.fail(err)
			return
		}

		if time.Since(began) >= healthyRun {
			backoff = p.minBackoff
		}
		wait := backoff + time.Duration(rng.Int63n(int64(backoff)/5+1))
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		if !s.sleep(wait) {
			return
		}
		backoff = min(backoff*2, p.maxBackoff)
	}
}

// sleep waits for d and reports false when the context ends first.
func (s *Supervisor) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.idleOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}
