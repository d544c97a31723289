package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/commands"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	sups *router.SupervisorRegistry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	// driver is reported by /status; storage changes need a restart.
	driver string

	adapter *telegram.Adapter

	reminders *reminder.Service
	disp      *reminder.Dispatcher
	scanner   *reminder.Scanner
	attempts  int

	cmds *router.Manager

	startedAt time.Time
	loc       atomic.Pointer[time.Location]
	recovery  atomic.Pointer[reminder.RecoveryReport]
	lastScan  atomic.Pointer[reminder.ScanReport]

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poll, err := pollTimeout(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	scfg, err := mapScannerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	disp := reminder.NewDispatcher(store, telegram.NewGateway(ad), reminder.NewLockSet(), dcfg,
		log.With(logx.String("comp", "dispatch")), bus)

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		sups:      router.NewSupervisorRegistry(),
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		driver:    sc.Driver,
		adapter:   ad,
		reminders: reminder.NewService(store, log.With(logx.String("comp", "reminders")), bus, nil),
		disp:      disp,
		scanner:   reminder.NewScanner(store, disp, scfg, log.With(logx.String("comp", "scanner")), bus, nil),
		attempts:  recoveryAttempts(cfg),
		cmds:      router.NewManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs),
		updates:   make(chan kit.Update, 256),
	}
	loc, _ := cfg.Location()
	a.loc.Store(loc)

	h := commands.New(commands.Deps{
		Reminders: a.reminders,
		Location:  a.loc.Load,
		Status:    commands.StatusFunc(a.status),
	})
	a.cmds.SetCommands(h.Commands())
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs recovery, then starts the scanner, the Telegram adapter and the
// command dispatcher. After an error the caller still calls Stop to release
// the store.
func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.sups.Set("app", func() *supervisor.Supervisor { return a.sup })
	a.sups.Set("telegram.adapter", a.adapter.Supervisor)
	a.sups.Set("commands", a.cmds.Supervisor)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// transactional reload: a file that fails validation is never published
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// Events are consumed from here on so recovery outcomes are logged too.
	a.startEventLog()

	rep, err := recoverWithRetry(a.sup.Context(), a.store, a.disp, nil, a.attempts, 0,
		a.log.With(logx.String("comp", "recovery")))
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("startup recovery: %w", err)
	}
	a.recovery.Store(&rep)

	a.scanner.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.cmds.Menu()); err != nil {
			a.log.Warn("menu commands update failed", logx.Err(err))
		}
	})

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	startWatchdog(a.sup, a.log)

	a.log.Info("app started",
		logx.Int("recovered", rep.Delivered),
		logx.Int("pending", rep.Pending-rep.Overdue),
	)
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch d := e.Data.(type) {
				case reminder.ScanReport:
					a.lastScan.Store(&d)
				case reminder.Event:
					fields := []logx.Field{logx.String("type", e.Type), logx.Int64("id", d.ID)}
					if d.Error != "" {
						fields = append(fields, logx.String("err", d.Error))
					}
					a.log.Debug("event", fields...)
				default:
					a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				a.applyConfig(lastApplied, newCfg, sections)
				lastApplied = newCfg

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(old, cfg *config.Config, sections []string) {
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if old != nil && (old.Telegram.Token != cfg.Telegram.Token || old.Telegram.PollTimeout != cfg.Telegram.PollTimeout) {
		a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.cmds.SetOwners(cfg.Telegram.OwnerUserIDs)

	if loc, err := cfg.Location(); err == nil {
		a.loc.Store(loc)
	}
	if sc, err := mapScannerConfig(cfg); err != nil {
		a.log.Warn("invalid scanner config; keeping previous", logx.Err(err))
	} else {
		a.scanner.Apply(sc)
	}
	if dc, err := mapDispatchConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}
}

func (a *App) status(ctx context.Context) commands.Status {
	st := commands.Status{
		StartedAt:      a.startedAt,
		Driver:         a.driver,
		InFlight:       a.disp.Locks().Len(),
		Recovery:       a.recovery.Load(),
		LastScan:       a.lastScan.Load(),
		ScannerRunning: a.scanner.Running(),
	}
	if rows, err := a.store.FetchAllPending(ctx); err != nil {
		st.PendingErr = err
	} else {
		st.Pending = len(rows)
	}
	if s, ok := a.bus.(eventbus.Stats); ok {
		st.EventsDropped = s.Dropped()
	}
	st.Subsystems, st.Goroutines = a.sups.Stats()
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		shutdownStep(ctx, a.log, name, limit, fn)
	}

	// The scanner goes first so in-flight dispatches can finish before the
	// run context is cancelled.
	step("scanner", 5*time.Second, func(c context.Context) error { a.scanner.Stop(c); return nil })

	a.sup.Cancel()

	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
