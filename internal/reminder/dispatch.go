package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// Outcome is the result of a single Dispatch call.
type Outcome int

const (
	// OutcomeSkipped: lock held elsewhere or the row was already retired.
	OutcomeSkipped Outcome = iota
	// OutcomeDelivered: sent and retired.
	OutcomeDelivered
	// OutcomeDeliveredPendingDelete: sent, but the delete failed. The next scan
	// will deliver it again.
	OutcomeDeliveredPendingDelete
	// OutcomeRetry: not sent (or not confirmed); the row is kept.
	OutcomeRetry
	// OutcomeDropped: permanent failure; the row is retired unsent.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDeliveredPendingDelete:
		return "delivered_pending_delete"
	case OutcomeRetry:
		return "retry"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// DispatcherConfig controls gateway calls.
//
// Defaults (when fields are zero):
//   - send_timeout: 10s
//   - rate_per_sec: 20
//   - delete_timeout: 5s
type DispatcherConfig struct {
	SendTimeout   time.Duration
	RatePerSec    int
	DeleteTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher turns a due reminder into exactly one delivery attempt.
type Dispatcher struct {
	store Store
	gw    Gateway
	locks *LockSet
	log   logx.Logger
	bus   eventbus.Bus

	mu      sync.Mutex
	cfg     DispatcherConfig
	limiter *rate.Limiter
}

func NewDispatcher(store Store, gw Gateway, locks *LockSet, cfg DispatcherConfig, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if locks == nil {
		locks = NewLockSet()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		store:   store,
		gw:      gw,
		locks:   locks,
		log:     log,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply swaps timeouts and the send rate at runtime.
func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.RatePerSec != d.cfg.RatePerSec {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	d.cfg = cfg
}

func (d *Dispatcher) Locks() *LockSet { return d.locks }

// Dispatch delivers r and retires it. It never returns an error: every
// failure is resolved into an Outcome, logged, and published.
func (d *Dispatcher) Dispatch(ctx context.Context, r Reminder) Outcome {
	if !d.locks.TryAcquire(r.ID) {
		d.log.Debug("dispatch in progress elsewhere", logx.Int64("id", r.ID))
		publish(d.bus, EventSkipped, r, nil)
		return OutcomeSkipped
	}
	defer d.locks.Release(r.ID)

	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	log := d.log.With(logx.Int64("id", r.ID), logx.String("channel", r.ChannelID))

	// A scan snapshot can be stale: an earlier holder may have retired the row
	// or the user cancelled it.
	_, ok, err := d.store.Get(ctx, r.ID)
	if err != nil {
		log.Warn("dispatch recheck failed; will retry", logx.Err(err))
		publish(d.bus, EventRetry, r, err)
		return OutcomeRetry
	}
	if !ok {
		log.Debug("reminder already retired")
		publish(d.bus, EventSkipped, r, nil)
		return OutcomeSkipped
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			publish(d.bus, EventRetry, r, err)
			return OutcomeRetry
		}
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	sendErr := d.gw.Send(sctx, deliveryFor(r))
	cancel()

	if sendErr == nil {
		removed, err := d.retire(ctx, cfg, r.ID)
		if err != nil {
			log.Warn("delete after send failed; reminder will be delivered again", logx.Err(err))
			publish(d.bus, EventRedeliveryPending, r, err)
			return OutcomeDeliveredPendingDelete
		}
		if !removed {
			log.Debug("reminder removed concurrently after send")
		}
		log.Info("reminder delivered", logx.String("user", r.UserID), logx.Duration("lag", time.Since(r.TriggerTime)))
		publish(d.bus, EventDelivered, r, nil)
		return OutcomeDelivered
	}

	if IsPermanent(sendErr) {
		if _, err := d.retire(ctx, cfg, r.ID); err != nil {
			log.Warn("delete after permanent failure failed; will retry", logx.Err(err), logx.String("send_err", sendErr.Error()))
			publish(d.bus, EventRetry, r, err)
			return OutcomeRetry
		}
		log.Error("reminder dropped: permanent delivery failure", logx.String("user", r.UserID), logx.Err(sendErr))
		publish(d.bus, EventDropped, r, sendErr)
		return OutcomeDropped
	}

	fields := []logx.Field{logx.Err(sendErr)}
	var te *TransientDeliveryError
	if errors.As(sendErr, &te) && te.RetryAfter > 0 {
		fields = append(fields, logx.Duration("retry_after", te.RetryAfter))
	}
	log.Warn("send failed; reminder kept for retry", fields...)
	publish(d.bus, EventRetry, r, sendErr)
	return OutcomeRetry
}

// retire deletes the row on a context detached from the caller so a confirmed
// send is still retired while the app is shutting down.
func (d *Dispatcher) retire(ctx context.Context, cfg DispatcherConfig, id int64) (bool, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.DeleteTimeout)
	defer cancel()
	return d.store.Delete(dctx, id)
}
