package reminder

import (
	"context"
	"time"

	logx "remindbot/pkg/logx"
)

// RecoveryReport summarizes the startup pass.
type RecoveryReport struct {
	Pending   int           `json:"pending"`
	Overdue   int           `json:"overdue"`
	Delivered int           `json:"delivered"`
	Retried   int           `json:"retried"`
	Dropped   int           `json:"dropped"`
	Skipped   int           `json:"skipped"`
	Took      time.Duration `json:"took"`
}

// Recover dispatches every reminder that became due while the process was
// down. It must complete before the scanner's first cycle. Reminders in the
// future are left for the scanner.
//
// Overdue reminders go through d sequentially and in trigger order, sharing
// the same lock set as the scanner.
func Recover(ctx context.Context, store Store, d *Dispatcher, now time.Time, log logx.Logger) (RecoveryReport, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	start := time.Now()
	var rep RecoveryReport

	pending, err := store.FetchAllPending(ctx)
	if err != nil {
		rep.Took = time.Since(start)
		return rep, persistErr("fetch_all_pending", err)
	}
	rep.Pending = len(pending)

	for _, r := range pending {
		if !r.Due(now) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		rep.Overdue++
		switch d.Dispatch(ctx, r) {
		case OutcomeDelivered, OutcomeDeliveredPendingDelete:
			rep.Delivered++
		case OutcomeRetry:
			rep.Retried++
		case OutcomeDropped:
			rep.Dropped++
		default:
			rep.Skipped++
		}
	}
	rep.Took = time.Since(start)

	log.Info("recovery completed",
		logx.Int("pending", rep.Pending),
		logx.Int("overdue", rep.Overdue),
		logx.Int("delivered", rep.Delivered),
		logx.Int("retried", rep.Retried),
		logx.Int("dropped", rep.Dropped),
		logx.Duration("took", rep.Took),
	)
	return rep, ctx.Err()
}
