package commands

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport/telegram/router"
)

// Status is a point-in-time view of the engine for operators.
type Status struct {
	StartedAt time.Time
	Driver    string

	Pending    int
	PendingErr error
	InFlight   int

	Recovery *reminder.RecoveryReport
	LastScan *reminder.ScanReport

	ScannerRunning bool
	EventsDropped  uint64

	Subsystems []string
	Goroutines map[string][]supervisor.GoroutineStats
}

type StatusSource interface {
	Status(ctx context.Context) Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func(ctx context.Context) Status

func (f StatusFunc) Status(ctx context.Context) Status { return f(ctx) }

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, renderStatus(h.d.Status.Status(ctx), h.now()))
}

func renderStatus(st Status, now time.Time) string {
	var b strings.Builder
	b.WriteString("🩺 <b>Status</b>\n")
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "uptime: %s\n", now.Sub(st.StartedAt).Truncate(time.Second))
	}
	if st.Driver != "" {
		fmt.Fprintf(&b, "store: %s\n", html.EscapeString(st.Driver))
	}
	if st.PendingErr != nil {
		fmt.Fprintf(&b, "pending: ? (%s)\n", html.EscapeString(st.PendingErr.Error()))
	} else {
		fmt.Fprintf(&b, "pending: %d\n", st.Pending)
	}
	fmt.Fprintf(&b, "in flight: %d\n", st.InFlight)
	scanner := "stopped"
	if st.ScannerRunning {
		scanner = "running"
	}
	fmt.Fprintf(&b, "scanner: %s\n", scanner)
	if st.EventsDropped > 0 {
		fmt.Fprintf(&b, "events dropped: %d\n", st.EventsDropped)
	}

	if r := st.Recovery; r != nil {
		fmt.Fprintf(&b, "\n<b>Recovery</b>\noverdue %d, delivered %d, retried %d, dropped %d (%s)\n",
			r.Overdue, r.Delivered, r.Retried, r.Dropped, r.Took.Truncate(time.Millisecond))
	}
	if s := st.LastScan; s != nil {
		fmt.Fprintf(&b, "\n<b>Last scan</b> %s ago\ndue %d, delivered %d, retried %d, dropped %d, skipped %d (%s)\n",
			now.Sub(s.Now).Truncate(time.Second), s.Fetched, s.Delivered+s.Pending, s.Retried, s.Dropped, s.Skipped, s.Took.Truncate(time.Millisecond))
	}

	if len(st.Subsystems) > 0 {
		b.WriteString("\n<b>Goroutines</b>\n<pre>")
		for _, name := range st.Subsystems {
			for _, g := range st.Goroutines[name] {
				fmt.Fprintf(&b, "%s/%s active=%d restarts=%d panics=%d",
					html.EscapeString(name), html.EscapeString(g.Name), g.Active, g.Restarts, g.Panics)
				if g.LastErr != "" {
					b.WriteString(" err=" + html.EscapeString(g.LastErr))
				}
				b.WriteByte('\n')
			}
		}
		b.WriteString("</pre>")
	}
	return strings.TrimRight(b.String(), "\n")
}
