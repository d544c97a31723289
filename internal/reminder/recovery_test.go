package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func TestRecoverDispatchesOnlyOverdue(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := &recordingGateway{}
	now := clk.Now()

	for i, off := range []time.Duration{-3 * time.Hour, -10 * time.Minute, -time.Second} {
		seed(t, st, "u1", "over"+string(rune('a'+i)), "c1", "overdue", now.Add(off))
	}
	future := []int64{
		seed(t, st, "u1", "fut-a", "c1", "later", now.Add(time.Minute)),
		seed(t, st, "u1", "fut-b", "c1", "later", now.Add(24*time.Hour)),
	}

	rep, err := Recover(context.Background(), st, newTestDispatcher(st, gw), now, logx.Nop())
	if err != nil {
		t.Fatalf("Recover error: %v", err)
	}
	if rep.Pending != 5 || rep.Overdue != 3 || rep.Delivered != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if n := len(gw.deliveries()); n != 3 {
		t.Fatalf("sends = %d, want 3", n)
	}
	for _, d := range gw.deliveries() {
		if d.Text != "overdue" {
			t.Fatalf("future reminder dispatched: %+v", d)
		}
	}
	for _, id := range future {
		if !st.has(id) {
			t.Fatalf("future reminder %d removed", id)
		}
	}
}

func TestRecoverThenScanDoesNotDuplicate(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := &recordingGateway{}
	seed(t, st, "u1", "m1", "c1", "ping", clk.Now().Add(-time.Hour))

	d := newTestDispatcher(st, gw)
	if _, err := Recover(context.Background(), st, d, clk.Now(), logx.Nop()); err != nil {
		t.Fatalf("Recover error: %v", err)
	}
	sc := NewScanner(st, d, ScannerConfig{}, logx.Nop(), nil, clk.Now)
	if _, err := sc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n := len(gw.deliveries()); n != 1 {
		t.Fatalf("sends = %d, want 1", n)
	}
}

func TestRecoverStoreFailure(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.set(func(m *memStore) { m.failFetch = errStoreDown })
	_, err := Recover(context.Background(), st, newTestDispatcher(st, &recordingGateway{}), time.Now(), logx.Nop())
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "fetch_all_pending" {
		t.Fatalf("Recover error = %v, want *PersistenceError(fetch_all_pending)", err)
	}
}
