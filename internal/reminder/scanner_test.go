package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func newTestScanner(st Store, gw Gateway, clk *fakeClock, workers int) *Scanner {
	d := newTestDispatcher(st, gw)
	return NewScanner(st, d, ScannerConfig{Interval: time.Second, Workers: workers}, logx.Nop(), nil, clk.Now)
}

func TestScanPingScenario(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := &recordingGateway{}
	svc := NewService(st, logx.Nop(), nil, clk.Now)

	id, err := svc.Create(context.Background(), CreateRequest{
		UserID:      "u1",
		MessageID:   "m1",
		Content:     "ping",
		TriggerTime: clk.Now().Add(time.Second),
		ChannelID:   "c1",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	sc := newTestScanner(st, gw, clk, 4)
	rep, err := sc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if rep.Fetched != 0 || len(gw.deliveries()) != 0 {
		t.Fatalf("reminder dispatched before its trigger time: %+v", rep)
	}

	clk.Advance(2 * time.Second)
	rep, err = sc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if rep.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1", rep.Delivered)
	}
	sent := gw.deliveries()
	if len(sent) != 1 || sent[0].ChannelID != "c1" || sent[0].Text != "ping" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}
	if st.has(id) {
		t.Fatal("reminder still in store after delivery")
	}
}

func TestScanOrdersByTriggerTimeThenID(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := &recordingGateway{}
	base := clk.Now()

	seed(t, st, "u1", "m1", "c1", "third", base.Add(-1*time.Minute))
	seed(t, st, "u1", "m2", "c1", "first", base.Add(-3*time.Minute))
	seed(t, st, "u1", "m3", "c1", "second", base.Add(-3*time.Minute))
	seed(t, st, "u1", "m4", "c1", "future", base.Add(time.Minute))

	rep, err := newTestScanner(st, gw, clk, 1).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if rep.Fetched != 3 || rep.Delivered != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	want := []string{"first", "second", "third"}
	sent := gw.deliveries()
	for i, w := range want {
		if sent[i].Text != w {
			t.Fatalf("send[%d] = %q, want %q", i, sent[i].Text, w)
		}
	}
	if st.len() != 1 {
		t.Fatalf("rows = %d, want 1 (future reminder)", st.len())
	}
}

func TestOverlappingScansSendOnce(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := newBlockingGateway()
	seed(t, st, "u1", "m1", "c1", "ping", clk.Now().Add(-time.Second))

	sc := newTestScanner(st, gw, clk, 4)
	first := make(chan ScanReport, 1)
	go func() {
		rep, _ := sc.RunOnce(context.Background())
		first <- rep
	}()
	waitStarted(t, gw)

	second, err := sc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce error: %v", err)
	}
	if second.Fetched != 1 || second.Skipped != 1 {
		t.Fatalf("overlapping cycle should skip the in-flight reminder: %+v", second)
	}

	close(gw.release)
	if rep := <-first; rep.Delivered != 1 {
		t.Fatalf("first cycle Delivered = %d, want 1", rep.Delivered)
	}

	third, err := sc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("third RunOnce error: %v", err)
	}
	if third.Fetched != 0 {
		t.Fatalf("retired reminder fetched again: %+v", third)
	}
	if n := len(gw.deliveries()); n != 1 {
		t.Fatalf("sends = %d, want 1", n)
	}
}

func TestScanStoreOutage(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := &recordingGateway{}
	id := seed(t, st, "u1", "m1", "c1", "ping", clk.Now().Add(-time.Second))
	sc := newTestScanner(st, gw, clk, 2)

	st.set(func(m *memStore) { m.failFetch = errStoreDown })
	_, err := sc.RunOnce(context.Background())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("RunOnce error = %v, want *PersistenceError", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("PersistenceError should wrap the store error, got %v", err)
	}

	st.set(func(m *memStore) { m.failFetch = nil })
	rep, err := sc.RunOnce(context.Background())
	if err != nil || rep.Delivered != 1 {
		t.Fatalf("scanner did not resume after outage: rep=%+v err=%v", rep, err)
	}
	if st.has(id) {
		t.Fatal("row still present after resumed delivery")
	}
}

func TestScanTransientFailureRetriesNextCycle(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	st := newMemStore()
	gw := &recordingGateway{err: Transient(errors.New("i/o timeout"))}
	id := seed(t, st, "u1", "m1", "c1", "ping", clk.Now().Add(-time.Second))
	sc := newTestScanner(st, gw, clk, 2)

	rep, _ := sc.RunOnce(context.Background())
	if rep.Retried != 1 || !st.has(id) {
		t.Fatalf("transient failure should keep the row: %+v", rep)
	}

	gw.setErr(nil)
	clk.Advance(5 * time.Second)
	rep, _ = sc.RunOnce(context.Background())
	if rep.Delivered != 1 || st.has(id) {
		t.Fatalf("retry cycle did not deliver: %+v", rep)
	}
}

func TestScannerLoopDelivers(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	gw := &recordingGateway{}
	seed(t, st, "u1", "m1", "c1", "ping", time.Now().Add(-time.Second))

	d := newTestDispatcher(st, gw)
	sc := NewScanner(st, d, ScannerConfig{Interval: time.Second}, logx.Nop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc.Start(ctx)
	if !sc.Running() {
		t.Fatal("scanner should be running after Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(gw.deliveries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	sc.Stop(stopCtx)
	if sc.Running() {
		t.Fatal("scanner still running after Stop")
	}
	if n := len(gw.deliveries()); n != 1 {
		t.Fatalf("sends = %d, want 1", n)
	}
}
