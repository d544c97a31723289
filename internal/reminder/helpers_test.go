package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

var errStoreDown = errors.New("database is locked")

type memStore struct {
	mu   sync.Mutex
	next int64
	rows map[int64]Reminder

	failFetch  error
	failDelete error
	failGet    error
	deletes    int
}

func newMemStore() *memStore { return &memStore{rows: map[int64]Reminder{}} }

func (m *memStore) Create(_ context.Context, r Reminder) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.rows {
		if ex.UserID == r.UserID && ex.MessageID == r.MessageID {
			return ex.ID, nil
		}
	}
	m.next++
	r.ID = m.next
	m.rows[r.ID] = r
	return r.ID, nil
}

func (m *memStore) sorted(keep func(Reminder) bool) []Reminder {
	out := make([]Reminder, 0, len(m.rows))
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggerTime.Equal(out[j].TriggerTime) {
			return out[i].TriggerTime.Before(out[j].TriggerTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) FetchDue(_ context.Context, now time.Time) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFetch != nil {
		return nil, m.failFetch
	}
	return m.sorted(func(r Reminder) bool { return r.Due(now) }), nil
}

func (m *memStore) FetchAllPending(_ context.Context) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFetch != nil {
		return nil, m.failFetch
	}
	return m.sorted(func(Reminder) bool { return true }), nil
}

func (m *memStore) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return false, m.failDelete
	}
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	m.deletes++
	return true, nil
}

func (m *memStore) Get(_ context.Context, id int64) (Reminder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return Reminder{}, false, m.failGet
	}
	r, ok := m.rows[id]
	return r, ok, nil
}

func (m *memStore) FindByMessageID(_ context.Context, messageID string) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r Reminder) bool { return r.MessageID == messageID }), nil
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r Reminder) bool { return r.UserID == userID }), nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

func (m *memStore) set(fn func(m *memStore)) {
	m.mu.Lock()
	fn(m)
	m.mu.Unlock()
}

// recordingGateway records successful sends. When started/release are set,
// every call signals started and then blocks until release is closed.
type recordingGateway struct {
	mu   sync.Mutex
	sent []Delivery
	err  error

	started chan struct{}
	release chan struct{}
}

func (g *recordingGateway) Send(ctx context.Context, d Delivery) error {
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, d)
	return nil
}

func (g *recordingGateway) deliveries() []Delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Delivery(nil), g.sent...)
}

func (g *recordingGateway) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func newBlockingGateway() *recordingGateway {
	return &recordingGateway{started: make(chan struct{}, 8), release: make(chan struct{})}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func seed(t testing.TB, st *memStore, user, msg, channel, content string, at time.Time) int64 {
	t.Helper()
	id, err := st.Create(context.Background(), Reminder{
		UserID:         user,
		MessageID:      msg,
		MessageContent: content,
		ChannelID:      channel,
		TriggerTime:    at,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}

func waitStarted(t testing.TB, g *recordingGateway) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway was not called")
	}
}
