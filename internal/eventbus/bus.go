package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal about something that already happened
// (a reminder delivered, a scan finished). Nothing depends on receiving it:
// Publish never blocks and slow subscribers lose events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Stats is implemented by buses that count dropped deliveries.
type Stats interface {
	Dropped() uint64
}

const defaultBuffer = 8

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &bus{subs: map[*subscription]struct{}{}}
}

type subscription struct {
	ch chan Event
}

type bus struct {
	// mu is read-held for the whole fanout so remove cannot close a channel
	// that is being sent on. Sends never block.
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Uint64
}

// Publish stamps e.Time (UTC) when unset and offers e to every subscriber.
func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Time = e.Time.UTC()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered receiver. The returned func removes it and
// closes the channel; calling it again is a no-op.
func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscription{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { b.remove(s) }) }
}

func (b *bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	close(s.ch)
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }
