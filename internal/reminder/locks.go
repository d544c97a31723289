package reminder

import "sync"

// LockSet is the per-reminder dispatch gate. At most one holder per id.
//
// It is process-local; the app creates one and shares it between the scanner
// and the recovery pass.
type LockSet struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLockSet() *LockSet {
	return &LockSet{held: map[int64]struct{}{}}
}

// TryAcquire takes the lock for id without blocking.
func (l *LockSet) TryAcquire(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[int64]struct{}{}
	}
	if _, busy := l.held[id]; busy {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *LockSet) Release(id int64) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// Len returns the number of reminders currently being dispatched.
func (l *LockSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
