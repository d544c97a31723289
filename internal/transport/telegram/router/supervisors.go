package router

import (
	"sort"
	"sync"

	"remindbot/internal/runtime/supervisor"
)

// SupervisorRegistry tracks subsystem supervisors for /status.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]func() *supervisor.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]func() *supervisor.Supervisor{}}
}

// Set registers a getter under name; the getter may return nil while the
// subsystem is stopped. A nil getter deletes the entry.
func (r *SupervisorRegistry) Set(name string, get func() *supervisor.Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if get == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = get
}

// Stats returns goroutine stats of every running subsystem, keyed by
// subsystem name, in name order.
func (r *SupervisorRegistry) Stats() ([]string, map[string][]supervisor.GoroutineStats) {
	r.mu.RLock()
	getters := make(map[string]func() *supervisor.Supervisor, len(r.m))
	for k, v := range r.m {
		getters[k] = v
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(getters))
	out := make(map[string][]supervisor.GoroutineStats, len(getters))
	for name, get := range getters {
		sup := get()
		if sup == nil {
			continue
		}
		names = append(names, name)
		out[name] = sup.Snapshot()
	}
	sort.Strings(names)
	return names, out
}
