package recording

import (
	"sort"
	"sync"

	"github.com/danmuck/handstream/internal/observability"
)

// Registry stores finished recordings by name.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Recording
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Recording)}
}

// Register adds rec, replacing any recording with the same name. It
// reports whether one was replaced.
func (r *Registry) Register(rec *Recording) bool {
	if rec == nil {
		return false
	}
	r.mu.Lock()
	_, replaced := r.items[rec.Name]
	r.items[rec.Name] = rec
	n := len(r.items)
	r.mu.Unlock()
	observability.SetRecordingsRegistered(n)
	return replaced
}

func (r *Registry) Resolve(name string) (*Recording, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[name]
	return rec, ok
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, ok := r.items[name]
	delete(r.items, name)
	n := len(r.items)
	r.mu.Unlock()
	observability.SetRecordingsRegistered(n)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// List returns deterministic info ordering by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Info, 0, len(r.items))
	for _, rec := range r.items {
		list = append(list, rec.Info())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}
