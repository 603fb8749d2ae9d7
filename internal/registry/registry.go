package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/podushkina/taskpool/internal/task"
)

// Registry maps task types to handlers. It accepts registrations until
// Freeze is called, after which it is read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.Type]task.Handler
	frozen   bool
}

func New() *Registry {
	return &Registry{
		handlers: make(map[task.Type]task.Handler),
	}
}

func (r *Registry) Register(typ task.Type, h task.Handler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", typ, task.ErrRegistryFrozen)
	}
	if _, ok := r.handlers[typ]; ok {
		return fmt.Errorf("register %s: %w", typ, task.ErrDuplicateHandler)
	}
	r.handlers[typ] = h
	return nil
}

// MustRegister is Register for wiring code that cannot recover.
func (r *Registry) MustRegister(typ task.Type, h task.Handler) {
	if err := r.Register(typ, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(typ task.Type) (task.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrUnknownTaskType, typ)
	}
	return h, nil
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []task.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]task.Type, 0, len(r.handlers))
	for typ := range r.handlers {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
