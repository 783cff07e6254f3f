package actions

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/getpup/configsync"
)

// Handler runs an action on this process.
type Handler func(ctx context.Context) error

// Binding is a local, never persisted association between an action ID and its handler.
type Binding struct {
	ActionID string
	Handler  Handler

	// Unique actions run on at most one process per record; the others run on
	// every process that observes the record.
	Unique bool
}

// RegisterOption configures a Binding.
type RegisterOption func(*Binding)

// Unique marks the binding as unique.
func Unique() RegisterOption {
	return func(b *Binding) {
		b.Unique = true
	}
}

// Func adapts a function without context or result, such as a cache clear.
func Func(fn func()) Handler {
	return func(context.Context) error {
		fn()
		return nil
	}
}

// BindArgs captures a at registration time and returns a handler calling fn with it.
func BindArgs[A any](fn func(context.Context, A) error, a A) Handler {
	return func(ctx context.Context) error {
		return fn(ctx, a)
	}
}

// Registry holds the handler bindings of this process.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register binds h to actionID. Registering an ID again replaces the previous
// binding.
func (r *Registry) Register(actionID string, h Handler, opts ...RegisterOption) error {
	if strings.TrimSpace(actionID) == "" {
		return configsync.ErrInvalidActionID
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrNilHandler, actionID)
	}

	b := Binding{ActionID: actionID, Handler: h}
	for _, opt := range opts {
		opt(&b)
	}

	r.mu.Lock()
	r.bindings[actionID] = b
	r.mu.Unlock()
	return nil
}

// List returns the bindings in action ID order. The sequence is evaluated on
// every iteration, so it reflects the registry at the time it is ranged over.
func (r *Registry) List() iter.Seq[Binding] {
	return func(yield func(Binding) bool) {
		for _, b := range r.snapshot() {
			if !yield(b) {
				return
			}
		}
	}
}

func (r *Registry) snapshot() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Collect(maps.Values(r.bindings))
	slices.SortFunc(out, func(a, b Binding) int { return strings.Compare(a.ActionID, b.ActionID) })
	return out
}

// Lookup returns the binding of actionID.
func (r *Registry) Lookup(actionID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[actionID]
	return b, ok
}

// UniqueIDs returns the sorted IDs of unique bindings.
func (r *Registry) UniqueIDs() []string {
	var ids []string
	for b := range r.List() {
		if b.Unique {
			ids = append(ids, b.ActionID)
		}
	}
	return ids
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
