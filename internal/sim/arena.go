package sim

import (
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Arena assigns per-kind IDs to entities and resolves keys back to them.
// Entries live for the duration of a run.
type Arena struct {
	clock *Clock

	mu    sync.RWMutex
	next  map[domain.Kind]int64
	items map[domain.Key]any
}

// NewArena creates an arena stamping creation times from clock.
func NewArena(clock *Clock) *Arena {
	if clock == nil {
		clock = &Clock{}
	}
	return &Arena{
		clock: clock,
		next:  make(map[domain.Kind]int64),
		items: make(map[domain.Key]any),
	}
}

// Now returns the current tick of the arena's clock.
func (a *Arena) Now() domain.Tick {
	return a.clock.Now()
}

// Stamp reserves the next ID for kind and returns the identity block a
// new entity embeds.
func (a *Arena) Stamp(kind domain.Kind) Meta {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next[kind]
	a.next[kind] = id + 1
	return Meta{
		key:       domain.Key{Kind: kind, ID: id},
		createdAt: a.clock.Now(),
	}
}

// Put stores v under key, replacing any previous value.
func (a *Arena) Put(key domain.Key, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[key] = v
}

// Get returns the value stored under key.
func (a *Arena) Get(key domain.Key) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.items[key]
	return v, ok
}

// Len returns the number of stored entities.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// Lookup resolves key to a value of type T.
func Lookup[T any](a *Arena, key domain.Key) (T, bool) {
	var zero T
	v, ok := a.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
