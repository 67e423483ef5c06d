package notifyable

import (
	"sync"

	"github.com/doevelopper/Clusterlib/clerr"
)

// State is an entity's lifecycle state: it only ever moves forward,
// INIT -> READY -> REMOVED.
type State int32

const (
	StateInit State = iota
	StateReady
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// entityMutex is a recursive mutex keyed by caller-supplied holder id:
// the same holder may re-enter while a different holder blocks. Go has
// no thread-identity primitive, so callers (the cache loader and its
// own cache-event handlers) pass a stable holder id explicitly.
type entityMutex struct {
	mu     sync.Mutex
	cond   *sync.Cond
	holder string
	count  int
}

func newEntityMutex() *entityMutex {
	m := &entityMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock acquires the mutex for holderID, blocking while a different
// holder owns it. Re-entry by the same holderID increments a count
// rather than deadlocking.
func (m *entityMutex) Lock(holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.count > 0 && m.holder != holderID {
		m.cond.Wait()
	}
	m.holder = holderID
	m.count++
}

// Unlock releases one level of holderID's hold, waking other waiters
// once the count reaches zero.
func (m *entityMutex) Unlock(holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != holderID || m.count == 0 {
		return
	}
	m.count--
	if m.count == 0 {
		m.holder = ""
		m.cond.Broadcast()
	}
}

// header is the composed capability set every concrete entity embeds:
// key, parent backlink, lifecycle state, and the re-entrant lock
// cache-event handlers take while refreshing cached fields.
//
// A child holds a strong reference to its parent (tree lifetime); the
// parent holds no reference to its children, which are looked up by key
// through the Cache's per-type maps, avoiding a reference cycle.
type header struct {
	key    string
	parent Notifyable

	mu sync.RWMutex

	state State
	emu   *entityMutex
}

func newHeader(key string, parent Notifyable) header {
	return header{key: key, parent: parent, state: StateInit, emu: newEntityMutex()}
}

// Key returns the entity's full hierarchical registry key.
func (h *header) Key() string { return h.key }

// Parent returns the entity's parent, or nil for Root.
func (h *header) Parent() Notifyable { return h.parent }

// State returns the entity's current lifecycle state.
func (h *header) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// setState advances state. Transitions backward are refused silently.
func (h *header) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s > h.state {
		h.state = s
	}
}

// checkRemoved returns a clerr.ObjectRemoved error if the entity has
// transitioned to StateRemoved, so mutating operations against an
// already-removed entity fail instead of silently racing the registry.
func (h *header) checkRemoved() error {
	if h.State() == StateRemoved {
		return clerr.Newf(clerr.ObjectRemoved, "entity %q has been removed", h.Key())
	}
	return nil
}

// lock acquires the entity's re-entrant lock for holderID. Cache-event
// handlers use a fixed internal holder id so they may re-enter while
// firing events that re-read the entity they just updated.
func (h *header) lock(holderID string)   { h.emu.Lock(holderID) }
func (h *header) unlock(holderID string) { h.emu.Unlock(holderID) }

// Notifyable is implemented by every cached entity type: entity
// variants hold a header and are tagged by their concrete Go type
// rather than discovered via runtime type inspection.
type Notifyable interface {
	Key() string
	Parent() Notifyable
	State() State
}

// internalHolder is the fixed holder id cache-event handlers use to
// re-enter an entity's lock while refreshing it and firing events.
const internalHolder = "__cache_internal__"
