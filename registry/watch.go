package registry

import (
	"sync"

	"github.com/doevelopper/Clusterlib/clerr"
)

// WatchableMethod tags which adapter operation armed a particular watch,
// so a fired event can be routed back to whoever armed it.
type WatchableMethod int

const (
	MethodGetNodeData WatchableMethod = iota
	MethodNodeExists
	MethodGetNodeChildren
	MethodSyncData
)

func (m WatchableMethod) String() string {
	switch m {
	case MethodGetNodeData:
		return "GET_NODE_DATA"
	case MethodNodeExists:
		return "NODE_EXISTS"
	case MethodGetNodeChildren:
		return "GET_NODE_CHILDREN"
	case MethodSyncData:
		return "SYNC_DATA"
	default:
		return "UNKNOWN"
	}
}

// UserEvent is the demultiplexed, typed output of the event pipeline's
// user stage: a raw store event paired with the method that armed the
// watch which fired it.
type UserEvent struct {
	Method WatchableMethod
	Raw    RawEvent
}

// WatchListener receives a fired watch along with the opaque context it
// was armed with.
type WatchListener interface {
	HandleWatchEvent(ev UserEvent, ctx any)
}

// WatchListenerFunc adapts a function to WatchListener.
type WatchListenerFunc func(ev UserEvent, ctx any)

// HandleWatchEvent implements WatchListener.
func (f WatchListenerFunc) HandleWatchEvent(ev UserEvent, ctx any) { f(ev, ctx) }

type watchKey struct {
	method WatchableMethod
	path   string
}

type watchEntry struct {
	method   WatchableMethod
	path     string
	listener WatchListener
	ctx      any
}

// ContextRegistry maps (method, path) to the listener/context pairs
// armed against it. RegisterContext is meant to
// be called by the same call site that just armed the underlying watch,
// so watch and context become visible together; FindAndRemoveListenerContext
// removes and returns the whole inner map in one step, since the
// underlying store's watches are one-shot.
type ContextRegistry struct {
	mu sync.Mutex
	m  map[watchKey]map[WatchListener]any
}

// NewContextRegistry constructs an empty registry.
func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{m: map[watchKey]map[WatchListener]any{}}
}

// RegisterContext arms a (method, path) -> (listener, ctx) binding. Both
// listener and ctx must be non-nil.
func (r *ContextRegistry) RegisterContext(method WatchableMethod, path string, listener WatchListener, ctx any) error {
	if listener == nil {
		return clerr.New(clerr.InvalidArgument, "registerContext: listener must not be nil")
	}
	if ctx == nil {
		return clerr.New(clerr.InvalidArgument, "registerContext: ctx must not be nil")
	}
	// A WatchListenerFunc is not comparable and so cannot be a map key;
	// each registration keeps it behind its own pointer instead.
	if f, ok := listener.(WatchListenerFunc); ok {
		listener = &f
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := watchKey{method, path}
	m, ok := r.m[key]
	if !ok {
		m = map[WatchListener]any{}
		r.m[key] = m
	}
	m[listener] = ctx
	return nil
}

// FindAndRemoveListenerContext removes and returns every (listener, ctx)
// pair registered for (method, path).
func (r *ContextRegistry) FindAndRemoveListenerContext(method WatchableMethod, path string) map[WatchListener]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := watchKey{method, path}
	m := r.m[key]
	delete(r.m, key)
	return m
}

// DrainAll removes and returns every pending (method, path, listener,
// ctx) binding across the whole registry, used to broadcast a session
// event to every outstanding watcher.
func (r *ContextRegistry) DrainAll() []watchEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []watchEntry
	for k, m := range r.m {
		for l, c := range m {
			out = append(out, watchEntry{method: k.method, path: k.path, listener: l, ctx: c})
		}
	}
	r.m = map[watchKey]map[WatchListener]any{}
	return out
}
