package registry

import (
	"context"
	"errors"
	"time"
)

// EventType identifies the kind of raw event the underlying coordination
// store fired.
type EventType int

const (
	EventCreated EventType = iota
	EventDeleted
	EventChanged
	EventChild
	EventSession
	EventNotWatching
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "CREATED"
	case EventDeleted:
		return "DELETED"
	case EventChanged:
		return "CHANGED"
	case EventChild:
		return "CHILD"
	case EventSession:
		return "SESSION"
	case EventNotWatching:
		return "NOT_WATCHING"
	default:
		return "UNKNOWN"
	}
}

// SessionState mirrors the underlying client's session state, carried on
// EventSession raw events.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionExpired
)

// SyncSentinelPath is the distinguished path the adapter uses for the
// synthetic SESSION event that terminates a sync() call.
const SyncSentinelPath = "/__sync__"

// RawEvent is what the underlying Store delivers asynchronously: a watch
// fire or a session transition.
type RawEvent struct {
	Type  EventType
	State SessionState
	Path  string
}

// Stat mirrors the metadata the coordination store returns alongside a
// node's data or existence: version for CAS, timestamps, and
// whether the node is ephemeral.
type Stat struct {
	Version     int64
	Ctime       time.Time
	Mtime       time.Time
	Ephemeral   bool
	NumChildren int
}

// CreateMode selects the lifetime/ordering semantics of a created node.
type CreateMode struct {
	Ephemeral  bool
	Sequential bool
}

// Sentinel errors a Store implementation uses to signal conditions the
// adapter's retry policy and createAncestors walk special-case.
var (
	// ErrConnectionLoss marks a transient connectivity failure, retryable
	// under the adapter's retry budget.
	ErrConnectionLoss = errors.New("registry: connection loss")
	// ErrOperationTimeout marks a transient per-call timeout, retryable
	// under the adapter's retry budget.
	ErrOperationTimeout = errors.New("registry: operation timeout")
	// ErrNoNode marks a missing path.
	ErrNoNode = errors.New("registry: no such node")
	// ErrNodeExists marks a create racing an existing node.
	ErrNodeExists = errors.New("registry: node exists")
	// ErrNoParent marks a create whose parent is missing (triggers the
	// createAncestors walk when requested).
	ErrNoParent = errors.New("registry: parent missing")
	// ErrBadVersion marks a CAS failure on delete/setData.
	ErrBadVersion = errors.New("registry: version mismatch")
	// ErrNotEmpty marks a non-recursive delete of a node with children.
	ErrNotEmpty = errors.New("registry: node not empty")
)

// Store is the abstraction Clusterlib consumes from the underlying
// coordination store. The concrete wire protocol is out of
// scope; Clusterlib ships one reference implementation,
// registry/memstore, and talks to any other backend satisfying this
// interface identically.
//
// Watches are one-shot: a watch requested on a read fires at most once,
// on the returned channel, which the Store then closes.
type Store interface {
	// Create makes path with the given data and mode. If an ancestor is
	// missing, Create returns ErrNoParent; the store does not create
	// ancestors on its own, the adapter walks and creates them when
	// asked. Sequential creates
	// return the created path with a SeqWidth-digit numeric suffix
	// appended.
	Create(ctx context.Context, path string, data []byte, mode CreateMode) (createdPath string, err error)

	// Delete removes path. version<0 skips the CAS check. If recursive is
	// false and path has children, Delete returns ErrNotEmpty.
	Delete(ctx context.Context, path string, version int64, recursive bool) error

	// Exists reports whether path is present. If watch is true, a watch
	// is armed atomically with the read and fires on the returned channel
	// on the node's next CREATED/DELETED/CHANGED.
	Exists(ctx context.Context, path string, watch bool) (ok bool, stat *Stat, watchCh <-chan RawEvent, err error)

	// GetData reads path's data, arming a CHANGED/DELETED watch if
	// requested.
	GetData(ctx context.Context, path string, watch bool) (data []byte, stat *Stat, watchCh <-chan RawEvent, err error)

	// SetData writes path's data under CAS (version<0 skips the check).
	SetData(ctx context.Context, path string, data []byte, version int64) (*Stat, error)

	// GetChildren lists path's children, arming a CHILD watch if
	// requested. The returned names are not required to be sorted; the
	// adapter sorts them.
	GetChildren(ctx context.Context, path string, watch bool) (children []string, watchCh <-chan RawEvent, err error)

	// Sync requests that path be current with the store's leader/quorum
	// before the adapter's sync() call returns. Sync cannot set a watch.
	Sync(ctx context.Context, path string) error

	// SessionEvents returns the channel on which the store delivers
	// session-wide state transitions (connect/disconnect/session expiry).
	SessionEvents() <-chan RawEvent

	// Close releases the underlying connection and ends the session.
	Close() error
}
