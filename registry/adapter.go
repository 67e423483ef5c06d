// Package registry implements Clusterlib's adapter: a reconnecting,
// session-aware client wrapping the abstract coordination store,
// together with the raw/user event pipeline and the watch-context
// registry it drives. Those two pieces exist only to demultiplex the
// adapter's watches and have no identity independent of it, so they
// live in this package rather than splitting out on their own.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/internal/logging"
	"github.com/doevelopper/Clusterlib/keyspace"
)

// ConnState is the adapter's connection state machine:
// DISCONNECTED -> CONNECTING -> CONNECTED -> (CONNECTING | SESSION_EXPIRED) -> ...
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateSessionExpired
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSessionExpired:
		return "SESSION_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Reconnector is implemented by a Store that can be told to attempt
// reconnection explicitly. Stores that reconnect entirely on their own
// need not implement it.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAutoReconnect toggles automatic reconnect/retry (default true).
func WithAutoReconnect(enabled bool) Option {
	return func(a *Adapter) { a.autoReconnect = enabled }
}

// WithLeaseTimeout sets the session lease budget verifyConnection blocks
// against (default 30s).
func WithLeaseTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.leaseTimeout = d }
}

// WithQueueSize sets the raw/user event pipeline's buffer size (default
// 256).
func WithQueueSize(n int) Option {
	return func(a *Adapter) { a.queueSize = n }
}

// Adapter wraps a Store with connect/reconnect lifecycle, bounded retry,
// path validation, and the watch event pipeline.
type Adapter struct {
	store Store
	log   *zap.SugaredLogger

	autoReconnect bool
	leaseTimeout  time.Duration
	queueSize     int

	mu       sync.Mutex
	state    ConnState
	deadline time.Time
	changed  chan struct{}

	contexts *ContextRegistry
	pipeline *pipeline

	sessionDone chan struct{}
	closeOnce   sync.Once
}

// NewAdapter constructs an Adapter over store and starts its background
// session-feed goroutine and event pipeline.
func NewAdapter(store Store, opts ...Option) *Adapter {
	a := &Adapter{
		store:         store,
		log:           logging.New("registry"),
		autoReconnect: true,
		leaseTimeout:  30 * time.Second,
		queueSize:     256,
		state:         StateConnecting,
		changed:       make(chan struct{}),
		contexts:      NewContextRegistry(),
		sessionDone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.deadline = time.Now().Add(a.leaseTimeout)
	a.pipeline = newPipeline(a, a.contexts, a.log, a.queueSize)
	a.pipeline.start()
	go a.feedSessionEvents()
	return a
}

// feedSessionEvents is the one background goroutine that owns the
// store's session event channel and forwards everything into the
// pipeline's raw queue. A single goroutine owns the store's session
// event channel end to end.
func (a *Adapter) feedSessionEvents() {
	defer close(a.sessionDone)
	for ev := range a.store.SessionEvents() {
		a.pipeline.push(ev)
	}
}

// State returns the adapter's current connection state.
func (a *Adapter) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// applySessionState updates connection state from a SESSION raw event,
// run from the pipeline's raw stage under the state lock.
func (a *Adapter) applySessionState(s SessionState) {
	a.mu.Lock()
	switch s {
	case SessionConnected:
		a.state = StateConnected
		a.deadline = time.Now().Add(a.leaseTimeout)
	case SessionConnecting:
		a.state = StateConnecting
	case SessionExpired:
		a.state = StateSessionExpired
	case SessionDisconnected:
		a.state = StateDisconnected
	}
	ch := a.changed
	a.changed = make(chan struct{})
	a.mu.Unlock()
	close(ch)
}

// verifyConnection implements a three-way check: fail immediately if
// terminally DISCONNECTED with auto-reconnect off,
// trigger reconnect if SESSION_EXPIRED, and otherwise block until
// CONNECTED or the session's remaining lease budget elapses.
func (a *Adapter) verifyConnection(ctx context.Context) error {
	for {
		a.mu.Lock()
		state := a.state
		deadline := a.deadline
		changed := a.changed
		a.mu.Unlock()

		if state == StateConnected {
			return nil
		}
		if state == StateDisconnected && !a.autoReconnect {
			return clerr.New(clerr.RepositoryConnectionLost, "adapter disconnected and auto-reconnect is off")
		}
		if state == StateSessionExpired {
			if r, ok := a.store.(Reconnector); ok {
				_ = r.Reconnect(ctx)
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return clerr.New(clerr.Timeout, "verifyConnection: session lease budget exhausted")
		}
		timer := time.NewTimer(remaining)
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return clerr.New(clerr.Timeout, "verifyConnection: session lease budget exhausted")
		case <-ctx.Done():
			timer.Stop()
			return clerr.Wrap(clerr.Timeout, ctx.Err(), "verifyConnection: context canceled")
		}
	}
}

func isTransient(err error) bool {
	return errors.Is(err, ErrConnectionLoss) || errors.Is(err, ErrOperationTimeout)
}

// mapStoreErr translates Store sentinel errors into the clerr taxonomy.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConnectionLoss):
		return clerr.Wrap(clerr.RepositoryConnectionLost, err, "store connection loss")
	case errors.Is(err, ErrOperationTimeout):
		return clerr.Wrap(clerr.Timeout, err, "store operation timeout")
	default:
		return clerr.Wrap(clerr.RepositoryInternal, err, "store error")
	}
}

// withRetry wraps op in the adapter's retry policy: only
// CONNECTION_LOSS and OPERATION_TIMEOUT are retried, only up to two
// additional attempts, and only when auto-reconnect is enabled.
func (a *Adapter) withRetry(ctx context.Context, op func() error) error {
	if err := a.verifyConnection(ctx); err != nil {
		return err
	}
	attempts := 1
	if a.autoReconnect {
		attempts += 2
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || !a.autoReconnect {
			return mapStoreErr(lastErr)
		}
		if verr := a.verifyConnection(ctx); verr != nil {
			return verr
		}
	}
	return clerr.Wrap(clerr.RepositoryConnectionLost, lastErr, "retry budget exhausted")
}

func validatePath(path string) error {
	if err := keyspace.Validate(path); err != nil {
		return clerr.Wrap(clerr.InvalidArgument, err, "invalid path")
	}
	return nil
}

// armWatch registers ctx under (method, path) and then starts forwarding
// watchCh's single fire into the pipeline. Registration happens before
// the forwarder goroutine starts reading watchCh, so the watch and its
// context become visible atomically from the pipeline's point of view
// even though the underlying store call already returned.
func (a *Adapter) armWatch(method WatchableMethod, path string, listener WatchListener, watchCtx any, watchCh <-chan RawEvent) error {
	if watchCh == nil {
		return nil
	}
	if err := a.contexts.RegisterContext(method, path, listener, watchCtx); err != nil {
		return err
	}
	go func() {
		ev, ok := <-watchCh
		if !ok {
			return
		}
		a.pipeline.push(ev)
	}()
	return nil
}

// CreateNode creates path with data under mode. When createAncestors is
// true and an ancestor is missing, the adapter walks the path left to
// right creating empty persistent prefixes and retries the original
// create once; concurrent creators racing on a prefix are
// tolerated (ErrNodeExists on a prefix is benign).
func (a *Adapter) CreateNode(ctx context.Context, path string, data []byte, mode CreateMode, createAncestors bool) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	var created string
	err := a.withRetry(ctx, func() error {
		p, err := a.store.Create(ctx, path, data, mode)
		if err == nil {
			created = p
			return nil
		}
		if errors.Is(err, ErrNoParent) && createAncestors {
			if aerr := a.createAncestorsOf(ctx, path); aerr != nil {
				return aerr
			}
			p, err = a.store.Create(ctx, path, data, mode)
			if err == nil {
				created = p
				return nil
			}
		}
		return err
	})
	return created, err
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (a *Adapter) createAncestorsOf(ctx context.Context, path string) error {
	parts := splitPath(path)
	cur := ""
	for _, seg := range parts[:len(parts)-1] {
		cur += "/" + seg
		_, err := a.store.Create(ctx, cur, nil, CreateMode{})
		if err != nil && !errors.Is(err, ErrNodeExists) {
			if errors.Is(err, ErrNoParent) {
				// Parent of this prefix is itself missing; the
				// left-to-right walk order makes this unreachable in
				// practice; skip it and go on with the next prefix.
				continue
			}
			return mapStoreErr(err)
		}
	}
	return nil
}

// CreateSequence creates a sequential child of path, returning the
// created path and the parsed numeric sequence suffix.
func (a *Adapter) CreateSequence(ctx context.Context, path string, data []byte, ephemeral bool) (string, int64, error) {
	if err := validatePath(path); err != nil {
		return "", 0, err
	}
	var created string
	err := a.withRetry(ctx, func() error {
		p, err := a.store.Create(ctx, path, data, CreateMode{Ephemeral: ephemeral, Sequential: true})
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	seq, err := keyspace.ParseSeq(keyspace.Base(created))
	if err != nil {
		return created, 0, clerr.Wrap(clerr.RepositoryInternal, err, "malformed sequential child name")
	}
	return created, seq, nil
}

// DeleteNode deletes path, recursively if requested, under CAS if
// version >= 0.
func (a *Adapter) DeleteNode(ctx context.Context, path string, recursive bool, version int64) error {
	if err := validatePath(path); err != nil {
		return err
	}
	return a.withRetry(ctx, func() error {
		return a.store.Delete(ctx, path, version, recursive)
	})
}

// NodeExists reports whether path exists. If listener is non-nil, an
// existence watch is armed and (method=NODE_EXISTS, path) is registered
// with watchCtx.
func (a *Adapter) NodeExists(ctx context.Context, path string, listener WatchListener, watchCtx any) (bool, *Stat, error) {
	if err := validatePath(path); err != nil {
		return false, nil, err
	}
	var ok bool
	var stat *Stat
	err := a.withRetry(ctx, func() error {
		o, s, ch, err := a.store.Exists(ctx, path, listener != nil)
		if err != nil {
			return err
		}
		ok, stat = o, s
		if listener != nil {
			return a.armWatch(MethodNodeExists, path, listener, watchCtx, ch)
		}
		return nil
	})
	return ok, stat, err
}

// GetData reads path's data, arming a GET_NODE_DATA watch if listener is
// non-nil.
func (a *Adapter) GetData(ctx context.Context, path string, listener WatchListener, watchCtx any) ([]byte, *Stat, error) {
	if err := validatePath(path); err != nil {
		return nil, nil, err
	}
	var data []byte
	var stat *Stat
	err := a.withRetry(ctx, func() error {
		d, s, ch, err := a.store.GetData(ctx, path, listener != nil)
		if err != nil {
			return err
		}
		data, stat = d, s
		if listener != nil {
			return a.armWatch(MethodGetNodeData, path, listener, watchCtx, ch)
		}
		return nil
	})
	return data, stat, err
}

// SetData writes path's data under CAS.
func (a *Adapter) SetData(ctx context.Context, path string, data []byte, version int64) (*Stat, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	var stat *Stat
	err := a.withRetry(ctx, func() error {
		s, err := a.store.SetData(ctx, path, data, version)
		if err != nil {
			return err
		}
		stat = s
		return nil
	})
	return stat, err
}

// GetChildren lists path's children in sorted order, arming a
// GET_NODE_CHILDREN watch if listener is non-nil.
func (a *Adapter) GetChildren(ctx context.Context, path string, listener WatchListener, watchCtx any) ([]string, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	var names []string
	err := a.withRetry(ctx, func() error {
		n, ch, err := a.store.GetChildren(ctx, path, listener != nil)
		if err != nil {
			return err
		}
		names = n
		if listener != nil {
			return a.armWatch(MethodGetNodeChildren, path, listener, watchCtx, ch)
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// Sync blocks until every user-event enqueued before this call has been
// delivered on the user-event worker. It does this by
// registering a one-shot listener under the SYNC_DATA/sentinel key and
// injecting the sentinel SESSION event after the store acknowledges.
func (a *Adapter) Sync(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	done := make(chan struct{}, 1)
	listener := WatchListenerFunc(func(UserEvent, any) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err := a.contexts.RegisterContext(MethodSyncData, SyncSentinelPath, listener, struct{}{}); err != nil {
		return err
	}
	if err := a.withRetry(ctx, func() error { return a.store.Sync(ctx, path) }); err != nil {
		return err
	}
	// ConnState and SessionState list their values in the same order.
	a.pipeline.push(RawEvent{Type: EventSession, State: SessionState(a.State()), Path: SyncSentinelPath})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return clerr.Wrap(clerr.Timeout, ctx.Err(), "sync: context canceled")
	}
}

// Close shuts down the event pipeline and the underlying store. It does
// not call verifyConnection: every other call must first pass it, but
// shutdown must proceed regardless of connection state.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.store.Close()
		<-a.sessionDone
		a.pipeline.stop()
	})
	return err
}

// Contexts exposes the adapter's watch-context registry for components
// (e.g. the notifyable cache) that need to register listeners directly
// against the same bookkeeping the adapter uses for its own calls, such
// as broadcast-only subscriptions with no underlying store watch.
func (a *Adapter) Contexts() *ContextRegistry { return a.contexts }
