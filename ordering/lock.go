package ordering

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/internal/logging"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

type lockKey struct {
	holderID string
	lockPath string
}

type lockEntry struct {
	childPath string
	refs      int
}

// Locker acquires and releases fair FIFO locks over sequential ephemeral
// children. A Locker is safe for concurrent use by multiple
// holder ids; re-entry by the same holder id on the same lock path is
// refcounted rather than blocking.
type Locker struct {
	adapter *registry.Adapter
	log     *zap.SugaredLogger

	mu   sync.Mutex
	held map[lockKey]*lockEntry
}

// NewLocker constructs a Locker over adapter.
func NewLocker(adapter *registry.Adapter) *Locker {
	return &Locker{
		adapter: adapter,
		log:     logging.New("ordering"),
		held:    map[lockKey]*lockEntry{},
	}
}

// Lock is a held lock token returned by Acquire. Release must be called
// exactly once per successful Acquire.
type Lock struct {
	locker *Locker
	key    lockKey
}

// Acquire blocks until holderID holds the fair FIFO lock at lockPath, or
// ctx is canceled. If holderID already holds this lock, Acquire
// increments a re-entrancy refcount and returns immediately, caching
// {lockPath -> token} per holder id rather than blocking a holder on
// its own lock.
func (l *Locker) Acquire(ctx context.Context, lockPath, holderID string) (*Lock, error) {
	key := lockKey{holderID: holderID, lockPath: lockPath}

	l.mu.Lock()
	if e, ok := l.held[key]; ok {
		e.refs++
		l.mu.Unlock()
		return &Lock{locker: l, key: key}, nil
	}
	l.mu.Unlock()

	if _, err := l.adapter.CreateNode(ctx, lockPath, nil, registry.CreateMode{}, true); err != nil && !isNodeExists(err) {
		return nil, err
	}

	bidPrefixPath := lockPath + "/" + keyspace.BidPrefix + holderID + "-"
	createdPath, _, err := l.adapter.CreateSequence(ctx, bidPrefixPath, []byte(holderID), true)
	if err != nil {
		return nil, err
	}
	ourName := keyspace.Base(createdPath)

	for {
		children, err := l.adapter.GetChildren(ctx, lockPath, nil, nil)
		if err != nil {
			_ = l.adapter.DeleteNode(ctx, createdPath, false, -1)
			return nil, err
		}
		children = sortBySeq(children)

		idx := indexOf(children, ourName)
		if idx < 0 {
			return nil, clerr.New(clerr.LockLost, "lock bid child disappeared before acquiring")
		}
		if idx == 0 {
			l.mu.Lock()
			l.held[key] = &lockEntry{childPath: createdPath, refs: 1}
			l.mu.Unlock()
			return &Lock{locker: l, key: key}, nil
		}

		lowerName := children[idx-1]
		lowerPath := lockPath + "/" + lowerName

		fired := make(chan struct{}, 1)
		listener := registry.WatchListenerFunc(func(registry.UserEvent, any) {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		exists, _, err := l.adapter.NodeExists(ctx, lowerPath, listener, struct{}{})
		if err != nil {
			_ = l.adapter.DeleteNode(ctx, createdPath, false, -1)
			return nil, err
		}
		if !exists {
			continue
		}

		select {
		case <-fired:
		case <-ctx.Done():
			_ = l.adapter.DeleteNode(ctx, createdPath, false, -1)
			return nil, clerr.Wrap(clerr.Timeout, ctx.Err(), "acquire: context canceled")
		}
	}
}

// Release drops one reference to the lock; when the refcount reaches
// zero the bid child is deleted, surfacing the lock to the next waiter.
func (l *Lock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	e, ok := l.locker.held[l.key]
	if !ok {
		l.locker.mu.Unlock()
		return clerr.New(clerr.InvalidArgument, "release: lock not held")
	}
	e.refs--
	if e.refs > 0 {
		l.locker.mu.Unlock()
		return nil
	}
	delete(l.locker.held, l.key)
	l.locker.mu.Unlock()

	if err := l.locker.adapter.DeleteNode(ctx, e.childPath, false, -1); err != nil {
		if errors.Is(err, registry.ErrNoNode) {
			return clerr.Wrap(clerr.LockLost, err, "release: bid child already gone")
		}
		return err
	}
	return nil
}

func isNodeExists(err error) bool {
	return errors.Is(err, registry.ErrNodeExists)
}

// sortBySeq orders bid child names by their numeric sequence suffix
// rather than lexically: names embed the requesting holder id ahead of
// the suffix ("BID-<holderID>-<seq>"), so a plain string sort would
// group bids by holder id instead of preserving the store's creation
// order that gives the lock its FIFO fairness.
func sortBySeq(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, _ := keyspace.ParseSeq(sorted[i])
		sj, _ := keyspace.ParseSeq(sorted[j])
		return si < sj
	})
	return sorted
}

func indexOf(names []string, target string) int {
	for i, n := range names {
		if n == target {
			return i
		}
	}
	return -1
}
