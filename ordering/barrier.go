package ordering

import (
	"context"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/registry"
)

// Barrier implements an N-party barrier: every participant creates an
// ephemeral child under barrierPath; all participants block
// until the child count equals the size of the known participant set.
// Abandonment — the child count dropping before the barrier is met —
// aborts every waiter with a LockLost error.
type Barrier struct {
	adapter *registry.Adapter
}

// NewBarrier constructs a Barrier over adapter.
func NewBarrier(adapter *registry.Adapter) *Barrier {
	return &Barrier{adapter: adapter}
}

// Enter registers participantID under barrierPath and blocks until every
// name in participants has also entered, or ctx is canceled.
func (b *Barrier) Enter(ctx context.Context, barrierPath, participantID string, participants []string) error {
	if _, err := b.adapter.CreateNode(ctx, barrierPath, nil, registry.CreateMode{}, true); err != nil && !isNodeExists(err) {
		return err
	}

	childPath := barrierPath + "/" + participantID
	if _, err := b.adapter.CreateNode(ctx, childPath, nil, registry.CreateMode{Ephemeral: true}, false); err != nil && !isNodeExists(err) {
		return err
	}

	want := len(participants)
	prevCount := -1
	for {
		fired := make(chan struct{}, 1)
		listener := registry.WatchListenerFunc(func(registry.UserEvent, any) {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		children, err := b.adapter.GetChildren(ctx, barrierPath, listener, struct{}{})
		if err != nil {
			return err
		}
		count := len(children)
		if count >= want {
			return nil
		}
		if prevCount >= 0 && count < prevCount {
			return clerr.New(clerr.LockLost, "barrier: a participant left before the barrier was met")
		}
		prevCount = count

		select {
		case <-fired:
		case <-ctx.Done():
			return clerr.Wrap(clerr.Timeout, ctx.Err(), "barrier: context canceled")
		}
	}
}
