package ordering

import (
	"context"
	"errors"

	"golang.org/x/exp/slices"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// Element is one entry dequeued from a Queue: its child name (needed to
// Remove it) and the value it carried.
type Element struct {
	Name  string
	Value []byte
}

// Queue implements a sequence-ordered queue: Put creates a sequential
// child; Take returns the lowest-sequenced child, blocking
// on a CHILD watch when empty; Remove deletes a specific child by name
// (used by the RPC response path to consume a reply once read).
type Queue struct {
	adapter *registry.Adapter
	path    string
}

// NewQueue constructs a Queue rooted at path, creating it (and any
// missing ancestors) if absent.
func NewQueue(ctx context.Context, adapter *registry.Adapter, path string) (*Queue, error) {
	if _, err := adapter.CreateNode(ctx, path, nil, registry.CreateMode{}, true); err != nil && !isNodeExists(err) {
		return nil, err
	}
	return &Queue{adapter: adapter, path: path}, nil
}

// Put appends value to the queue, returning the created element's name.
func (q *Queue) Put(ctx context.Context, value []byte) (string, error) {
	prefixPath := q.path + "/" + keyspace.QueueElementPrefix
	created, _, err := q.adapter.CreateSequence(ctx, prefixPath, value, false)
	if err != nil {
		return "", err
	}
	return keyspace.Base(created), nil
}

// Take blocks until an element is available or ctx is canceled, then
// returns (and does not remove) the lowest-sequenced element. Order of
// delivery strictly follows sequence number, not arrival time.
func (q *Queue) Take(ctx context.Context) (Element, error) {
	for {
		fired := make(chan struct{}, 1)
		listener := registry.WatchListenerFunc(func(registry.UserEvent, any) {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		names, err := q.adapter.GetChildren(ctx, q.path, listener, struct{}{})
		if err != nil {
			return Element{}, err
		}
		elems := filterQueueElements(names)
		if len(elems) > 0 {
			slices.Sort(elems)
			lowest := elems[0]
			data, _, err := q.adapter.GetData(ctx, q.path+"/"+lowest, nil, nil)
			if err != nil {
				if errors.Is(err, registry.ErrNoNode) {
					continue
				}
				return Element{}, err
			}
			return Element{Name: lowest, Value: data}, nil
		}

		select {
		case <-fired:
		case <-ctx.Done():
			return Element{}, clerr.Wrap(clerr.Timeout, ctx.Err(), "take: context canceled")
		}
	}
}

// Remove deletes the named element, used once a consumer has finished
// with it (e.g. the RPC requester consuming its own response queue).
func (q *Queue) Remove(ctx context.Context, name string) error {
	return q.adapter.DeleteNode(ctx, q.path+"/"+name, false, -1)
}

func filterQueueElements(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if keyspace.IsQueueElement(n) {
			out = append(out, n)
		}
	}
	return out
}
