package notifyable

import (
	"context"
	"slices"
	"sync"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// Queue is the cached view of an ordered sequence of elements: the
// element list itself is produced and consumed through ordering.Queue,
// which talks directly to the registry adapter; this type only tracks
// the cached, watch-refreshed element name list so notifyable consumers
// can observe EN_QUEUECHANGE without going through ordering.
type Queue struct {
	header
	cache *Cache

	mu       sync.RWMutex
	elements []string
}

func (c *Cache) newQueueEntity(key string, parent Notifyable) *Queue {
	return &Queue{header: newHeader(key, parent), cache: c}
}

func (c *Cache) loadQueue(ctx context.Context, parent *Group, name string, createIfAbsent bool) (*Queue, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegQueues, name)

	c.mu.RLock()
	if q, ok := c.queues[key]; ok {
		c.mu.RUnlock()
		return q, nil
	}
	c.mu.RUnlock()

	exists, _, err := c.adapter.NodeExists(ctx, key, nil, nil)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !createIfAbsent {
			return nil, nil
		}
		if err := c.ensurePath(ctx, key); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if q, ok := c.queues[key]; ok {
		c.mu.Unlock()
		return q, nil
	}
	q := c.newQueueEntity(key, parent)
	c.queues[key] = q
	c.mu.Unlock()

	q.setState(StateReady)
	q.lock(internalHolder)
	q.refresh(ctx)
	q.unlock(internalHolder)
	c.armSelfWatch(ctx, q, q)
	return q, nil
}

func (q *Queue) refresh(ctx context.Context) {
	names, err := q.cache.adapter.GetChildren(ctx, q.Key(), q, attrTag("queue"))
	if err != nil {
		if isNoNode(err) {
			return
		}
		q.cache.log.Errorw("refresh queue element list failed", "key", q.Key(), "err", err)
		return
	}
	q.mu.Lock()
	changed := !slices.Equal(q.elements, names)
	q.elements = names
	q.mu.Unlock()
	if changed {
		q.cache.publish(q, events.QueueChange)
	}
}

// HandleWatchEvent implements registry.WatchListener for the queue's
// child-list and self-removal watches.
func (q *Queue) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	q.lock(internalHolder)
	defer q.unlock(internalHolder)
	if q.State() == StateRemoved {
		return
	}
	if tag, _ := watchCtx.(attrTag); tag == tagSelf {
		q.cache.handleSelfEvent(q, ev, q)
		return
	}
	q.refresh(context.Background())
}

// Remove deletes the queue's registry subtree and evicts it from the
// cache.
func (q *Queue) Remove(ctx context.Context) error {
	if err := q.checkRemoved(); err != nil {
		return err
	}
	if err := q.cache.adapter.DeleteNode(ctx, q.Key(), true, -1); err != nil {
		return err
	}
	q.cache.removeTree(q)
	return nil
}

// ElementNames returns the cached, sequence-ordered element name list.
func (q *Queue) ElementNames() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, len(q.elements))
	copy(out, q.elements)
	return out
}
