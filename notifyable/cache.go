package notifyable

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/internal/logging"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// Cache owns Clusterlib's per-type identity maps — at most one cached
// instance exists per entity key per process — and is the only place
// concrete entity types are constructed. All
// lookups funnel through it. The per-type maps share one lock, held only
// to check for and install an entity; the registry reads and watch
// arming of the lazy-load-and-arm sequence run outside that lock.
type Cache struct {
	adapter *registry.Adapter
	log     *zap.SugaredLogger

	pubMu sync.RWMutex
	pubs  map[events.Publisher]struct{}

	mu        sync.RWMutex
	roots     map[string]*Root
	apps      map[string]*Application
	groups    map[string]*Group
	nodes     map[string]*Node
	slots     map[string]*ProcessSlot
	dists     map[string]*DataDistribution
	propLists map[string]*PropertyList
	queues    map[string]*Queue
}

// NewCache constructs an empty Cache over adapter.
func NewCache(adapter *registry.Adapter) *Cache {
	return &Cache{
		adapter:   adapter,
		log:       logging.New("notifyable"),
		pubs:      map[events.Publisher]struct{}{},
		roots:     map[string]*Root{},
		apps:      map[string]*Application{},
		groups:    map[string]*Group{},
		nodes:     map[string]*Node{},
		slots:     map[string]*ProcessSlot{},
		dists:     map[string]*DataDistribution{},
		propLists: map[string]*PropertyList{},
		queues:    map[string]*Queue{},
	}
}

// Subscribe registers p to receive every event the cache publishes.
func (c *Cache) Subscribe(p events.Publisher) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.pubs[p] = struct{}{}
}

// Unsubscribe removes a previously subscribed publisher.
func (c *Cache) Unsubscribe(p events.Publisher) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	delete(c.pubs, p)
}

func (c *Cache) publish(entity Notifyable, kind events.Kind) {
	if entity.State() == StateRemoved {
		return
	}
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	for p := range c.pubs {
		p.Publish(events.Event{Entity: entity, Kind: kind})
	}
}

func isNodeExists(err error) bool { return errors.Is(err, registry.ErrNodeExists) }
func isNoNode(err error) bool     { return errors.Is(err, registry.ErrNoNode) }

// ensurePath creates path (and any missing ancestors) as an empty
// persistent node, tolerating a benign race with a concurrent creator.
func (c *Cache) ensurePath(ctx context.Context, path string) error {
	if _, err := c.adapter.CreateNode(ctx, path, nil, registry.CreateMode{}, true); err != nil && !isNodeExists(err) {
		return err
	}
	return nil
}

// Root returns the singleton Root, creating its registry backing
// implicitly on first use.
func (c *Cache) Root(ctx context.Context) (*Root, error) {
	key := keyspace.RootKey()

	c.mu.RLock()
	if r, ok := c.roots[key]; ok {
		c.mu.RUnlock()
		return r, nil
	}
	c.mu.RUnlock()

	if err := c.ensurePath(ctx, key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if r, ok := c.roots[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	r := &Root{header: newHeader(key, nil), cache: c}
	r.setState(StateReady)
	c.roots[key] = r
	c.mu.Unlock()

	c.armSelfWatch(ctx, r, r)
	return r, nil
}

// armSelfWatch registers entity as a listener on an existence watch
// over its own key. Because that watch fires on both creation and
// deletion of the path, re-arming it on every non-delete fire keeps a
// standing watch for the entity's eventual removal.
func (c *Cache) armSelfWatch(ctx context.Context, entity Notifyable, listener registry.WatchListener) {
	if _, _, err := c.adapter.NodeExists(ctx, entity.Key(), listener, tagSelf); err != nil {
		c.log.Errorw("arm self watch failed", "key", entity.Key(), "err", err)
	}
}

// handleSelfEvent processes a self-watch fire for entity: a DELETED raw
// event marks entity and every still-cached descendant REMOVED and
// evicts them, anything else re-arms the one-shot watch.
func (c *Cache) handleSelfEvent(entity Notifyable, ev registry.UserEvent, listener registry.WatchListener) {
	if ev.Raw.Type == registry.EventDeleted {
		c.removeTree(entity)
		return
	}
	c.armSelfWatch(context.Background(), entity, listener)
}

// removeTree marks entity and every still-cached entity whose key falls
// under entity's key REMOVED, then evicts them from the cache.
func (c *Cache) removeTree(entity Notifyable) {
	prefix := entity.Key()
	within := func(k string) bool { return k == prefix || strings.HasPrefix(k, prefix+"/") }

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.roots {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.roots, k)
		}
	}
	for k, v := range c.apps {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.apps, k)
		}
	}
	for k, v := range c.groups {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.groups, k)
		}
	}
	for k, v := range c.nodes {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.nodes, k)
		}
	}
	for k, v := range c.slots {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.slots, k)
		}
	}
	for k, v := range c.dists {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.dists, k)
		}
	}
	for k, v := range c.propLists {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.propLists, k)
		}
	}
	for k, v := range c.queues {
		if within(k) {
			v.setState(StateRemoved)
			delete(c.queues, k)
		}
	}
}

// childNames lists path's children (already sorted by the adapter) via
// a CHILD-watched GetChildren call, the shared shape behind every
// *Names accessor.
func (c *Cache) childNames(ctx context.Context, path string, listener registry.WatchListener, watchCtx any) ([]string, error) {
	names, err := c.adapter.GetChildren(ctx, path, listener, watchCtx)
	if err != nil {
		if isNoNode(err) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}
