package notifyable

import (
	"context"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// Group is recursive: it owns child Groups, Nodes, DataDistributions,
// PropertyLists, and Queues. Application embeds *Group to realize
// "Application is a Group" via composition rather than inheritance.
type Group struct {
	header
	cache *Cache
}

// Application is the top-level container directly under Root. It is a
// Group, gaining GetGroup/GetNode/… for free through embedding.
type Application struct {
	*Group
}

func (c *Cache) newGroup(key string, parent Notifyable) *Group {
	return &Group{header: newHeader(key, parent), cache: c}
}

// GetGroup returns the named child Group, lazily loading and arming it.
func (g *Group) GetGroup(ctx context.Context, name string, createIfAbsent bool) (*Group, error) {
	return g.cache.loadGroup(ctx, g, name, createIfAbsent)
}

// GetGroupNames lists child group names, sorted, arming a CHILD watch
// that publishes EN_GROUPSCHANGE on any /GROUPS child list change.
func (g *Group) GetGroupNames(ctx context.Context) ([]string, error) {
	return g.cache.childNames(ctx, keyspace.GroupsPath(g.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {
		g.cache.publish(g, events.GroupsChange)
	}), struct{}{})
}

func (c *Cache) loadGroup(ctx context.Context, parent *Group, name string, createIfAbsent bool) (*Group, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegGroups, name)

	c.mu.RLock()
	if grp, ok := c.groups[key]; ok {
		c.mu.RUnlock()
		return grp, nil
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
	if grp, ok := c.groups[key]; ok {
		c.mu.Unlock()
		return grp, nil
	}
	grp := c.newGroup(key, parent)
	grp.setState(StateReady)
	c.groups[key] = grp
	c.mu.Unlock()

	c.armSelfWatch(ctx, grp, grp)
	return grp, nil
}

// HandleWatchEvent implements registry.WatchListener for a Group's
// self-removal watch. Groups track no other attributes.
func (g *Group) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	tag, _ := watchCtx.(attrTag)
	if tag != tagSelf {
		return
	}
	g.lock(internalHolder)
	defer g.unlock(internalHolder)
	if g.State() == StateRemoved {
		return
	}
	g.cache.handleSelfEvent(g, ev, g)
}

// Remove deletes the group's registry subtree and evicts it, and every
// still-cached descendant beneath it, from the cache.
func (g *Group) Remove(ctx context.Context) error {
	if err := g.checkRemoved(); err != nil {
		return err
	}
	if err := g.cache.adapter.DeleteNode(ctx, g.Key(), true, -1); err != nil {
		return err
	}
	g.cache.removeTree(g)
	return nil
}

// GetNode returns the named child Node, lazily loading and arming it.
func (g *Group) GetNode(ctx context.Context, name string, createIfAbsent bool) (*Node, error) {
	return g.cache.loadNode(ctx, g, name, createIfAbsent)
}

// GetNodeNames lists child node names, sorted, arming a CHILD watch
// that publishes EN_NODESCHANGE on any /NODES child list change.
func (g *Group) GetNodeNames(ctx context.Context) ([]string, error) {
	return g.cache.childNames(ctx, keyspace.NodesPath(g.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {
		g.cache.publish(g, events.NodesChange)
	}), struct{}{})
}

// GetDataDistribution returns the named DataDistribution, lazily loading
// and arming it.
func (g *Group) GetDataDistribution(ctx context.Context, name string, createIfAbsent bool) (*DataDistribution, error) {
	return g.cache.loadDataDistribution(ctx, g, name, createIfAbsent)
}

// GetDataDistributionNames lists distribution names, sorted, arming a
// CHILD watch that publishes EN_DISTRIBUTIONSCHANGE.
func (g *Group) GetDataDistributionNames(ctx context.Context) ([]string, error) {
	return g.cache.childNames(ctx, keyspace.DistributionsPath(g.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {
		g.cache.publish(g, events.DistributionsChange)
	}), struct{}{})
}

// GetPropertyList returns the named PropertyList, lazily loading and
// arming it.
func (g *Group) GetPropertyList(ctx context.Context, name string, createIfAbsent bool) (*PropertyList, error) {
	return g.cache.loadPropertyList(ctx, g, name, createIfAbsent)
}

// GetPropertyListNames lists property list names, sorted, arming a
// CHILD watch that publishes EN_PROPLISTSCHANGE.
func (g *Group) GetPropertyListNames(ctx context.Context) ([]string, error) {
	return g.cache.childNames(ctx, keyspace.PropertyListsPath(g.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {
		g.cache.publish(g, events.PropListsChange)
	}), struct{}{})
}

// GetQueue returns the named Queue entity, lazily loading and arming it.
func (g *Group) GetQueue(ctx context.Context, name string, createIfAbsent bool) (*Queue, error) {
	return g.cache.loadQueue(ctx, g, name, createIfAbsent)
}

// GetQueueNames lists queue names, sorted.
func (g *Group) GetQueueNames(ctx context.Context) ([]string, error) {
	return g.cache.childNames(ctx, keyspace.QueuesPath(g.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {
		g.cache.publish(g, events.QueueChange)
	}), struct{}{})
}
