package notifyable

import (
	"context"

	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// Root is the singleton entity owning every Application.
type Root struct {
	header
	cache *Cache
}

// GetApplication returns the named Application, lazily loading and
// arming it against the registry. If createIfAbsent is false and the
// application has no registry backing, GetApplication returns (nil, nil).
func (r *Root) GetApplication(ctx context.Context, name string, createIfAbsent bool) (*Application, error) {
	return r.cache.loadApplication(ctx, r, name, createIfAbsent)
}

// GetApplicationNames lists the known application names, sorted. It arms
// a CHILD watch whose listener does nothing when it fires; the list is
// not cached, and no event is published for application changes.
func (r *Root) GetApplicationNames(ctx context.Context) ([]string, error) {
	return r.cache.childNames(ctx, keyspace.AppsPath(r.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {}), struct{}{})
}

func (c *Cache) loadApplication(ctx context.Context, parent *Root, name string, createIfAbsent bool) (*Application, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegApps, name)

	c.mu.RLock()
	if a, ok := c.apps[key]; ok {
		c.mu.RUnlock()
		return a, nil
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
	if a, ok := c.apps[key]; ok {
		c.mu.Unlock()
		return a, nil
	}
	app := &Application{Group: c.newGroup(key, parent)}
	app.setState(StateReady)
	c.apps[key] = app
	c.mu.Unlock()

	c.armSelfWatch(ctx, app.Group, app.Group)
	return app, nil
}

// HandleWatchEvent implements registry.WatchListener for the Root
// singleton's self-removal watch. Root tracks no other attributes.
func (r *Root) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	tag, _ := watchCtx.(attrTag)
	if tag != tagSelf {
		return
	}
	r.lock(internalHolder)
	defer r.unlock(internalHolder)
	if r.State() == StateRemoved {
		return
	}
	r.cache.handleSelfEvent(r, ev, r)
}
