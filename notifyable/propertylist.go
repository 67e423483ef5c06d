package notifyable

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// PropertyList is a string→string map persisted as a single JSON object
// at its entity key.
type PropertyList struct {
	header
	cache *Cache

	mu    sync.RWMutex
	props map[string]string
}

func (c *Cache) newPropertyList(key string, parent Notifyable) *PropertyList {
	return &PropertyList{header: newHeader(key, parent), cache: c, props: map[string]string{}}
}

func (c *Cache) loadPropertyList(ctx context.Context, parent *Group, name string, createIfAbsent bool) (*PropertyList, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegPropertyLists, name)

	c.mu.RLock()
	if p, ok := c.propLists[key]; ok {
		c.mu.RUnlock()
		return p, nil
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
	if p, ok := c.propLists[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	p := c.newPropertyList(key, parent)
	c.propLists[key] = p
	c.mu.Unlock()

	p.setState(StateReady)
	p.lock(internalHolder)
	p.refresh(ctx)
	p.unlock(internalHolder)
	c.armSelfWatch(ctx, p, p)
	return p, nil
}

func (p *PropertyList) refresh(ctx context.Context) {
	data, _, err := p.cache.adapter.GetData(ctx, p.Key(), p, attrTag("propertylist"))
	if err != nil {
		if isNoNode(err) {
			return
		}
		p.cache.log.Errorw("refresh property list failed", "key", p.Key(), "err", err)
		return
	}
	props := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &props); err != nil {
			p.cache.log.Errorw("malformed property list payload", "key", p.Key(), "err", err)
			return
		}
	}
	p.mu.Lock()
	p.props = props
	p.mu.Unlock()
	p.cache.publish(p, events.PropListsChange)
}

// HandleWatchEvent implements registry.WatchListener for the property
// list's data and self-removal watches.
func (p *PropertyList) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	p.lock(internalHolder)
	defer p.unlock(internalHolder)
	if p.State() == StateRemoved {
		return
	}
	if tag, _ := watchCtx.(attrTag); tag == tagSelf {
		p.cache.handleSelfEvent(p, ev, p)
		return
	}
	p.refresh(context.Background())
}

// Get returns the cached value for key and whether it is present.
func (p *PropertyList) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.props[key]
	return v, ok
}

// All returns a copy of the full property map.
func (p *PropertyList) All() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out
}

// Set writes key=value and persists the whole map as JSON.
func (p *PropertyList) Set(ctx context.Context, key, value string) error {
	if err := p.checkRemoved(); err != nil {
		return err
	}
	p.mu.Lock()
	props := make(map[string]string, len(p.props)+1)
	for k, v := range p.props {
		props[k] = v
	}
	props[key] = value
	p.mu.Unlock()
	return p.persist(ctx, props)
}

// Remove deletes the property list's registry node and evicts it from
// the cache.
func (p *PropertyList) Remove(ctx context.Context) error {
	if err := p.checkRemoved(); err != nil {
		return err
	}
	if err := p.cache.adapter.DeleteNode(ctx, p.Key(), true, -1); err != nil {
		return err
	}
	p.cache.removeTree(p)
	return nil
}

func (p *PropertyList) persist(ctx context.Context, props map[string]string) error {
	data, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if _, err := p.cache.adapter.SetData(ctx, p.Key(), data, -1); err != nil {
		return err
	}
	p.mu.Lock()
	p.props = props
	p.mu.Unlock()
	return nil
}
