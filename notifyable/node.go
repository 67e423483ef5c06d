package notifyable

import (
	"context"
	"sync"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// attrTag identifies which cached attribute a fired watch refreshes,
// carried as the opaque watch context so one listener (the entity
// itself) can demultiplex across several armed paths.
type attrTag string

const (
	tagConnected          attrTag = "connected"
	tagClientState        attrTag = "clientState"
	tagCurrentState       attrTag = "currentState"
	tagDesiredState       attrTag = "desiredState"
	tagProcessSlotDesired attrTag = "processSlotDesired"

	// tagSelf marks the existence watch every entity type arms against
	// its own key, used to detect the entity's removal from the
	// registry regardless of concrete type.
	tagSelf attrTag = "self"
)

// Node carries presence and state attributes kept current by watches:
// connected reflects an ephemeral child's presence and is updated
// strictly by the cache-event path, never by client code.
type Node struct {
	header
	cache *Cache

	attrMu       sync.RWMutex
	connected    bool
	clientState  string
	currentState []byte
	desiredState []byte
}

func (c *Cache) newNode(key string, parent Notifyable) *Node {
	return &Node{header: newHeader(key, parent), cache: c}
}

func (c *Cache) loadNode(ctx context.Context, parent *Group, name string, createIfAbsent bool) (*Node, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegNodes, name)

	c.mu.RLock()
	if n, ok := c.nodes[key]; ok {
		c.mu.RUnlock()
		return n, nil
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
		if err := c.ensureNodeSubstructure(ctx, key); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if n, ok := c.nodes[key]; ok {
		c.mu.Unlock()
		return n, nil
	}
	n := c.newNode(key, parent)
	c.nodes[key] = n
	c.mu.Unlock()

	n.setState(StateReady)
	n.lock(internalHolder)
	n.refreshConnected(ctx)
	n.refreshClientState(ctx)
	n.refreshCurrentState(ctx)
	n.refreshDesiredState(ctx)
	n.unlock(internalHolder)
	c.armSelfWatch(ctx, n, n)
	return n, nil
}

// ensureNodeSubstructure materializes a Node's fixed attribute
// sub-paths (CLIENTSTATE, CURRENTSTATE, DESIREDSTATE) as empty
// persistent nodes, so Set* calls against a freshly created Node don't
// fail with a missing-node error. CONNECTED is excluded: it is created
// as an ephemeral by a connecting client session, not by entity
// creation.
func (c *Cache) ensureNodeSubstructure(ctx context.Context, key string) error {
	for _, p := range []string{
		keyspace.ClientStatePath(key),
		keyspace.CurrentStatePath(key),
		keyspace.DesiredStatePath(key),
	} {
		if err := c.ensurePath(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// HandleWatchEvent implements registry.WatchListener, demultiplexing by
// the attrTag the watch was armed with.
func (n *Node) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	tag, _ := watchCtx.(attrTag)
	n.lock(internalHolder)
	defer n.unlock(internalHolder)
	if n.State() == StateRemoved {
		return
	}
	switch tag {
	case tagConnected:
		n.refreshConnected(context.Background())
	case tagClientState:
		n.refreshClientState(context.Background())
	case tagCurrentState:
		n.refreshCurrentState(context.Background())
	case tagDesiredState:
		n.refreshDesiredState(context.Background())
	case tagSelf:
		n.cache.handleSelfEvent(n, ev, n)
	}
}

func (n *Node) refreshConnected(ctx context.Context) {
	exists, _, err := n.cache.adapter.NodeExists(ctx, keyspace.ConnectedPath(n.Key()), n, tagConnected)
	if err != nil {
		n.cache.log.Errorw("refreshConnected failed", "key", n.Key(), "err", err)
		return
	}
	n.attrMu.Lock()
	changed := n.connected != exists
	n.connected = exists
	n.attrMu.Unlock()
	if changed {
		n.cache.publish(n, events.ConnectedChange)
	}
}

func (n *Node) refreshClientState(ctx context.Context) {
	data, _, err := n.cache.adapter.GetData(ctx, keyspace.ClientStatePath(n.Key()), n, tagClientState)
	if err != nil {
		if isNoNode(err) {
			return
		}
		n.cache.log.Errorw("refreshClientState failed", "key", n.Key(), "err", err)
		return
	}
	n.attrMu.Lock()
	changed := n.clientState != string(data)
	n.clientState = string(data)
	n.attrMu.Unlock()
	if changed {
		n.cache.publish(n, events.ClientStateChange)
	}
}

func (n *Node) refreshCurrentState(ctx context.Context) {
	data, _, err := n.cache.adapter.GetData(ctx, keyspace.CurrentStatePath(n.Key()), n, tagCurrentState)
	if err != nil {
		if isNoNode(err) {
			return
		}
		n.cache.log.Errorw("refreshCurrentState failed", "key", n.Key(), "err", err)
		return
	}
	n.attrMu.Lock()
	n.currentState = data
	n.attrMu.Unlock()
	n.cache.publish(n, events.CurrentStateChange)
}

func (n *Node) refreshDesiredState(ctx context.Context) {
	data, _, err := n.cache.adapter.GetData(ctx, keyspace.DesiredStatePath(n.Key()), n, tagDesiredState)
	if err != nil {
		if isNoNode(err) {
			return
		}
		n.cache.log.Errorw("refreshDesiredState failed", "key", n.Key(), "err", err)
		return
	}
	n.attrMu.Lock()
	n.desiredState = data
	n.attrMu.Unlock()
	n.cache.publish(n, events.DesiredStateChange)
}

// IsConnected reports the cached presence of the node's CONNECTED
// ephemeral.
func (n *Node) IsConnected() bool {
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.connected
}

// ClientState returns the cached clientState string.
func (n *Node) ClientState() string {
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.clientState
}

// CurrentState returns the cached currentState JSON payload.
func (n *Node) CurrentState() []byte {
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.currentState
}

// DesiredState returns the cached desiredState JSON payload.
func (n *Node) DesiredState() []byte {
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.desiredState
}

// SetClientState writes the node's clientState attribute.
func (n *Node) SetClientState(ctx context.Context, state string) error {
	if err := n.checkRemoved(); err != nil {
		return err
	}
	_, err := n.cache.adapter.SetData(ctx, keyspace.ClientStatePath(n.Key()), []byte(state), -1)
	return err
}

// SetDesiredState writes the node's desiredState JSON payload.
func (n *Node) SetDesiredState(ctx context.Context, payload []byte) error {
	if err := n.checkRemoved(); err != nil {
		return err
	}
	_, err := n.cache.adapter.SetData(ctx, keyspace.DesiredStatePath(n.Key()), payload, -1)
	return err
}

// Remove deletes the node's registry subtree and evicts it, and any
// still-cached descendants such as its ProcessSlots, from the cache.
func (n *Node) Remove(ctx context.Context) error {
	if err := n.checkRemoved(); err != nil {
		return err
	}
	if err := n.cache.adapter.DeleteNode(ctx, n.Key(), true, -1); err != nil {
		return err
	}
	n.cache.removeTree(n)
	return nil
}

// GetProcessSlot returns the named ProcessSlot, lazily loading and
// arming it.
func (n *Node) GetProcessSlot(ctx context.Context, name string, createIfAbsent bool) (*ProcessSlot, error) {
	return n.cache.loadProcessSlot(ctx, n, name, createIfAbsent)
}

// GetProcessSlotNames lists process slot names, sorted.
func (n *Node) GetProcessSlotNames(ctx context.Context) ([]string, error) {
	return n.cache.childNames(ctx, keyspace.ProcessSlotsPath(n.Key()), registry.WatchListenerFunc(func(registry.UserEvent, any) {}), struct{}{})
}
