package notifyable

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// HashMax bounds the range DataDistribution shards partition: shards
// must cover a contiguous prefix of [0, HashMax).
const HashMax = uint64(1) << 32

// HashFunc is the pluggable hash callback a caller may supply instead of
// the default; DefaultHashFunc (FNV-1a) is used when a DataDistribution
// is not given one explicitly.
type HashFunc func(key string) uint64

// DefaultHashFunc hashes key with FNV-1a, scaled into [0, HashMax).
func DefaultHashFunc(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64() % HashMax
}

// Shard is a half-open integer range of hash values assigned to a node.
type Shard struct {
	Lo      uint64 `json:"lo,string"`
	Hi      uint64 `json:"hi,string"`
	NodeKey string `json:"nodeKey,omitempty"`
}

type ddPayload struct {
	Shards    []Shard           `json:"shards"`
	Overrides map[string]string `json:"overrides"`
}

// DataDistribution is an ordered shard table plus manual key->node
// overrides. Overrides take precedence over the shard hash lookup.
type DataDistribution struct {
	header
	cache *Cache
	hash  HashFunc

	mu        sync.RWMutex
	shards    []Shard
	overrides map[string]string
}

func (c *Cache) newDataDistribution(key string, parent Notifyable) *DataDistribution {
	return &DataDistribution{
		header:    newHeader(key, parent),
		cache:     c,
		hash:      DefaultHashFunc,
		overrides: map[string]string{},
	}
}

func (c *Cache) loadDataDistribution(ctx context.Context, parent *Group, name string, createIfAbsent bool) (*DataDistribution, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegDistributions, name)

	c.mu.RLock()
	if d, ok := c.dists[key]; ok {
		c.mu.RUnlock()
		return d, nil
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
	if d, ok := c.dists[key]; ok {
		c.mu.Unlock()
		return d, nil
	}
	d := c.newDataDistribution(key, parent)
	c.dists[key] = d
	c.mu.Unlock()

	d.setState(StateReady)
	d.lock(internalHolder)
	d.refresh(ctx)
	d.unlock(internalHolder)
	c.armSelfWatch(ctx, d, d)
	return d, nil
}

func (d *DataDistribution) refresh(ctx context.Context) {
	data, _, err := d.cache.adapter.GetData(ctx, d.Key(), d, attrTag("distribution"))
	if err != nil {
		if isNoNode(err) {
			return
		}
		d.cache.log.Errorw("refresh distribution failed", "key", d.Key(), "err", err)
		return
	}
	if len(data) == 0 {
		return
	}
	var payload ddPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.cache.log.Errorw("malformed distribution payload", "key", d.Key(), "err", err)
		return
	}
	d.mu.Lock()
	d.shards = payload.Shards
	d.overrides = payload.Overrides
	if d.overrides == nil {
		d.overrides = map[string]string{}
	}
	d.mu.Unlock()
	d.cache.publish(d, events.DistributionsChange)
}

// HandleWatchEvent implements registry.WatchListener for the
// distribution's data and self-removal watches.
func (d *DataDistribution) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	d.lock(internalHolder)
	defer d.unlock(internalHolder)
	if d.State() == StateRemoved {
		return
	}
	if tag, _ := watchCtx.(attrTag); tag == tagSelf {
		d.cache.handleSelfEvent(d, ev, d)
		return
	}
	d.refresh(context.Background())
}

// SetHashFunc overrides the pluggable hash function used by HashKey and
// FindCoveringNode.
func (d *DataDistribution) SetHashFunc(fn HashFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hash = fn
}

// HashKey maps key into the [0, HashMax) shard space using the
// distribution's hash function.
func (d *DataDistribution) HashKey(key string) uint64 {
	d.mu.RLock()
	fn := d.hash
	d.mu.RUnlock()
	return fn(key)
}

// Shards returns a copy of the distribution's current shard list.
func (d *DataDistribution) Shards() []Shard {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Shard, len(d.shards))
	copy(out, d.shards)
	return out
}

// FindCoveringNode returns the node key responsible for key: a manual
// override if one exists, otherwise the shard whose [lo, hi) range
// contains the hash of key.
func (d *DataDistribution) FindCoveringNode(key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if node, ok := d.overrides[key]; ok {
		return node, nil
	}
	h := d.hash(key)
	for _, s := range d.shards {
		if h >= s.Lo && h < s.Hi {
			return s.NodeKey, nil
		}
	}
	return "", clerr.Newf(clerr.InvalidArgument, "no shard covers hash %d for key %q", h, key)
}

// SetShards replaces the distribution's shard table and persists it.
// Shards must cover a contiguous, non-overlapping prefix of
// [0, HashMax).
func (d *DataDistribution) SetShards(ctx context.Context, shards []Shard) error {
	if err := d.checkRemoved(); err != nil {
		return err
	}
	if err := validateShards(shards); err != nil {
		return err
	}
	d.mu.Lock()
	overrides := d.overrides
	d.mu.Unlock()
	return d.persist(ctx, shards, overrides)
}

// SetOverride assigns a manual key→node override and persists it.
func (d *DataDistribution) SetOverride(ctx context.Context, key, nodeKey string) error {
	if err := d.checkRemoved(); err != nil {
		return err
	}
	d.mu.Lock()
	d.overrides[key] = nodeKey
	shards := d.shards
	overrides := make(map[string]string, len(d.overrides))
	for k, v := range d.overrides {
		overrides[k] = v
	}
	d.mu.Unlock()
	return d.persist(ctx, shards, overrides)
}

func (d *DataDistribution) persist(ctx context.Context, shards []Shard, overrides map[string]string) error {
	data, err := json.Marshal(ddPayload{Shards: shards, Overrides: overrides})
	if err != nil {
		return err
	}
	if _, err := d.cache.adapter.SetData(ctx, d.Key(), data, -1); err != nil {
		return err
	}
	d.mu.Lock()
	d.shards = shards
	d.overrides = overrides
	d.mu.Unlock()
	return nil
}

// Remove deletes the distribution's registry node and evicts it from
// the cache.
func (d *DataDistribution) Remove(ctx context.Context) error {
	if err := d.checkRemoved(); err != nil {
		return err
	}
	if err := d.cache.adapter.DeleteNode(ctx, d.Key(), true, -1); err != nil {
		return err
	}
	d.cache.removeTree(d)
	return nil
}

func validateShards(shards []Shard) error {
	if len(shards) == 0 {
		return nil
	}
	var next uint64
	for i, s := range shards {
		if s.Lo != next {
			return clerr.Newf(clerr.InvalidArgument, "shard %d: gap or overlap at %d, expected %d", i, s.Lo, next)
		}
		if s.Hi <= s.Lo {
			return clerr.Newf(clerr.InvalidArgument, "shard %d: empty or inverted range [%d,%d)", i, s.Lo, s.Hi)
		}
		next = s.Hi
	}
	if next > HashMax {
		return clerr.Newf(clerr.InvalidArgument, "shard table exceeds HashMax: %d > %d", next, HashMax)
	}
	return nil
}
