package notifyable_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/notifyable"
	"github.com/doevelopper/Clusterlib/registry"
	"github.com/doevelopper/Clusterlib/registry/memstore"
)

func newTestAdapter(t *testing.T) *registry.Adapter {
	t.Helper()
	store := memstore.New()
	adapter := registry.NewAdapter(store, registry.WithLeaseTimeout(2*time.Second))
	t.Cleanup(func() { _ = adapter.Close() })
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && adapter.State() != registry.StateConnected {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, registry.StateConnected, adapter.State())
	return adapter
}

// fakePublisher records every event it receives so tests can assert a
// watch-triggered refresh eventually published the expected kind.
type fakePublisher struct {
	mu   sync.Mutex
	seen []events.Event
}

func (f *fakePublisher) Publish(ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, ev)
}

func (f *fakePublisher) count(kind events.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.seen {
		if ev.Kind&kind != 0 {
			n++
		}
	}
	return n
}

func waitForCount(t *testing.T, f *fakePublisher, kind events.Kind, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.count(kind) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events of kind %v, saw %d", want, kind, f.count(kind))
}

func TestRootCreatedImplicitlyAndCached(t *testing.T) {
	ctx := context.Background()
	cache := notifyable.NewCache(newTestAdapter(t))

	r1, err := cache.Root(ctx)
	require.NoError(t, err)
	require.NotNil(t, r1)

	r2, err := cache.Root(ctx)
	require.NoError(t, err)
	require.Same(t, r1, r2)
}

func TestApplicationGroupNodeChain(t *testing.T) {
	ctx := context.Background()
	cache := notifyable.NewCache(newTestAdapter(t))

	root, err := cache.Root(ctx)
	require.NoError(t, err)

	app, err := root.GetApplication(ctx, "myapp", true)
	require.NoError(t, err)
	require.NotNil(t, app)

	grp, err := app.GetGroup(ctx, "workers", true)
	require.NoError(t, err)
	require.NotNil(t, grp)

	node, err := grp.GetNode(ctx, "node1", true)
	require.NoError(t, err)
	require.NotNil(t, node)

	names, err := app.GetGroupNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"workers"}, names)

	nodeNames, err := grp.GetNodeNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"node1"}, nodeNames)
}

func TestGetWithoutCreateIfAbsentReturnsNil(t *testing.T) {
	ctx := context.Background()
	cache := notifyable.NewCache(newTestAdapter(t))

	root, err := cache.Root(ctx)
	require.NoError(t, err)

	app, err := root.GetApplication(ctx, "ghost", false)
	require.NoError(t, err)
	require.Nil(t, app)
}

func TestNodeConnectedReflectsEphemeralPresence(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)
	pub := &fakePublisher{}
	cache.Subscribe(pub)

	root, err := cache.Root(ctx)
	require.NoError(t, err)
	app, err := root.GetApplication(ctx, "app1", true)
	require.NoError(t, err)
	grp, err := app.GetGroup(ctx, "g1", true)
	require.NoError(t, err)
	node, err := grp.GetNode(ctx, "n1", true)
	require.NoError(t, err)
	require.False(t, node.IsConnected())

	_, err = adapter.CreateNode(ctx, node.Key()+"/CONNECTED", nil, registry.CreateMode{Ephemeral: true}, true)
	require.NoError(t, err)

	waitForCount(t, pub, events.ConnectedChange, 1)
	require.True(t, node.IsConnected())
}

func TestNodeClientStateWatchRefresh(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)
	pub := &fakePublisher{}
	cache.Subscribe(pub)

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)
	node, err := grp.GetNode(ctx, "n1", true)
	require.NoError(t, err)

	require.NoError(t, node.SetClientState(ctx, "RUNNING"))
	waitForCount(t, pub, events.ClientStateChange, 1)
	require.Equal(t, "RUNNING", node.ClientState())
}

func TestPropertyListSetAndGet(t *testing.T) {
	ctx := context.Background()
	cache := notifyable.NewCache(newTestAdapter(t))

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)

	pl, err := grp.GetPropertyList(ctx, "props", true)
	require.NoError(t, err)

	require.NoError(t, pl.Set(ctx, "color", "blue"))
	v, ok := pl.Get("color")
	require.True(t, ok)
	require.Equal(t, "blue", v)

	all := pl.All()
	require.Equal(t, map[string]string{"color": "blue"}, all)
}

func TestDataDistributionShardsAndOverrides(t *testing.T) {
	ctx := context.Background()
	cache := notifyable.NewCache(newTestAdapter(t))

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)

	dd, err := grp.GetDataDistribution(ctx, "dd1", true)
	require.NoError(t, err)

	half := notifyable.HashMax / 2
	shards := []notifyable.Shard{
		{Lo: 0, Hi: half, NodeKey: "node-a"},
		{Lo: half, Hi: notifyable.HashMax, NodeKey: "node-b"},
	}
	require.NoError(t, dd.SetShards(ctx, shards))
	require.Equal(t, shards, dd.Shards())

	dd.SetHashFunc(func(string) uint64 { return 0 })
	node, err := dd.FindCoveringNode("anykey")
	require.NoError(t, err)
	require.Equal(t, "node-a", node)

	require.NoError(t, dd.SetOverride(ctx, "special", "node-c"))
	node, err = dd.FindCoveringNode("special")
	require.NoError(t, err)
	require.Equal(t, "node-c", node)
}

func TestDataDistributionSetShardsRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	cache := notifyable.NewCache(newTestAdapter(t))

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)
	dd, err := grp.GetDataDistribution(ctx, "dd1", true)
	require.NoError(t, err)

	bad := []notifyable.Shard{
		{Lo: 0, Hi: 100, NodeKey: "a"},
		{Lo: 50, Hi: 200, NodeKey: "b"},
	}
	err = dd.SetShards(ctx, bad)
	require.Error(t, err)
}

func TestProcessSlotStateTransitions(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)
	pub := &fakePublisher{}
	cache.Subscribe(pub)

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)
	node, _ := grp.GetNode(ctx, "n1", true)

	slot, err := node.GetProcessSlot(ctx, "p0", true)
	require.NoError(t, err)

	require.NoError(t, slot.SetDesiredProcessState(ctx, notifyable.ProcessStarted))
	waitForCount(t, pub, events.ProcessSlotDesiredStateChange, 1)
	require.Equal(t, notifyable.ProcessStarted, slot.DesiredProcessState())

	require.NoError(t, slot.SetCurrentProcessState(ctx, notifyable.ProcessRunning))
	require.Equal(t, notifyable.ProcessRunning, slot.CurrentProcessState())

	info := notifyable.ProcessInfo{Command: []string{"/bin/true"}, PID: 42}
	require.NoError(t, slot.SetProcessInfo(ctx, info))
	require.Equal(t, info, slot.ProcessInfo())
}

func TestQueueEntityElementNamesReflectChildren(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)
	pub := &fakePublisher{}
	cache.Subscribe(pub)

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)

	q, err := grp.GetQueue(ctx, "q1", true)
	require.NoError(t, err)
	require.Empty(t, q.ElementNames())

	_, err = adapter.CreateNode(ctx, q.Key()+"/QUEUEELEMENT", nil, registry.CreateMode{Sequential: true}, true)
	require.NoError(t, err)

	waitForCount(t, pub, events.QueueChange, 1)
	require.Len(t, q.ElementNames(), 1)
}

func TestNodeRemoveTransitionsStateAndRejectsFurtherWrites(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)
	node, err := grp.GetNode(ctx, "n1", true)
	require.NoError(t, err)

	require.NoError(t, node.Remove(ctx))
	require.Equal(t, notifyable.StateRemoved, node.State())

	err = node.SetClientState(ctx, "RUNNING")
	require.Error(t, err)
	require.True(t, clerr.Is(err, clerr.ObjectRemoved))

	err = node.Remove(ctx)
	require.Error(t, err)
	require.True(t, clerr.Is(err, clerr.ObjectRemoved))
}

func TestExternalDeleteCascadesToRemoved(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)
	node, err := grp.GetNode(ctx, "n1", true)
	require.NoError(t, err)
	slot, err := node.GetProcessSlot(ctx, "p0", true)
	require.NoError(t, err)

	require.NoError(t, adapter.DeleteNode(ctx, node.Key(), true, -1))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && node.State() != notifyable.StateRemoved {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, notifyable.StateRemoved, node.State())
	require.Equal(t, notifyable.StateRemoved, slot.State())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	cache := notifyable.NewCache(adapter)
	pub := &fakePublisher{}
	cache.Subscribe(pub)
	cache.Unsubscribe(pub)

	root, _ := cache.Root(ctx)
	app, _ := root.GetApplication(ctx, "app1", true)
	grp, _ := app.GetGroup(ctx, "g1", true)
	node, _ := grp.GetNode(ctx, "n1", true)

	require.NoError(t, node.SetClientState(ctx, "RUNNING"))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, pub.count(events.ClientStateChange))
}
