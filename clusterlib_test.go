package clusterlib_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clusterlib "github.com/doevelopper/Clusterlib"
	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/registry"
	"github.com/doevelopper/Clusterlib/registry/memstore"
)

func newTestFactory(t *testing.T) *clusterlib.Factory {
	t.Helper()
	store := memstore.New()
	f := clusterlib.NewFactory(store, registry.WithLeaseTimeout(2*time.Second))
	t.Cleanup(func() { _ = f.Close() })
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && f.Adapter().State() != registry.StateConnected {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, registry.StateConnected, f.Adapter().State())
	return f
}

func TestFactoryCreateClientAndRoot(t *testing.T) {
	f := newTestFactory(t)
	c := f.CreateClient()
	defer c.Close()

	root, err := c.Root(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)
}

func TestClientHandlerRegistrationAgainstRootKey(t *testing.T) {
	f := newTestFactory(t)
	c := f.CreateClient()
	defer c.Close()

	root, err := c.Root(context.Background())
	require.NoError(t, err)

	received := make(chan events.Event, 1)
	c.RegisterHandler(root.Key(), events.All, func(ev events.Event, userData any) {
		received <- ev
	}, nil)

	// Looking up the root again should be a cache hit and not itself
	// publish anything; this just exercises that registration against a
	// real entity key compiles and runs without requiring a live event to
	// pass. A dedicated notifyable-level test covers actual refresh
	// events.
	again, err := c.Root(context.Background())
	require.NoError(t, err)
	require.Same(t, root, again)
}

func TestClientLockerAndQueueConstruction(t *testing.T) {
	f := newTestFactory(t)
	c := f.CreateClient()
	defer c.Close()

	ctx := context.Background()
	locker := c.NewLocker()
	lock, err := locker.Acquire(ctx, "/locks/smoke", "holder-a")
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))

	q, err := c.NewQueue(ctx, "/queues/smoke")
	require.NoError(t, err)
	_, err = q.Put(ctx, []byte("v"))
	require.NoError(t, err)
	elem, err := q.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, "v", string(elem.Value))
}

func TestClientRequesterResponderConstruction(t *testing.T) {
	f := newTestFactory(t)
	c := f.CreateClient()
	defer c.Close()

	ctx := context.Background()
	responder, err := c.NewResponder(ctx, "/rpc/smoke/recv", "/rpc/smoke/responses", "")
	require.NoError(t, err)
	require.NotNil(t, responder)

	requester, err := c.NewRequester(ctx, "/rpc/smoke/recv", "/rpc/smoke/responses", "smoke-caller", "")
	require.NoError(t, err)
	defer requester.Close()
	require.NotNil(t, requester)
}
