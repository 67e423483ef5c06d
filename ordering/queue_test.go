package ordering_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doevelopper/Clusterlib/ordering"
)

func TestQueuePutTakeOrdering(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	q, err := ordering.NewQueue(ctx, adapter, "/queues/q1")
	require.NoError(t, err)

	for _, v := range []string{"first", "second", "third"} {
		_, err := q.Put(ctx, []byte(v))
		require.NoError(t, err)
	}

	for _, want := range []string{"first", "second", "third"} {
		elem, err := q.Take(ctx)
		require.NoError(t, err)
		require.Equal(t, want, string(elem.Value))
		require.NoError(t, q.Remove(ctx, elem.Name))
	}
}

func TestQueueTakeBlocksUntilPut(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	q, err := ordering.NewQueue(ctx, adapter, "/queues/q2")
	require.NoError(t, err)

	result := make(chan ordering.Element, 1)
	errCh := make(chan error, 1)
	go func() {
		elem, err := q.Take(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- elem
	}()

	select {
	case <-result:
		t.Fatal("Take returned before anything was put")
	case <-errCh:
		t.Fatal("Take errored before anything was put")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = q.Put(ctx, []byte("late"))
	require.NoError(t, err)

	select {
	case elem := <-result:
		require.Equal(t, "late", string(elem.Value))
	case err := <-errCh:
		t.Fatalf("Take errored: %v", err)
	case <-time.After(time.Second):
		t.Fatal("Take never unblocked after Put")
	}
}

func TestQueueTakeDoesNotRemove(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	q, err := ordering.NewQueue(ctx, adapter, "/queues/q3")
	require.NoError(t, err)

	_, err = q.Put(ctx, []byte("value"))
	require.NoError(t, err)

	first, err := q.Take(ctx)
	require.NoError(t, err)
	second, err := q.Take(ctx)
	require.NoError(t, err)

	require.Equal(t, first.Name, second.Name)
	require.Equal(t, "value", string(second.Value))
}

func TestQueueRemove(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	q, err := ordering.NewQueue(ctx, adapter, "/queues/q4")
	require.NoError(t, err)

	name, err := q.Put(ctx, []byte("gone"))
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, name))

	ctx2, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = q.Take(ctx2)
	require.Error(t, err)
}

func TestQueueContextCanceledWhileEmpty(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	q, err := ordering.NewQueue(ctx, adapter, "/queues/q5")
	require.NoError(t, err)

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Take(ctx2)
	require.Error(t, err)
}
