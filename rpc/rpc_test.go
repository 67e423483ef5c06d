package rpc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doevelopper/Clusterlib/ordering"
	"github.com/doevelopper/Clusterlib/registry"
	"github.com/doevelopper/Clusterlib/registry/memstore"
	"github.com/doevelopper/Clusterlib/rpc"
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

func TestRequestResponseRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	responder, err := rpc.NewResponder(ctx, adapter, "/rpc/recv", "/rpc/responses", "")
	require.NoError(t, err)
	responder.RegisterMethod("echo", func(ctx context.Context, params []json.RawMessage) (any, error) {
		var s string
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &s)
		}
		return s, nil
	})

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	go responder.Serve(serveCtx)

	requester, err := rpc.NewRequester(ctx, adapter, "/rpc/recv", "/rpc/responses", "caller-1", "")
	require.NoError(t, err)
	defer requester.Close()

	arg, err := json.Marshal("hello")
	require.NoError(t, err)

	result, err := requester.Call(ctx, "echo", []json.RawMessage{arg}, time.Second)
	require.NoError(t, err)

	var got string
	require.NoError(t, json.Unmarshal(result, &got))
	require.Equal(t, "hello", got)
}

func TestRequestUnknownMethodReturnsRemoteError(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	responder, err := rpc.NewResponder(ctx, adapter, "/rpc/recv2", "/rpc/responses2", "")
	require.NoError(t, err)

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	go responder.Serve(serveCtx)

	requester, err := rpc.NewRequester(ctx, adapter, "/rpc/recv2", "/rpc/responses2", "caller-1", "")
	require.NoError(t, err)
	defer requester.Close()

	_, err = requester.Call(ctx, "nonexistent", nil, time.Second)
	require.Error(t, err)
}

func TestRequestHandlerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	responder, err := rpc.NewResponder(ctx, adapter, "/rpc/recv3", "/rpc/responses3", "")
	require.NoError(t, err)
	responder.RegisterMethod("failplain", func(ctx context.Context, params []json.RawMessage) (any, error) {
		return nil, errPlain("boom")
	})

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	go responder.Serve(serveCtx)

	requester, err := rpc.NewRequester(ctx, adapter, "/rpc/recv3", "/rpc/responses3", "caller-1", "")
	require.NoError(t, err)
	defer requester.Close()

	_, err = requester.Call(ctx, "failplain", nil, time.Second)
	require.Error(t, err)
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

func TestRequestCallTimesOutWithNoResponder(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	requester, err := rpc.NewRequester(ctx, adapter, "/rpc/recv4", "/rpc/responses4", "caller-1", "")
	require.NoError(t, err)
	defer requester.Close()

	_, err = requester.Call(ctx, "anything", nil, 30*time.Millisecond)
	require.Error(t, err)
}

func TestMalformedRequestRoutedToCompletedQueue(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	completedPath := "/rpc/completed5"
	responder, err := rpc.NewResponder(ctx, adapter, "/rpc/recv5", "/rpc/responses5", completedPath)
	require.NoError(t, err)

	recvQueue, err := ordering.NewQueue(ctx, adapter, "/rpc/recv5")
	require.NoError(t, err)
	_, err = recvQueue.Put(ctx, []byte(`{"method":"x","params":[],"id":"bad-1","extra":true}`))
	require.NoError(t, err)

	err = responder.ServeOne(ctx)
	require.Error(t, err)

	completedQueue, err := ordering.NewQueue(ctx, adapter, completedPath)
	require.NoError(t, err)
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	elem, err := completedQueue.Take(ctx2)
	require.NoError(t, err)
	require.Contains(t, string(elem.Value), "extra")
}

func TestOpaqueIDRoutesReplyToCompletedQueue(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	completedPath := "/rpc/completed6"
	responder, err := rpc.NewResponder(ctx, adapter, "/rpc/recv6", "/rpc/responses6", completedPath)
	require.NoError(t, err)
	responder.RegisterMethod("noop", func(ctx context.Context, params []json.RawMessage) (any, error) {
		return "ok", nil
	})

	recvQueue, err := ordering.NewQueue(ctx, adapter, "/rpc/recv6")
	require.NoError(t, err)
	// an opaque, caller-supplied id with no derivable response queue tag.
	_, err = recvQueue.Put(ctx, []byte(`{"method":"noop","params":[],"id":"fire-and-forget"}`))
	require.NoError(t, err)

	require.NoError(t, responder.ServeOne(ctx))

	completedQueue, err := ordering.NewQueue(ctx, adapter, completedPath)
	require.NoError(t, err)
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	elem, err := completedQueue.Take(ctx2)
	require.NoError(t, err)
	require.Contains(t, string(elem.Value), "fire-and-forget")
}

func TestUnsolicitedResponseIsArchived(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	completedPath := "/rpc/completed7"
	requester, err := rpc.NewRequester(ctx, adapter, "/rpc/recv7", "/rpc/responses7", "caller-7", completedPath)
	require.NoError(t, err)
	defer requester.Close()

	responseQueue, err := ordering.NewQueue(ctx, adapter, "/rpc/responses7/caller-7")
	require.NoError(t, err)
	_, err = responseQueue.Put(ctx, []byte(`{"result":"unexpected","id":"caller-7-0000000099"}`))
	require.NoError(t, err)

	completedQueue, err := ordering.NewQueue(ctx, adapter, completedPath)
	require.NoError(t, err)
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	elem, err := completedQueue.Take(ctx2)
	require.NoError(t, err)
	require.Contains(t, string(elem.Value), "unexpected")
}
