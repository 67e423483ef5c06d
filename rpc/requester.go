package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/internal/logging"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/ordering"
	"github.com/doevelopper/Clusterlib/registry"
)

type pendingCall struct {
	done chan struct{}
	resp Response
	err  error
}

// Requester sends JSON-RPC requests into a callee's recv queue and
// correlates replies arriving on its own response queue. One Requester
// owns exactly one response queue and one background receiver
// goroutine.
type Requester struct {
	log *zap.SugaredLogger

	recvQueue     *ordering.Queue
	responseQueue *ordering.Queue
	completed     *ordering.Queue // optional, for malformed/unsolicited replies
	ids           *idSource

	mu      sync.Mutex
	pending map[string]*pendingCall

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRequester constructs a Requester that sends into the queue rooted
// at recvQueuePath and receives replies on a queue named by tag under
// responseRoot (or a generated tag, if tag is ""). completedQueuePath
// may be empty, in which case malformed/unsolicited replies are
// logged and dropped instead of archived.
func NewRequester(ctx context.Context, adapter *registry.Adapter, recvQueuePath, responseRoot, tag, completedQueuePath string) (*Requester, error) {
	recvQueue, err := ordering.NewQueue(ctx, adapter, recvQueuePath)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		tag = defaultTag()
	}
	responseQueue, err := ordering.NewQueue(ctx, adapter, keyspace.Child(responseRoot, tag))
	if err != nil {
		return nil, err
	}
	var completed *ordering.Queue
	if completedQueuePath != "" {
		completed, err = ordering.NewQueue(ctx, adapter, completedQueuePath)
		if err != nil {
			return nil, err
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &Requester{
		log:           logging.New("rpc"),
		recvQueue:     recvQueue,
		responseQueue: responseQueue,
		completed:     completed,
		ids:           newIDSource(tag),
		pending:       map[string]*pendingCall{},
		ctx:           rctx,
		cancel:        cancel,
	}
	r.wg.Add(1)
	go r.receiveLoop()
	return r, nil
}

func (r *Requester) receiveLoop() {
	defer r.wg.Done()
	for {
		elem, err := r.responseQueue.Take(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.log.Errorw("response queue take failed", "err", err)
			continue
		}
		r.handleReply(elem)
	}
}

func (r *Requester) handleReply(elem ordering.Element) {
	defer func() {
		if err := r.responseQueue.Remove(r.ctx, elem.Name); err != nil {
			r.log.Errorw("remove consumed response failed", "name", elem.Name, "err", err)
		}
	}()

	resp, err := parseResponse(elem.Value)
	if err != nil {
		r.log.Warnw("malformed response", "err", err)
		r.archive(elem.Value)
		return
	}

	r.mu.Lock()
	call, ok := r.pending[resp.ID]
	if ok {
		delete(r.pending, resp.ID)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warnw("unsolicited response", "id", resp.ID)
		r.archive(elem.Value)
		return
	}
	call.resp = resp
	close(call.done)
}

func (r *Requester) archive(raw []byte) {
	if r.completed == nil {
		return
	}
	if _, err := r.completed.Put(r.ctx, raw); err != nil {
		r.log.Errorw("archive to completed queue failed", "err", err)
	}
}

// Call sends method(params) to the callee and blocks for its reply up
// to timeout, returning the decoded result or the remote's error. A
// zero timeout means wait forever (bounded only by ctx).
func (r *Requester) Call(ctx context.Context, method string, params []json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	id := r.ids.next()
	req := Request{Method: method, Params: params, ID: id}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	call := &pendingCall{done: make(chan struct{})}
	r.mu.Lock()
	r.pending[id] = call
	r.mu.Unlock()

	if _, err := r.recvQueue.Put(ctx, data); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, err
	}

	return r.waitResponse(ctx, id, call, timeout)
}

func (r *Requester) waitResponse(ctx context.Context, id string, call *pendingCall, timeout time.Duration) (json.RawMessage, error) {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-call.done:
		if call.resp.Error != "" {
			return nil, clerr.Newf(clerr.JSONRPCInvocation, "remote error: %s", call.resp.Error)
		}
		return call.resp.Result, nil
	case <-timeoutCh:
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, clerr.New(clerr.Timeout, "waitResponse: no response")
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, clerr.Wrap(clerr.Timeout, ctx.Err(), "waitResponse: context canceled")
	}
}

// Close stops the receive loop. Outstanding Call invocations still
// block until their own ctx is canceled or they time out.
func (r *Requester) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}
