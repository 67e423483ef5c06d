package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/clerr"
	"github.com/doevelopper/Clusterlib/internal/logging"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/ordering"
	"github.com/doevelopper/Clusterlib/registry"
)

// MethodHandler executes one registered RPC method against its decoded
// params and returns a JSON-marshalable result.
type MethodHandler func(ctx context.Context, params []json.RawMessage) (any, error)

// Responder dequeues requests from a recv queue, dispatches them to
// registered method handlers, and writes replies back to the caller's
// response queue. Malformed requests and requests with no derivable
// response queue go to an optional completed queue instead.
type Responder struct {
	log *zap.SugaredLogger

	adapter      *registry.Adapter
	recvQueue    *ordering.Queue
	responseRoot string
	completed    *ordering.Queue

	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewResponder constructs a Responder serving recvQueuePath. responseRoot
// must match the root a Requester derives its response queue names
// under (see NewRequester). completedQueuePath may be empty.
func NewResponder(ctx context.Context, adapter *registry.Adapter, recvQueuePath, responseRoot, completedQueuePath string) (*Responder, error) {
	recvQueue, err := ordering.NewQueue(ctx, adapter, recvQueuePath)
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
	return &Responder{
		log:          logging.New("rpc"),
		adapter:      adapter,
		recvQueue:    recvQueue,
		responseRoot: responseRoot,
		completed:    completed,
		handlers:     map[string]MethodHandler{},
	}, nil
}

// RegisterMethod installs h as the handler for method name. Registering
// the same name twice replaces the previous handler.
func (r *Responder) RegisterMethod(name string, h MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Serve loops calling ServeOne until ctx is canceled, log-and-continuing
// on any per-request error so one bad request never stops the server.
func (r *Responder) Serve(ctx context.Context) {
	for {
		if err := r.ServeOne(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Errorw("serve request failed", "err", err)
		}
	}
}

// ServeOne dequeues, dispatches, and replies to exactly one request.
func (r *Responder) ServeOne(ctx context.Context) error {
	elem, err := r.recvQueue.Take(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.recvQueue.Remove(ctx, elem.Name); err != nil {
			r.log.Errorw("remove consumed request failed", "name", elem.Name, "err", err)
		}
	}()

	req, err := parseRequest(elem.Value)
	if err != nil {
		r.archive(ctx, elem.Value)
		return err
	}

	resp := r.invoke(ctx, req)
	return r.reply(ctx, req.ID, resp)
}

func (r *Responder) invoke(ctx context.Context, req Request) Response {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return Response{ID: req.ID, Error: clerr.Newf(clerr.InvalidMethod, "unknown method %q", req.Method).Error()}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: data}
}

func (r *Responder) reply(ctx context.Context, id string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	tag, ok := callerTagOf(id)
	if !ok {
		r.archive(ctx, data)
		return nil
	}

	queue, err := ordering.NewQueue(ctx, r.adapter, keyspace.Child(r.responseRoot, tag))
	if err != nil {
		r.log.Errorw("open response queue failed", "tag", tag, "err", err)
		r.archive(ctx, data)
		return nil
	}
	if _, err := queue.Put(ctx, data); err != nil {
		r.log.Errorw("write response failed", "tag", tag, "err", err)
		r.archive(ctx, data)
	}
	return nil
}

func (r *Responder) archive(ctx context.Context, raw []byte) {
	if r.completed == nil {
		return
	}
	if _, err := r.completed.Put(ctx, raw); err != nil {
		r.log.Errorw("archive to completed queue failed", "err", err)
	}
}
