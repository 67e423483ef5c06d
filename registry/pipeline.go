package registry

import (
	"sync"

	"go.uber.org/zap"
)

// typeToMethods maps a raw event type to the watchable methods whose
// armed watches it can satisfy.
func typeToMethods(t EventType) []WatchableMethod {
	switch t {
	case EventChanged, EventDeleted:
		return []WatchableMethod{MethodGetNodeData, MethodNodeExists}
	case EventCreated:
		return []WatchableMethod{MethodNodeExists}
	case EventChild:
		return []WatchableMethod{MethodGetNodeChildren}
	default:
		return nil
	}
}

// pipeline is the two-stage event pipeline: a raw stage that updates
// adapter connection state and forwards, and a user stage that
// demultiplexes by watch context and fires listeners.
type pipeline struct {
	adapter  *Adapter
	contexts *ContextRegistry
	log      *zap.SugaredLogger

	raw  chan RawEvent
	user chan RawEvent
	done chan struct{}
	wg   sync.WaitGroup
}

func newPipeline(a *Adapter, contexts *ContextRegistry, log *zap.SugaredLogger, bufSize int) *pipeline {
	return &pipeline{
		adapter:  a,
		contexts: contexts,
		log:      log,
		raw:      make(chan RawEvent, bufSize),
		user:     make(chan RawEvent, bufSize),
		done:     make(chan struct{}),
	}
}

func (p *pipeline) start() {
	p.wg.Add(2)
	go p.rawWorker()
	go p.userWorker()
}

// stop closes done, which both workers select on, and waits for both to
// exit. No terminal event passes through the queues, and events still
// queued when done closes may be dropped.
func (p *pipeline) stop() {
	close(p.done)
	p.wg.Wait()
}

// push enqueues a raw event for the pipeline. It never blocks the caller
// indefinitely on a full queue past done being closed.
func (p *pipeline) push(ev RawEvent) {
	select {
	case p.raw <- ev:
	case <-p.done:
	}
}

func (p *pipeline) rawWorker() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.raw:
			if ev.Type == EventSession {
				p.adapter.applySessionState(ev.State)
			}
			select {
			case p.user <- ev:
			case <-p.done:
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *pipeline) userWorker() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.user:
			p.dispatch(ev)
		case <-p.done:
			return
		}
	}
}

func (p *pipeline) dispatch(ev RawEvent) {
	if ev.Type == EventSession {
		if ev.Path == SyncSentinelPath {
			for l, ctx := range p.contexts.FindAndRemoveListenerContext(MethodSyncData, SyncSentinelPath) {
				p.fire(l, UserEvent{Method: MethodSyncData, Raw: ev}, ctx)
			}
			return
		}
		// Session-wide transition with no specific path: broadcast to
		// every outstanding watcher, consuming their one-shot watches
		// the way a real session expiry would.
		for _, e := range p.contexts.DrainAll() {
			p.fire(e.listener, UserEvent{Method: e.method, Raw: ev}, e.ctx)
		}
		return
	}

	methods := typeToMethods(ev.Type)
	found := false
	for _, method := range methods {
		ctxs := p.contexts.FindAndRemoveListenerContext(method, ev.Path)
		for l, ctx := range ctxs {
			found = true
			p.fire(l, UserEvent{Method: method, Raw: ev}, ctx)
		}
	}
	if !found {
		p.log.Errorw("unrouted registry event: no armed watch context", "type", ev.Type, "path", ev.Path)
	}
}

func (p *pipeline) fire(l WatchListener, ev UserEvent, ctx any) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("watch listener panicked", "panic", r, "method", ev.Method.String(), "path", ev.Raw.Path)
		}
	}()
	l.HandleWatchEvent(ev, ctx)
}
