package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/internal/logging"
)

// HandlerFunc receives a domain event and the userData it was registered
// with.
type HandlerFunc func(ev events.Event, userData any)

type handler struct {
	id              string
	targetEntityKey string
	mask            events.Kind
	userData        any
	fn              HandlerFunc
}

// Option configures a Client.
type Option func(*Client)

// WithQueueSize sets the client's event queue capacity (default 256).
func WithQueueSize(n int) Option {
	return func(c *Client) { c.queueSize = n }
}

// Client owns one MPSC event queue and one dispatcher worker, using a
// goroutine-plus-WaitGroup shutdown shape. It implements
// events.Publisher so a notifyable.Cache can fan events out to it
// directly.
type Client struct {
	log       *zap.SugaredLogger
	queueSize int
	queue     chan events.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string]*handler
	nextID   uint64
}

// cacheSubscriber is the minimal surface Client needs from a
// notifyable.Cache, kept narrow to avoid an import-cycle-prone direct
// dependency and to let tests substitute a fake.
type cacheSubscriber interface {
	Subscribe(events.Publisher)
	Unsubscribe(events.Publisher)
}

// New constructs a Client subscribed to cache and starts its dispatcher
// worker.
func New(cache cacheSubscriber, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		log:       logging.New("client"),
		queueSize: 256,
		ctx:       ctx,
		cancel:    cancel,
		handlers:  map[string]*handler{},
	}
	for _, o := range opts {
		o(c)
	}
	c.queue = make(chan events.Event, c.queueSize)
	cache.Subscribe(c)

	c.wg.Add(1)
	go c.run(cache)
	return c
}

// Publish implements events.Publisher. It never blocks past the
// client's shutdown: once Close is called, pending publishes are
// dropped rather than leaking a blocked producer goroutine.
func (c *Client) Publish(ev events.Event) {
	select {
	case c.queue <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Client) run(cache cacheSubscriber) {
	defer c.wg.Done()
	for {
		select {
		case ev := <-c.queue:
			c.dispatch(ev)
		case <-c.ctx.Done():
			cache.Unsubscribe(c)
			return
		}
	}
}

func (c *Client) dispatch(ev events.Event) {
	c.mu.RLock()
	matched := make([]*handler, 0, 4)
	for _, h := range c.handlers {
		if h.targetEntityKey == ev.Entity.Key() && h.mask&ev.Kind != 0 {
			matched = append(matched, h)
		}
	}
	c.mu.RUnlock()

	for _, h := range matched {
		c.invoke(h, ev)
	}
}

func (c *Client) invoke(h *handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("user handler panicked", "panic", r, "handler", h.id, "key", ev.Entity.Key())
		}
	}()
	h.fn(ev, h.userData)
}

// RegisterHandler subscribes fn to every event published for
// targetEntityKey whose Kind intersects mask, returning a handler id
// usable with CancelHandler.
func (c *Client) RegisterHandler(targetEntityKey string, mask events.Kind, fn HandlerFunc, userData any) string {
	id := fmt.Sprintf("h-%d", atomic.AddUint64(&c.nextID, 1))
	c.mu.Lock()
	c.handlers[id] = &handler{id: id, targetEntityKey: targetEntityKey, mask: mask, userData: userData, fn: fn}
	c.mu.Unlock()
	return id
}

// CancelHandler removes a previously registered handler. Canceling an
// unknown id is a no-op.
func (c *Client) CancelHandler(id string) {
	c.mu.Lock()
	delete(c.handlers, id)
	c.mu.Unlock()
}

// Close stops the dispatcher worker and unsubscribes from the cache.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
