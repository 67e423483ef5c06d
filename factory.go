package clusterlib

import (
	"context"

	"go.uber.org/zap"

	"github.com/doevelopper/Clusterlib/client"
	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/internal/logging"
	"github.com/doevelopper/Clusterlib/notifyable"
	"github.com/doevelopper/Clusterlib/ordering"
	"github.com/doevelopper/Clusterlib/registry"
	"github.com/doevelopper/Clusterlib/rpc"
)

// Factory owns the single registry.Adapter and notifyable.Cache a
// process shares across every Client it creates. Keeping the cache's
// loaders unexported gives Factory the same narrow access a C++ friend
// declaration would grant, through an ordinary package boundary instead:
// Factory only ever calls the exported Cache/Adapter surface.
type Factory struct {
	log     *zap.SugaredLogger
	adapter *registry.Adapter
	cache   *notifyable.Cache
}

// NewFactory constructs a Factory over store. opts configure the
// underlying registry.Adapter (auto-reconnect, lease timeout, queue
// size).
func NewFactory(store registry.Store, opts ...registry.Option) *Factory {
	adapter := registry.NewAdapter(store, opts...)
	return &Factory{
		log:     logging.New("clusterlib"),
		adapter: adapter,
		cache:   notifyable.NewCache(adapter),
	}
}

// Adapter exposes the factory's registry adapter for callers that need
// direct access (e.g. to implement a custom registry.Store).
func (f *Factory) Adapter() *registry.Adapter { return f.adapter }

// CreateClient starts a new Client: its own event dispatcher subscribed
// to the factory's shared cache.
func (f *Factory) CreateClient(opts ...client.Option) *Client {
	return &Client{
		factory:    f,
		dispatcher: client.New(f.cache, opts...),
	}
}

// Close releases the factory's adapter, ending its session and closing
// every cached entity's watches.
func (f *Factory) Close() error {
	return f.adapter.Close()
}

// Client is one application's handle onto the shared cache, dispatch
// queue, and coordination primitives: Client owns dispatch, Factory
// owns the connection.
type Client struct {
	factory    *Factory
	dispatcher *client.Client
}

// Root returns the singleton root entity.
func (c *Client) Root(ctx context.Context) (*notifyable.Root, error) {
	return c.factory.cache.Root(ctx)
}

// RegisterHandler subscribes fn to events published for targetEntityKey
// matching mask.
func (c *Client) RegisterHandler(targetEntityKey string, mask events.Kind, fn client.HandlerFunc, userData any) string {
	return c.dispatcher.RegisterHandler(targetEntityKey, mask, fn, userData)
}

// CancelHandler unregisters a handler returned by RegisterHandler.
func (c *Client) CancelHandler(id string) {
	c.dispatcher.CancelHandler(id)
}

// NewLocker returns a fair FIFO lock manager over this client's
// adapter.
func (c *Client) NewLocker() *ordering.Locker {
	return ordering.NewLocker(c.factory.adapter)
}

// NewBarrier returns an N-party barrier manager over this client's
// adapter.
func (c *Client) NewBarrier() *ordering.Barrier {
	return ordering.NewBarrier(c.factory.adapter)
}

// NewQueue opens (creating if absent) the ordered queue rooted at path.
func (c *Client) NewQueue(ctx context.Context, path string) (*ordering.Queue, error) {
	return ordering.NewQueue(ctx, c.factory.adapter, path)
}

// NewRequester opens an RPC requester sending into recvQueuePath and
// receiving replies on a queue named tag (or a generated name, if tag
// is empty) under responseRoot. See rpc.NewRequester.
func (c *Client) NewRequester(ctx context.Context, recvQueuePath, responseRoot, tag, completedQueuePath string) (*rpc.Requester, error) {
	return rpc.NewRequester(ctx, c.factory.adapter, recvQueuePath, responseRoot, tag, completedQueuePath)
}

// NewResponder opens an RPC responder serving recvQueuePath, replying
// through responseRoot (see rpc.NewResponder).
func (c *Client) NewResponder(ctx context.Context, recvQueuePath, responseRoot, completedQueuePath string) (*rpc.Responder, error) {
	return rpc.NewResponder(ctx, c.factory.adapter, recvQueuePath, responseRoot, completedQueuePath)
}

// Close stops this client's event dispatcher. It does not close the
// factory's shared adapter; call Factory.Close when the process is
// done with the registry entirely.
func (c *Client) Close() error {
	return c.dispatcher.Close()
}
