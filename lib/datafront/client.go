package datafront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dFront/lib/action"
	"github.com/ValentinKolb/dFront/lib/cache"
	"github.com/ValentinKolb/dFront/lib/cleaner"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/query"
	"github.com/ValentinKolb/dFront/lib/singleton"
	"github.com/ValentinKolb/dFront/lib/table"
	"github.com/ValentinKolb/dFront/lib/updater"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("datafront")

var (
	ErrDuplicateName = errors.New("name is already registered")
	ErrClosed        = errors.New("datafront client is closed")
)

// ITransport is the server boundary of the datafront. Request/response calls
// must be safe for concurrent use. PushEvents delivers the server-pushed
// batches in the order the server sent them.
type ITransport interface {
	FetchSingleton(ctx context.Context, path string) (entity.ApiEntity, error)
	FetchQuery(ctx context.Context, path string, kind query.Kind, payload any) (map[string]entity.ApiEntity, error)
	InvokeAction(ctx context.Context, name, token string, payload any) (entity.ApiEntity, error)
	Unsubscribe(path string, ids []string)
	PushEvents() <-chan entity.Batch
	Close() error
}

// Config holds the client settings.
type Config struct {
	// SweepInterval is the period of the cleaner.
	SweepInterval time.Duration
	// RequestTimeout bounds every fetch and action invocation. Zero disables it.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		SweepInterval:  cleaner.DefaultInterval,
		RequestTimeout: 30 * time.Second,
	}
}

// Client owns the transport, the updater, the cleaner and every table,
// singleton and action of one datafront. Construct it once and pass it to
// the code that declares the components.
type Client struct {
	transport ITransport
	config    Config

	updater *updater.Updater
	cleaner *cleaner.Cleaner
	metrics *metrics.Set

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	names map[string]struct{}

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a client on top of transport. Call Start to begin processing
// push events and sweeping.
func New(transport ITransport, config Config) *Client {
	if config.SweepInterval <= 0 {
		config.SweepInterval = cleaner.DefaultInterval
	}
	set := metrics.NewSet()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport: transport,
		config:    config,
		updater:   updater.New(set),
		cleaner:   cleaner.New(config.SweepInterval),
		metrics:   set,
		ctx:       ctx,
		cancel:    cancel,
		names:     make(map[string]struct{}),
	}
}

// Start subscribes to the push stream and starts the cleaner. It is
// idempotent.
func (c *Client) Start() {
	if c.closed.Load() || !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if err := c.updater.Run(c.ctx, c.transport.PushEvents()); err != nil && !errors.Is(err, context.Canceled) {
			Logger.Errorf("push stream: %v", err)
		}
	}()
	c.cleaner.Start(c.ctx)
	Logger.Infof("datafront started (sweep every %s)", c.config.SweepInterval)
}

// Close stops background work, cancels in-flight requests and closes the transport.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	return c.transport.Close()
}

// Sweep runs one cleaner tick right away.
func (c *Client) Sweep() {
	c.cleaner.Tick()
}

// Updater returns the push event router of the client.
func (c *Client) Updater() *updater.Updater {
	return c.updater
}

// WriteMetrics writes the client metrics in Prometheus text format.
func (c *Client) WriteMetrics(w io.Writer) {
	c.metrics.WritePrometheus(w)
}

// claim reserves a component name
func (c *Client) claim(kind, name string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := kind + "/" + name
	if _, ok := c.names[key]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateName, kind, name)
	}
	c.names[key] = struct{}{}
	return nil
}

// --------------------------------------------------------------------------
// Component Declaration
// --------------------------------------------------------------------------

// NewTable declares the table stored under name on the server. The table
// accepts queries of the given kinds, receives patches for name and is swept
// by the client's cleaner.
func NewTable[E any](c *Client, name string, mapFn cache.MapFunc[E], kinds ...query.Kind) (*table.Table[E], error) {
	if err := c.claim("table", name); err != nil {
		return nil, err
	}
	t := table.New(name, mapFn, c.transport, table.Options{
		Context: c.ctx,
		Timeout: c.config.RequestTimeout,
		Metrics: c.metrics,
	}, kinds...)
	c.updater.OnTable(name, t.ApplyPatch)
	c.updater.OnResync(func() { t.Resync() })
	c.cleaner.Register("table/"+name, func() { t.Sweep() })
	return t, nil
}

// NewSingleton declares the singleton stored under path on the server.
func NewSingleton[E any](c *Client, path string, mapFn func(entity.ApiEntity) E) (*singleton.Singleton[E], error) {
	if err := c.claim("singleton", path); err != nil {
		return nil, err
	}
	s := singleton.New(path, mapFn, c.transport, singleton.Options{
		Context: c.ctx,
		Timeout: c.config.RequestTimeout,
		Metrics: c.metrics,
	})
	c.updater.OnSingleton(path, s.ApplyPatch)
	c.updater.OnResync(func() { s.Resync() })
	return s, nil
}

// NewAction declares the server action name.
func NewAction[R any](c *Client, name string, mapFn func(entity.ApiEntity) R) (*action.Action[R], error) {
	if err := c.claim("action", name); err != nil {
		return nil, err
	}
	return action.New(name, mapFn, c.transport, action.Options{
		Context: c.ctx,
		Timeout: c.config.RequestTimeout,
		Metrics: c.metrics,
	}), nil
}
