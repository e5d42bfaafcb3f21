package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/util"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientConnection represents a single net connection
type clientConnection struct {
	conn         net.Conn // guarded by connMu
	endpoint     string
	requestChans *xsync.MapOf[uint64, chan responseResult]
	connMu       sync.Mutex
	parent       *clientTransport
	ctx          context.Context // context of the Connect call that created the connection
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64 // Round Robin
	nextRequestID atomic.Uint64 // unique request IDs
	events        *util.Queue[transport.Event]
	ctx           context.Context // canceled on Close
	cancel        context.CancelFunc
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
		events:    util.NewQueue[transport.Event](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()

	t.config = config
	t.ctx, t.cancel = context.WithCancel(context.Background())

	connectionsPerEP := max(1, config.Transport.ConnectionsPerEndpoint)
	connections := make([]*clientConnection, 0, len(config.Transport.Endpoints)*connectionsPerEP)

	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				endpoint:     endpoint,
				requestChans: xsync.NewMapOf[uint64, chan responseResult](),
				parent:       t,
				ctx:          t.ctx,
			}

			if err := clientConn.reconnect(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			connections = append(connections, clientConn)
			Logger.Infof("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)

			go clientConn.readFrames()
		}
	}

	if len(connections) == 0 {
		return fmt.Errorf("%w: failed to connect to any endpoint", transport.ErrNotConnected)
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected to %d out of %d connections to %d endpoints using %s transport",
		len(connections), len(config.Transport.Endpoints)*connectionsPerEP, len(config.Transport.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	requestID := t.nextRequestID.Add(1)

	attempt := func() ([]byte, error) {
		conn := t.getNextConnection()
		if conn == nil {
			return nil, transport.ErrNotConnected
		}
		data, err := conn.roundTrip(ctx, requestID, req)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return data, err
	}

	retries := max(1, t.config.Transport.RetryCount)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.RandomizationFactor = 0.1

	data, err := backoff.RetryNotifyWithData(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries-1)), ctx),
		func(err error, wait time.Duration) {
			Logger.Debugf("Request %d failed, retrying in %s: %v", requestID, wait, err)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to send request after %d attempts: %w", retries, err)
	}
	return data, nil
}

func (t *clientTransport) Post(req []byte) error {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return transport.ErrNotConnected
	}
	var errs []error
	for _, conn := range t.connections {
		if err := conn.write(transport.FramePost, 0, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *clientTransport) Events() <-chan transport.Event {
	return t.events.Recv()
}

func (t *clientTransport) Close() error {
	t.closeConnections()
	t.events.Close()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	index := t.nextConnIndex.Add(1) % uint64(len(t.connections))
	return t.connections[index]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	if t.cancel != nil {
		t.cancel()
	}

	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, c := range t.connections {
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.failPending(transport.ErrNotConnected)
	}
	t.connections = nil
}

// stopping reports whether the connection was closed on purpose
func (c *clientConnection) stopping() bool {
	return c.ctx.Err() != nil
}

// roundTrip writes one request and waits for its response
func (c *clientConnection) roundTrip(ctx context.Context, requestID uint64, req []byte) ([]byte, error) {
	respCh := make(chan responseResult, 1)
	c.requestChans.Store(requestID, respCh)
	defer c.requestChans.Delete(requestID)

	if err := c.write(transport.FrameRequest, requestID, req); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if c.parent.config.TimeoutSecond > 0 {
		timer := time.NewTimer(time.Duration(c.parent.config.TimeoutSecond) * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, fmt.Errorf("request %d: %w", requestID, context.DeadlineExceeded)
	}
}

// write sends one frame, serialized with every other write on the connection
func (c *clientConnection) write(kind transport.FrameKind, requestID uint64, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return transport.ErrNotConnected
	}
	if c.parent.config.TimeoutSecond > 0 {
		timeout := time.Duration(c.parent.config.TimeoutSecond) * time.Second
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := writeFrame(c.conn, kind, requestID, data); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrConnection, err)
	}
	return nil
}

// current returns the live net connection
func (c *clientConnection) current() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// failPending fails every request waiting on this connection
func (c *clientConnection) failPending(cause error) {
	c.requestChans.Range(func(id uint64, ch chan responseResult) bool {
		select {
		case ch <- responseResult{err: fmt.Errorf("%w: %v", apierr.ErrConnection, cause)}:
		default:
		}
		c.requestChans.Delete(id)
		return true
	})
}

// readFrames reads frames in a loop, hands responses to waiting requests and
// push frames to the event queue. A broken connection is re-established with
// exponential backoff until the transport is closed, which is reported on the
// event queue after every push the old connection delivered.
func (c *clientConnection) readFrames() {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		// no read deadline, the connection idles between pushes
		kind, requestID, data, err := readFrame(conn, nil)
		if err != nil {
			if c.stopping() {
				return
			}
			Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
			c.failPending(err)
			if !c.reconnectWithBackoff() {
				return
			}
			Logger.Warningf("Reconnected to %s, server-side subscriptions of the old connection are gone", c.endpoint)
			c.parent.events.Push(transport.Event{Reconnected: true})
			continue
		}

		switch kind {
		case transport.FrameResponse:
			if respCh, found := c.requestChans.Load(requestID); found {
				respCh <- responseResult{data: data}
			} else {
				Logger.Warningf("Received response for unknown request ID %d", requestID)
			}
		case transport.FramePush:
			c.parent.events.Push(transport.Event{Data: data})
		default:
			Logger.Warningf("Received unexpected %s frame from %s", kind, c.endpoint)
		}
	}
}

// reconnectWithBackoff retries reconnect until it succeeds or the transport stops
func (c *clientConnection) reconnectWithBackoff() bool {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		if c.stopping() {
			return backoff.Permanent(transport.ErrNotConnected)
		}
		return c.reconnect()
	}, backoff.WithContext(policy, c.ctx))
	if err != nil {
		if !errors.Is(err, transport.ErrNotConnected) && !errors.Is(err, context.Canceled) {
			Logger.Errorf("Failed to reconnect to %s: %v", c.endpoint, err)
		}
		return false
	}
	return true
}

// reconnect establishes or restores a connection to the endpoint
func (c *clientConnection) reconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}

	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", c.endpoint, err)
	}

	c.conn = conn
	return nil
}
