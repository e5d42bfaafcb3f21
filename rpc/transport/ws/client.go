package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/util"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	DefaultPath         = "/ws"
	DefaultPingInterval = 15 * time.Second
)

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// wsConnection is one websocket connection to an endpoint. Writes are
// serialized by writeMu, gorilla allows one concurrent writer only.
type wsConnection struct {
	url      string
	conn     *websocket.Conn // guarded by writeMu
	writeMu  sync.Mutex
	pending  *xsync.MapOf[uint64, chan responseResult]
	parent   *clientTransport
	ctx      context.Context
	lastSend atomic.Int64 // unix nanos of the last write
}

// clientTransport implements transport.IRPCClientTransport over websockets
type clientTransport struct {
	config        common.ClientConfig
	dialer        *websocket.Dialer
	connections   []*wsConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64
	nextRequestID atomic.Uint64
	events        *util.Queue[transport.Event]
	cancel        context.CancelFunc
}

// NewWSClientTransport creates a new websocket client transport
func NewWSClientTransport() transport.IRPCClientTransport {
	return &clientTransport{
		events: util.NewQueue[transport.Event](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	t.closeConnections()

	t.config = config
	t.dialer = &websocket.Dialer{
		HandshakeTimeout: time.Duration(max(1, config.TimeoutSecond)) * time.Second,
		ReadBufferSize:   config.Transport.ReadBufferSize,
		WriteBufferSize:  config.Transport.WriteBufferSize,
	}

	var ctx context.Context
	ctx, t.cancel = context.WithCancel(context.Background())

	connections := make([]*wsConnection, 0, len(config.Transport.Endpoints))
	for _, endpoint := range config.Transport.Endpoints {
		c := &wsConnection{
			url:     endpointURL(endpoint, config.Transport.WSPath),
			pending: xsync.NewMapOf[uint64, chan responseResult](),
			parent:  t,
			ctx:     ctx,
		}
		if err := c.dial(); err != nil {
			Logger.Warningf("Failed to connect to %s: %v", c.url, err)
			continue
		}
		Logger.Infof("Connected to %s", c.url)
		connections = append(connections, c)

		go c.readLoop()
		go c.pingLoop()
	}

	if len(connections) == 0 {
		return fmt.Errorf("%w: failed to connect to any endpoint", transport.ErrNotConnected)
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()
	return nil
}

func (t *clientTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	requestID := t.nextRequestID.Add(1)
	retries := max(1, t.config.Transport.RetryCount)

	data, err := backoff.RetryWithData(func() ([]byte, error) {
		c := t.next()
		if c == nil {
			return nil, transport.ErrNotConnected
		}
		data, err := c.roundTrip(ctx, requestID, req)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return data, err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries-1)), ctx))
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
	msg := encodeMessage(transport.FramePost, 0, req)
	var errs []error
	for _, c := range t.connections {
		if err := c.write(msg); err != nil {
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

// endpointURL turns "host:port" into a websocket url, full urls are kept
func endpointURL(endpoint, path string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	if path == "" {
		path = DefaultPath
	}
	return "ws://" + endpoint + path
}

// next selects the next connection via Round Robin
func (t *clientTransport) next() *wsConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()
	if len(t.connections) == 0 {
		return nil
	}
	return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
}

func (t *clientTransport) closeConnections() {
	if t.cancel != nil {
		t.cancel()
	}

	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()
	for _, c := range t.connections {
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()
		c.failPending(transport.ErrNotConnected)
	}
	t.connections = nil
}

func (c *wsConnection) timeout() time.Duration {
	return time.Duration(c.parent.config.TimeoutSecond) * time.Second
}

func (c *wsConnection) dial() error {
	conn, _, err := c.parent.dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ctx.Err() != nil {
		_ = conn.Close()
		return backoff.Permanent(c.ctx.Err())
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	return nil
}

// write sends one binary message
func (c *wsConnection) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return transport.ErrNotConnected
	}
	if timeout := c.timeout(); timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		// a websocket write deadline cannot be recovered, the read loop reconnects
		_ = c.conn.Close()
		return fmt.Errorf("%w: %v", apierr.ErrConnection, err)
	}
	c.lastSend.Store(time.Now().UnixNano())
	return nil
}

func (c *wsConnection) roundTrip(ctx context.Context, requestID uint64, req []byte) ([]byte, error) {
	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, respCh)
	defer c.pending.Delete(requestID)

	if err := c.write(encodeMessage(transport.FrameRequest, requestID, req)); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout := c.timeout(); timeout > 0 {
		timer := time.NewTimer(timeout)
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

func (c *wsConnection) failPending(cause error) {
	c.pending.Range(func(id uint64, ch chan responseResult) bool {
		select {
		case ch <- responseResult{err: fmt.Errorf("%w: %v", apierr.ErrConnection, cause)}:
		default:
		}
		c.pending.Delete(id)
		return true
	})
}

func (c *wsConnection) current() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

// readLoop routes responses and pushes until the transport is closed. A
// successful redial is reported on the event queue.
func (c *wsConnection) readLoop() {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			Logger.Warningf("Connection to %s lost: %v", c.url, err)
			c.failPending(err)
			if !c.redial() {
				return
			}
			Logger.Warningf("Reconnected to %s, server-side subscriptions of the old connection are gone", c.url)
			c.parent.events.Push(transport.Event{Reconnected: true})
			continue
		}

		if messageType != websocket.BinaryMessage {
			continue
		}
		if len(message) == 0 {
			// ping
			continue
		}

		kind, requestID, data, err := decodeMessage(message)
		if err != nil {
			Logger.Warningf("Dropping message from %s: %v", c.url, err)
			continue
		}

		switch kind {
		case transport.FrameResponse:
			if respCh, found := c.pending.Load(requestID); found {
				respCh <- responseResult{data: data}
			} else {
				Logger.Warningf("Received response for unknown request ID %d", requestID)
			}
		case transport.FramePush:
			c.parent.events.Push(transport.Event{Data: data})
		default:
			Logger.Warningf("Received unexpected %s frame from %s", kind, c.url)
		}
	}
}

// pingLoop writes an empty message whenever the connection was idle for a
// ping interval, so proxies keep it open
func (c *wsConnection) pingLoop() {
	interval := time.Duration(c.parent.config.Transport.PingIntervalSec) * time.Second
	if interval <= 0 {
		interval = DefaultPingInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastSend.Load())) < interval {
				continue
			}
			if err := c.write([]byte{}); err != nil {
				Logger.Debugf("Ping to %s failed: %v", c.url, err)
			}
		}
	}
}

// redial reconnects with exponential backoff until it succeeds or the transport is closed
func (c *wsConnection) redial() bool {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	err := backoff.Retry(c.dial, backoff.WithContext(policy, c.ctx))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			Logger.Errorf("Failed to reconnect to %s: %v", c.url, err)
		}
		return false
	}
	return true
}
