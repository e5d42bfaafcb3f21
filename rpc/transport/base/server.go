package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConn is one accepted connection. Responses and pushes share the
// write mutex.
type serverConn struct {
	id      uint64
	conn    net.Conn
	writeMu sync.Mutex
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	onDisconnect      transport.ServerDisconnectFunc
	config            common.ServerConfig
	listener          net.Listener
	listenerMu        sync.Mutex
	closing           atomic.Bool
	bufferPool        *sync.Pool
	bufferSize        int
	maxWorkersPerConn int
	nextConnID        atomic.Uint64
	conns             *xsync.MapOf[uint64, *serverConn]
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:         connector,
		bufferSize:        bufferSize,
		maxWorkersPerConn: max(1, maxWorkersPerConn), // minimum one worker per connection
		conns:             xsync.NewMapOf[uint64, *serverConn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) RegisterDisconnectHandler(handler transport.ServerDisconnectFunc) {
	t.onDisconnect = handler
}

func (t *serverTransport) Push(connID uint64, data []byte) error {
	sc, ok := t.conns.Load(connID)
	if !ok {
		return transport.ErrUnknownConnection
	}
	return t.write(sc, transport.FramePush, 0, data)
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.listenerMu.Lock()
	if t.closing.Load() {
		t.listenerMu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.listener = listener
	t.listenerMu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Transport.Endpoint, t.maxWorkersPerConn)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Errorf("Failed to upgrade connection: %v", err)
			_ = conn.Close()
			continue
		}

		sc := &serverConn{id: t.nextConnID.Add(1), conn: conn}
		t.conns.Store(sc.id, sc)

		// Handle the connection in a goroutine
		go t.handleConnection(sc)
	}
}

func (t *serverTransport) Close() error {
	t.closing.Store(true)

	t.listenerMu.Lock()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.listenerMu.Unlock()

	t.conns.Range(func(_ uint64, sc *serverConn) bool {
		_ = sc.conn.Close()
		return true
	})

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// write sends one frame on the connection
func (t *serverTransport) write(sc *serverConn, kind transport.FrameKind, requestID uint64, data []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if timeout := time.Duration(t.config.TimeoutSecond) * time.Second; timeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	return writeFrame(sc.conn, kind, requestID, data)
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(sc *serverConn) {
	defer func() {
		t.conns.Delete(sc.id)
		_ = sc.conn.Close()
		if t.onDisconnect != nil {
			t.onDisconnect(sc.id)
		}
	}()

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Handler function that processes requests in worker goroutines
	handleResponse := func(kind transport.FrameKind, requestID uint64, data []byte) {
		// When done, release the semaphore and mark worker as done
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		// Process the request
		start := time.Now()
		resp := t.handler(sc.id, data)
		Logger.Debugf("Processed %s %d on connection %d in %s", kind, requestID, sc.id, time.Since(start))

		// Write the response with the same requestID
		if err := t.write(sc, transport.FrameResponse, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	// Function to handle incoming requests
	handleRequest := func() error {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		// Read the frame, no read deadline since clients idle between requests
		kind, requestID, data, err := readFrame(sc.conn, buf)

		// Error reading frame
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		if kind == transport.FramePost {
			// posts run inline to keep their order with later requests
			t.handler(sc.id, data)
			t.bufferPool.Put(buf)
			return nil
		}

		if kind != transport.FrameRequest {
			t.bufferPool.Put(buf)
			Logger.Warningf("Dropping unexpected %s frame on connection %d", kind, sc.id)
			return nil
		}

		// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
		workerSemaphore <- struct{}{}

		// Increment the wait group counter
		wg.Add(1)

		// Process in a goroutine
		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(kind, requestID, data)
		}()

		return nil
	}

	// Handle requests in a loop
	for {
		// Handle request
		err := handleRequest()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Infof("Connection %d closed by client", sc.id)
			break
		}

		// Case error: log and close connection
		if err != nil {
			if !t.closing.Load() {
				Logger.Errorf("Error handling request on connection %d: %v", sc.id, err)
			}
			break
		}
	}

	// Wait for all workers to finish before closing the connection
	wg.Wait()
}
