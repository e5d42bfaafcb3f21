package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

// serverConn is one upgraded websocket connection
type serverConn struct {
	id      uint64
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// serverTransport implements transport.IRPCServerTransport over websockets
type serverTransport struct {
	handler           transport.ServerHandleFunc
	onDisconnect      transport.ServerDisconnectFunc
	config            common.ServerConfig
	upgrader          websocket.Upgrader
	maxWorkersPerConn int
	nextConnID        atomic.Uint64
	conns             *xsync.MapOf[uint64, *serverConn]
	server            *http.Server
	serverMu          sync.Mutex
	closing           atomic.Bool
}

// NewWSServerTransport creates a new websocket server transport
func NewWSServerTransport(workersPerConn int) transport.IRPCServerTransport {
	return &serverTransport{
		maxWorkersPerConn: max(1, workersPerConn),
		conns:             xsync.NewMapOf[uint64, *serverConn](),
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
	return t.write(sc, encodeMessage(transport.FramePush, 0, data))
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	path := config.Transport.WSPath
	if path == "" {
		path = DefaultPath
	}

	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, t.httpHandler(config))

	t.serverMu.Lock()
	if t.closing.Load() {
		t.serverMu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.server = &http.Server{Handler: mux}
	server := t.server
	t.serverMu.Unlock()

	Logger.Infof("Starting ws server on %s%s with %d workers per connection",
		config.Transport.Endpoint, path, t.maxWorkersPerConn)

	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *serverTransport) Close() error {
	t.closing.Store(true)

	t.serverMu.Lock()
	var err error
	if t.server != nil {
		// hijacked websocket connections are not closed by the http server
		err = t.server.Close()
	}
	t.serverMu.Unlock()

	t.conns.Range(func(_ uint64, sc *serverConn) bool {
		_ = sc.conn.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// httpHandler returns the http handler upgrading requests to websocket
// connections. It is separate from Listen so tests can mount it on httptest.
func (t *serverTransport) httpHandler(config common.ServerConfig) http.Handler {
	t.config = config
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.Transport.ReadBufferSize,
		WriteBufferSize: config.Transport.WriteBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger.Warningf("Upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		if t.closing.Load() {
			_ = conn.Close()
			return
		}

		sc := &serverConn{id: t.nextConnID.Add(1), conn: conn}
		t.conns.Store(sc.id, sc)
		t.handleConnection(sc)
	})
}

func (t *serverTransport) write(sc *serverConn, msg []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if timeout := time.Duration(t.config.TimeoutSecond) * time.Second; timeout > 0 {
		_ = sc.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return sc.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// handleConnection reads messages until the connection breaks and hands
// requests to the handler on a bounded number of workers
func (t *serverTransport) handleConnection(sc *serverConn) {
	defer func() {
		t.conns.Delete(sc.id)
		_ = sc.conn.Close()
		if t.onDisconnect != nil {
			t.onDisconnect(sc.id)
		}
	}()

	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		messageType, message, err := sc.conn.ReadMessage()
		if err != nil {
			if !t.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Logger.Errorf("Error reading from connection %d: %v", sc.id, err)
			} else {
				Logger.Infof("Connection %d closed", sc.id)
			}
			return
		}
		if messageType != websocket.BinaryMessage || len(message) == 0 {
			// ping
			continue
		}

		kind, requestID, data, err := decodeMessage(message)
		if err != nil || (kind != transport.FrameRequest && kind != transport.FramePost) {
			Logger.Warningf("Dropping malformed message on connection %d", sc.id)
			continue
		}
		if kind == transport.FramePost {
			// posts run inline to keep their order with later requests
			t.handler(sc.id, data)
			continue
		}

		workerSemaphore <- struct{}{}
		wg.Add(1)

		go func() {
			defer func() {
				<-workerSemaphore
				wg.Done()
			}()

			resp := t.handler(sc.id, data)
			if err := t.write(sc, encodeMessage(transport.FrameResponse, requestID, resp)); err != nil {
				Logger.Errorf("Failed to write response: %v", err)
			}
		}()
	}
}
