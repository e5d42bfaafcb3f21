package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/rpc/common"
)

var (
	// ErrNotConnected is returned when no connection to the server is available.
	// It wraps apierr.ErrConnection and therefore classifies as retriable.
	ErrNotConnected = fmt.Errorf("%w: not connected", apierr.ErrConnection)
	// ErrUnknownConnection is returned by Push for connection ids that are gone.
	ErrUnknownConnection = errors.New("unknown connection")
)

// --------------------------------------------------------------------------
// Frames
// --------------------------------------------------------------------------

// FrameKind tells the receiver of a frame how to route it
type FrameKind uint8

const (
	// FrameRequest expects a FrameResponse with the same request id
	FrameRequest FrameKind = iota + 1
	// FrameResponse answers the FrameRequest with the same request id
	FrameResponse
	// FramePush is an uncorrelated server to client event, its request id is 0
	FramePush
	// FramePost is a client to server request without response, its request id is 0
	FramePost
)

func (k FrameKind) String() string {
	switch k {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FramePush:
		return "push"
	case FramePost:
		return "post"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// Event is one item of the inbound event stream of a client transport. It
// either carries the payload of a push frame, or reports with Reconnected
// that a connection was re-established. Server-side state bound to the old
// connection, like subscriptions, is gone at that point. Events of one
// connection keep their order.
type Event struct {
	Data        []byte
	Reconnected bool
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the connection the request arrived on and returns the response.
// FramePost requests are handled on the read loop of their connection, in
// order, and their response is discarded.
type ServerHandleFunc func(connID uint64, req []byte) (resp []byte)

// ServerDisconnectFunc is called once after a connection was closed
type ServerDisconnectFunc func(connID uint64)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a RPCServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// RegisterDisconnectHandler registers a handler that is called for every closed connection
	RegisterDisconnectHandler(handler ServerDisconnectFunc)
	// Push sends an uncorrelated event to one connection
	Push(connID uint64, data []byte) error
	// Listen starts the transport layer and listens for incoming requests.
	// It blocks until Close is called or listening fails.
	Listen(config common.ServerConfig) error
	// Close stops listening and closes every connection
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(ctx context.Context, req []byte) (resp []byte, err error)
	// Post sends a request without waiting for, or expecting, a response, on
	// every connection. The server handles it before any later frame of the
	// same connection.
	Post(req []byte) error
	// Events returns the channel push frames and reconnects are delivered on
	Events() <-chan Event
	// Close closes the transport connection
	Close() error
}
