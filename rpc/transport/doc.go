// Package transport defines the interfaces for the datafront wire transports.
// It provides a common contract that all transport implementations must
// fulfill, so the rpc client and server work over any of them.
//
// The datafront needs a persistent bidirectional connection: besides plain
// request/response pairs the server pushes patch batches the client never
// asked for, and the client posts unsubscribe notices it does not wait on.
// Every transport therefore distinguishes four FrameKinds (request, response,
// push, post) and correlates requests and responses by a request id.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transports that handle
//     connection management, request sending and push delivery.
//
//   - IRPCServerTransport: Interface for server-side transports that receive
//     requests, route them to the handler and push events to single
//     connections.
//
//   - ServerHandleFunc / ServerDisconnectFunc: callbacks for requests and
//     closed connections. Connection ids let the server keep per-connection
//     subscriptions.
//
// Implementations: base (shared stream framing) with tcp and unix connectors,
// and ws (websocket).
package transport
