// Package base provides the foundation for the socket transports of dFront,
// implementing the RPC framing independent of the specific network protocol
// (TCP, Unix sockets). Protocol-specific connectors extend it.
//
// Every frame carries a kind, a request id and a length prefixed payload:
//
//	kind(1) | requestID(8, big endian) | length(4, big endian) | payload
//
// Requests are answered by a response frame with the same request id. Post
// frames are requests without a response (unsubscribe notifications). Push
// frames travel from the server to the client without correlation and carry
// the patch batches that keep the client cache live.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Manages multiple connections with round-robin load
//     balancing, correlates responses to requests and queues push frames.
//     Posts are written to every connection. Broken connections are
//     re-established with exponential backoff. The server forgets the
//     subscriptions of a broken connection, so every reconnect is queued as
//     an event behind the pushes of the old connection.
//
//   - serverTransport: Accepts connections, hands requests to the registered
//     handler on a bounded number of workers per connection and pushes events
//     to single connections by id. Posts are handled on the read loop itself,
//     so a post is done before any later frame of its connection is read.
//
// Connections are long lived and idle between pushes, so neither side sets a
// read deadline. Write deadlines follow the configured timeout.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to one connection are
//	serialized by a mutex, so responses and pushes never interleave.
package base
