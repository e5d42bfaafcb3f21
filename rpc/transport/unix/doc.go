// Package unix implements the dFront RPC transport over Unix domain sockets,
// for a server and its clients running on the same machine.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting connection pooling, request routing, push
// delivery and reconnects from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners and accepts connections.
//     A stale socket file at the endpoint is removed before listening.
//
// The default buffer size is 64 KB, which fits the small patch batches of
// local communication.
package unix
