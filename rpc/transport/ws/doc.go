// Package ws implements the dFront RPC transport over websockets, for clients
// that reach the server through http infrastructure.
//
// Websocket messages are delimited already, so a frame is the base frame
// without its length field:
//
//	kind(1) | requestID(8, big endian) | payload
//
// An empty binary message is a ping. The client sends one whenever its
// connection was idle for the configured ping interval and both sides ignore
// them on receipt.
//
// Like the socket transports the client correlates responses by request id,
// delivers push frames through Events and reconnects broken connections with
// exponential backoff, reporting each reconnect as an Event. Each endpoint
// holds exactly one connection. Posts go to every connection and the server
// handles them on the read loop, in order with the requests around them.
package ws
