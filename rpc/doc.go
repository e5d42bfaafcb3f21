// Package rpc carries datafront traffic between a client process and the
// server that owns the data. Clients send fetch, action and unsubscribe
// requests; the server answers them and pushes patch batches for every entity
// and singleton a connection has fetched.
//
// Subpackages:
//
//   - common: the Message envelope shared by requests, responses and pushes,
//     plus client and server configuration.
//
//   - serializer: JSON and GOB encodings of a Message.
//
//   - transport: framed connections over TCP, unix sockets and websockets.
//     Client transports reconnect on their own and report each reconnect in
//     their event stream, in order with the pushes around it.
//
//   - client: the datafront transport built on a client transport. It turns
//     pushes into batches and a reconnect into a resync batch.
//
//   - server: a reference server holding seeded tables and singletons in
//     memory, tracking subscriptions per connection and serving actions.
package rpc
