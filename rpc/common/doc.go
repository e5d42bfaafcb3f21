// Package common provides the data structures shared by the rpc client, the
// rpc server and the transports of the datafront.
//
// Key Components:
//
//   - Message: the single structure used for requests, responses and push
//     events. Which fields are set depends on its MessageType. Error
//     responses carry a code and a retriable flag that the client decodes
//     with apierr.Decode.
//
//   - MessageType: the operations of the wire protocol. singletonFetch,
//     queryFetch and actionInvoke are request/response pairs, unsubscribe is
//     one-way from client to server and push is one-way from server to client.
//
//   - ServerConfig / ClientConfig: transport, timeout, metrics and logging
//     settings of the two sides.
//
//   - Logger: custom log format plugged into dragonboat's logger factory, so
//     every package logs through logger.GetLogger with one consistent layout.
package common
