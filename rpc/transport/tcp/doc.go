// Package tcp implements the TCP socket transport of the dFront RPC system.
// It provides concrete implementations of the base package's connector
// interfaces.
//
// This package builds on the base package's transport functionality, inheriting
// connection pooling, buffer reuse, request routing and push delivery. See the
// base package documentation for the frame format.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both sides apply the TCPConf and SocketConf settings to every connection.
// Enable keep-alive for deployments behind NAT, client connections idle
// between push events for long periods.
package tcp
