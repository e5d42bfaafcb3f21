// Package cmd implements the command-line interface of dFront. It provides a
// hierarchical command structure for running the reference server and for
// talking to it through a datafront client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the reference server
//   - table: Runs table queries, optionally watching their results
//   - singleton: Fetches singletons, optionally watching them
//   - action: Invokes actions with an idempotency token
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable with the DFRONT_
// prefix (e.g. DFRONT_TRANSPORT_ENDPOINTS), .env and .env.local are loaded on
// start. See dfront -help for a list of all commands.
package cmd
