// Package client implements the RPC side of the datafront transport. It turns
// the datafront.ITransport calls into dFront protocol messages and sends them
// over any transport.IRPCClientTransport.
//
// The package focuses on:
//   - Request/response calls for singleton fetches, query fetches and action
//     invocations
//   - Fire-and-forget unsubscribe notifications for evicted entities
//   - Decoding server-pushed patch batches in arrival order
//   - Passing server errors on as *apierr.Error, so retriable failures can be
//     retried by the datafront
//
// Key Components:
//
//   - NewRPCTransport: Factory function that connects a transport and returns a
//     datafront.ITransport for it.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		TimeoutSecond: 5,
//		Transport: common.ClientTransportConfig{
//			Endpoints:  []string{"localhost:8080"},
//			RetryCount: 3,
//		},
//	}
//
//	t, err := client.NewRPCTransport(config, tcp.NewTCPClientTransport(), serializer.NewJSONSerializer())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	df := datafront.New(t, datafront.DefaultConfig())
//	df.Start()
//	defer df.Close()
//
// Query and action payloads are sent as JSON regardless of the serializer, so
// the server can decode them into its own types.
package client
