// Package server implements the reference datafront server. It keeps tables
// and singletons in memory, answers the fetch and action requests of
// datafront clients and pushes every mutation to the connections that hold
// the mutated entities.
//
// The package focuses on:
//   - Query kinds per table: "all" for every entity, field matches declared
//     with RegisterFieldQuery and custom kinds via RegisterQuery
//   - Per-connection subscriptions: a query fetch subscribes the connection to
//     the returned ids, a singleton fetch to the singleton, unsubscribe and
//     disconnects drop them
//   - One push batch per mutation, stamped with a per-entity version
//   - Actions deduplicated by token: a completed token replays its result, a
//     running token waits for the first run, a retriable failure forgets it
//
// Key Components:
//
//   - NewRPCServer: Factory function creating a server on top of a transport
//     and a serializer.
//
//   - Seed: The YAML dataset a server starts with, see LoadSeed.
//
//   - Built-in actions "patch" ({path, eid, patch}) and "patchSingleton"
//     ({path, patch}) mutate state from any client.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Transport: common.ServerTransportConfig{Endpoint: "/tmp/dfront.sock"},
//		SeedFile:  "seed.yaml",
//	}
//
//	s := server.NewRPCServer(config, unix.NewUnixServerTransport(0, 4), serializer.NewJSONSerializer())
//	s.RegisterFieldQuery("bases", "byOwner", "owner")
//
//	if err := s.Serve(); err != nil {
//		log.Fatal(err)
//	}
//
// Metrics are kept in a go-metrics registry: a timer per message type, a meter
// for pushed patches, counters for subscribers and replayed action tokens.
// They are logged periodically when MetricsLogIntervalSec is set and rendered
// by WriteMetrics.
package server
