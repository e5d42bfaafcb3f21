// Package serializer provides message serialization for the datafront wire
// protocol. It defines a common interface and two implementations for
// encoding common.Message values exchanged between client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: JSON encoding. Human-readable and the default, since
//     entities are JSON-shaped anyway. Numbers inside entities arrive as float64.
//
//   - gobSerializerImpl: Go's gob encoding. Keeps Go number types intact but
//     only works between Go peers. Nested entity values must be generic maps
//     and slices (map[string]any, []any), which are registered with gob.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	  serializer := serializer.NewJSONSerializer()
//	  data, err := serializer.Serialize(message)
//	  // ... send data ...
//	  var receivedMsg common.Message
//	  err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
