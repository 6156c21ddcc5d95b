// Package serializer provides message serialization for the dDoc RPC system.
// It defines a common interface and two implementations for serializing and
// deserializing messages between client and server components.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - msgpackSerializerImpl: Compact binary encoding with vmihailenco/msgpack.
//     Field names follow the json tags of the message, so both encodings carry
//     the same document structure. Recommended for production use.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or for talking to
//     the server with curl.
//
// Documents are schemaless, so numbers inside them decode to whatever the
// encoding produces (float64 for JSON, the smallest fitting integer or float
// for msgpack). The server normalizes values before storing or comparing them.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	serializer := serializer.NewMsgpackSerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
