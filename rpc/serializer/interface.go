package serializer

import "github.com/ValentinKolb/dDoc/rpc/common"

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer registered under name ("json" or "msgpack").
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "json":
		return NewJSONSerializer(), true
	case "msgpack":
		return NewMsgpackSerializer(), true
	default:
		return nil, false
	}
}
