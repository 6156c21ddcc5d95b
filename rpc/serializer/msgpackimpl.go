package serializer

import (
	"bytes"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/vmihailenco/msgpack/v5"
)

// NewMsgpackSerializer creates a new serializer using msgpack encoding.
// Struct fields are named by their json tags, so both serializers share the
// same field names.
func NewMsgpackSerializer() IRPCSerializer {
	return &msgpackSerializerImpl{}
}

// msgpackSerializerImpl implements the IRPCSerializer interface using msgpack encoding
type msgpackSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (m msgpackSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(&msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m msgpackSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(msg)
}
