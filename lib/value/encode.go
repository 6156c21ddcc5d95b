package value

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// NewEncoder returns a msgpack encoder that writes map keys in sorted order,
// so equal documents always encode to equal bytes.
func NewEncoder(w io.Writer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	return enc
}

// Marshal encodes v with msgpack and sorted map keys.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
