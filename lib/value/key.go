package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Key encoding
//
// Every value is encoded as a one byte kind tag followed by a kind specific
// payload. The encoding is prefix-free and bytes.Compare on two encodings
// yields the same result as Compare on the values, so encoded tuples can be
// concatenated and stored as ordered keys. Descending components store the
// complement of every byte which reverses their order.
//
//	number  0x10 + 8 bytes (sign-flipped IEEE 754, NaN encodes as all zeros)
//	string  0x20 + escaped bytes + 0x00 0x01 (0x00 is escaped as 0x00 0xFF)
//	object  0x30 + {0x02 + string(name) + value}* + 0x01 (fields in name order)
//	array   0x40 + {0x02 + value}* + 0x01
//	bool    0x50 + 0x00 | 0x01
//	null    0x60

const (
	tagNumber byte = 0x10
	tagString byte = 0x20
	tagObject byte = 0x30
	tagArray  byte = 0x40
	tagBool   byte = 0x50
	tagNull   byte = 0x60

	markEnd  byte = 0x01
	markMore byte = 0x02

	escByte  byte = 0x00
	escZero  byte = 0xFF
	escClose byte = 0x01
)

// ErrCorruptKey is returned when a key cannot be decoded.
var ErrCorruptKey = errors.New("corrupt key encoding")

// AppendKey appends the order-preserving encoding of v to buf.
// Unsupported values are encoded as null.
func AppendKey(buf []byte, v any, desc bool) []byte {
	start := len(buf)
	buf = appendAsc(buf, v)
	if desc {
		for i := start; i < len(buf); i++ {
			buf[i] = ^buf[i]
		}
	}
	return buf
}

// EncodeKey returns the encoding of a single value.
func EncodeKey(v any, desc bool) []byte {
	return AppendKey(nil, v, desc)
}

// AppendTuple appends the encodings of all values. dirs holds one direction
// per value (negative means descending), a missing direction is ascending.
func AppendTuple(buf []byte, vals []any, dirs []int) []byte {
	for i, v := range vals {
		desc := i < len(dirs) && dirs[i] < 0
		buf = AppendKey(buf, v, desc)
	}
	return buf
}

func appendAsc(buf []byte, v any) []byte {
	if !isNormalized(v) {
		n, err := Normalize(v)
		if err != nil {
			return append(buf, tagNull)
		}
		v = n
	}

	switch t := v.(type) {
	case nil:
		return append(buf, tagNull)
	case float64:
		buf = append(buf, tagNumber)
		return binary.BigEndian.AppendUint64(buf, floatBits(t))
	case string:
		buf = append(buf, tagString)
		return appendEscaped(buf, t)
	case bool:
		if t {
			return append(buf, tagBool, 0x01)
		}
		return append(buf, tagBool, 0x00)
	case map[string]any:
		buf = append(buf, tagObject)
		for _, k := range SortedKeys(t) {
			buf = append(buf, markMore)
			buf = appendEscaped(buf, k)
			buf = appendAsc(buf, t[k])
		}
		return append(buf, markEnd)
	case []any:
		buf = append(buf, tagArray)
		for _, e := range t {
			buf = append(buf, markMore)
			buf = appendAsc(buf, e)
		}
		return append(buf, markEnd)
	default:
		return append(buf, tagNull)
	}
}

func floatBits(f float64) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	if f == 0 {
		f = 0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

func bitsFloat(bits uint64) float64 {
	if bits == 0 {
		return math.NaN()
	}
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits &^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == escByte {
			buf = append(buf, escByte, escZero)
		} else {
			buf = append(buf, s[i])
		}
	}
	return append(buf, escByte, escClose)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

type keyReader struct {
	buf  []byte
	pos  int
	mask byte
}

func (r *keyReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrCorruptKey
	}
	b := r.buf[r.pos] ^ r.mask
	r.pos++
	return b, nil
}

// DecodeKey decodes one value from the front of buf and returns the
// remaining bytes.
func DecodeKey(buf []byte, desc bool) (any, []byte, error) {
	r := &keyReader{buf: buf}
	if desc {
		r.mask = 0xFF
	}
	v, err := r.value()
	if err != nil {
		return nil, nil, err
	}
	return v, buf[r.pos:], nil
}

// DecodeTuple decodes len(dirs) values from the front of buf.
func DecodeTuple(buf []byte, dirs []int) ([]any, []byte, error) {
	vals := make([]any, len(dirs))
	for i, d := range dirs {
		v, rest, err := DecodeKey(buf, d < 0)
		if err != nil {
			return nil, nil, fmt.Errorf("component %d: %w", i, err)
		}
		vals[i] = v
		buf = rest
	}
	return vals, buf, nil
}

func (r *keyReader) value() (any, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagNumber:
		var bits uint64
		for i := 0; i < 8; i++ {
			b, err := r.byte()
			if err != nil {
				return nil, err
			}
			bits = bits<<8 | uint64(b)
		}
		return bitsFloat(bits), nil
	case tagString:
		return r.string()
	case tagBool:
		b, err := r.byte()
		if err != nil {
			return nil, err
		}
		return b == 0x01, nil
	case tagObject:
		obj := map[string]any{}
		for {
			m, err := r.byte()
			if err != nil {
				return nil, err
			}
			if m == markEnd {
				return obj, nil
			}
			if m != markMore {
				return nil, ErrCorruptKey
			}
			name, err := r.string()
			if err != nil {
				return nil, err
			}
			v, err := r.value()
			if err != nil {
				return nil, err
			}
			obj[name] = v
		}
	case tagArray:
		arr := []any{}
		for {
			m, err := r.byte()
			if err != nil {
				return nil, err
			}
			if m == markEnd {
				return arr, nil
			}
			if m != markMore {
				return nil, ErrCorruptKey
			}
			v, err := r.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrCorruptKey, tag)
	}
}

func (r *keyReader) string() (string, error) {
	var out []byte
	for {
		b, err := r.byte()
		if err != nil {
			return "", err
		}
		if b != escByte {
			out = append(out, b)
			continue
		}
		n, err := r.byte()
		if err != nil {
			return "", err
		}
		switch n {
		case escZero:
			out = append(out, escByte)
		case escClose:
			return string(out), nil
		default:
			return "", ErrCorruptKey
		}
	}
}

// --------------------------------------------------------------------------
// Bounds
// --------------------------------------------------------------------------

// KindLowerBound returns the smallest (ascending) key prefix of a kind class.
// Together with KindUpperBound it brackets all encodings of that class.
func KindLowerBound(k Kind) []byte {
	return []byte{kindTag(k)}
}

// KindUpperBound returns an exclusive upper bound for all (ascending)
// encodings of a kind class.
func KindUpperBound(k Kind) []byte {
	return []byte{kindTag(k) + 1}
}

// PrefixEnd returns the smallest byte string that is greater than every string
// starting with prefix, or nil if there is none (prefix is all 0xFF).
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func kindTag(k Kind) byte {
	switch k {
	case KindNumber:
		return tagNumber
	case KindString:
		return tagString
	case KindObject:
		return tagObject
	case KindArray:
		return tagArray
	case KindBool:
		return tagBool
	default:
		return tagNull
	}
}
