package oplog

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/vmihailenco/msgpack/v5"
)

// Position identifies a log entry by (term, seq).
type Position = catalog.Position

// Entry is a single entry of the replicated log.
type Entry struct {
	Term uint64 `msgpack:"t"`
	Seq  uint64 `msgpack:"s"` // log index, strictly increasing across terms
	Op   Op     `msgpack:"op"`
}

// Position returns the position of the entry.
func (e Entry) Position() Position {
	return Position{Term: e.Term, Seq: e.Seq}
}

// Serialize encodes the entry with msgpack.
func (e *Entry) Serialize() ([]byte, error) {
	return value.Marshal(e)
}

// Deserialize decodes an entry encoded with Serialize.
func (e *Entry) Deserialize(data []byte) error {
	*e = Entry{}
	if err := msgpack.Unmarshal(data, e); err != nil {
		return fmt.Errorf("failed to decode log entry: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// ResultCode is the outcome of applying an operation. Domain outcomes are
// reported as result codes, never as errors.
type ResultCode uint8

const (
	ResultOK                ResultCode = iota // Applied.
	ResultAlreadyExists                       // Namespace exists.
	ResultNamespaceNotFound                   // Target namespace missing.
	ResultDuplicateKey                        // Document identity exists.
	ResultInvalid                             // Operation is invalid for the current state.
	ResultSkipped                             // Entry at or below the applied watermark.
)

func (rc ResultCode) String() string {
	switch rc {
	case ResultOK:
		return "OK"
	case ResultAlreadyExists:
		return "AlreadyExists"
	case ResultNamespaceNotFound:
		return "NamespaceNotFound"
	case ResultDuplicateKey:
		return "DuplicateKey"
	case ResultInvalid:
		return "Invalid"
	case ResultSkipped:
		return "Skipped"
	default:
		return fmt.Sprintf("Unknown(%d)", rc)
	}
}

// Result is returned per applied entry.
type Result struct {
	Code ResultCode `msgpack:"c"`
	Msg  string     `msgpack:"m,omitempty"`
}

// OK is the result of a successfully applied entry.
var OK = Result{Code: ResultOK}

// Resultf returns a result with a formatted message.
func Resultf(code ResultCode, format string, args ...any) Result {
	return Result{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Serialize encodes the result, used as dragonboat result data.
func (r *Result) Serialize() []byte {
	data, _ := msgpack.Marshal(r)
	return data
}

// Deserialize decodes a result encoded with Serialize.
func (r *Result) Deserialize(data []byte) error {
	*r = Result{}
	if len(data) == 0 {
		return nil
	}
	return msgpack.Unmarshal(data, r)
}
