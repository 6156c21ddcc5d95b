package oplog

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// OpType defines the possible operations of the replicated log.
type OpType uint8

const (
	OpTNoop        OpType = iota // Marks the start of a term, carries no mutation.
	OpTCreate                    // Create a collection (and its identity index).
	OpTEnsureIndex               // Create an index if no equivalent index exists.
	OpTDrop                      // Drop a collection with its indexes, or a single index.
	OpTInsert                    // Insert a document.
	OpTRemove                    // Remove a document by identity.
)

func (ot OpType) String() string {
	switch ot {
	case OpTNoop:
		return "Noop"
	case OpTCreate:
		return "Create"
	case OpTEnsureIndex:
		return "EnsureIndex"
	case OpTDrop:
		return "Drop"
	case OpTInsert:
		return "Insert"
	case OpTRemove:
		return "Remove"
	default:
		return fmt.Sprintf("Unknown(%d)", ot)
	}
}

// IsCatalogOp reports whether the operation changes the catalog.
func (ot OpType) IsCatalogOp() bool {
	return ot == OpTCreate || ot == OpTEnsureIndex || ot == OpTDrop
}

// Op is a single replicated operation. Only the fields relevant to the
// operation type are set.
type Op struct {
	Type      OpType          `msgpack:"t"`
	ID        string          `msgpack:"i"`           // unique operation id
	Origin    uint64          `msgpack:"o"`           // replica that proposed the operation
	Namespace string          `msgpack:"n,omitempty"` // target namespace (collection for EnsureIndex/Insert/Remove)
	Temporary bool            `msgpack:"tmp,omitempty"`
	KeySpec   catalog.KeySpec `msgpack:"k,omitempty"`
	Doc       map[string]any  `msgpack:"d"`
	DocID     any             `msgpack:"id"` // zero ids (0, "", false) must survive encoding
	Sweep     bool            `msgpack:"s,omitempty"` // proposed by the promotion sweep
}

// NewOp returns an operation of the given type with a fresh operation id.
func NewOp(t OpType, origin uint64) Op {
	return Op{Type: t, ID: uuid.NewString(), Origin: origin}
}

// Create returns a create operation.
func Create(origin uint64, name string, temporary bool) Op {
	op := NewOp(OpTCreate, origin)
	op.Namespace = name
	op.Temporary = temporary
	return op
}

// EnsureIndex returns an ensureIndex operation.
func EnsureIndex(origin uint64, collection string, ks catalog.KeySpec) Op {
	op := NewOp(OpTEnsureIndex, origin)
	op.Namespace = collection
	op.KeySpec = ks
	return op
}

// Drop returns a drop operation.
func Drop(origin uint64, name string) Op {
	op := NewOp(OpTDrop, origin)
	op.Namespace = name
	return op
}

// Insert returns an insert operation. The document must carry its identity.
func Insert(origin uint64, collection string, doc map[string]any) Op {
	op := NewOp(OpTInsert, origin)
	op.Namespace = collection
	op.Doc = doc
	return op
}

// Remove returns a remove operation.
func Remove(origin uint64, collection string, id any) Op {
	op := NewOp(OpTRemove, origin)
	op.Namespace = collection
	op.DocID = id
	return op
}

// Noop returns the operation a new leader appends at the start of its term.
func Noop(origin uint64) Op {
	return NewOp(OpTNoop, origin)
}

// Serialize encodes the operation with msgpack.
func (op *Op) Serialize() ([]byte, error) {
	return value.Marshal(op)
}

// Deserialize decodes an operation encoded with Serialize.
func (op *Op) Deserialize(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("data too short for op")
	}
	*op = Op{}
	if err := msgpack.Unmarshal(data, op); err != nil {
		return fmt.Errorf("failed to decode op: %w", err)
	}
	return nil
}

func (op Op) String() string {
	switch op.Type {
	case OpTEnsureIndex:
		return fmt.Sprintf("%s(%s, %s)", op.Type, op.Namespace, op.KeySpec)
	case OpTRemove:
		return fmt.Sprintf("%s(%s, %v)", op.Type, op.Namespace, op.DocID)
	case OpTNoop:
		return op.Type.String()
	default:
		return fmt.Sprintf("%s(%s)", op.Type, op.Namespace)
	}
}
