package oplog

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/value"
)

// TestSerializeDeserialize tests both Serialize and Deserialize of entries
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name string
		op   Op
	}{
		{name: "Create temporary", op: Create(1, "temp1", true)},
		{name: "EnsureIndex", op: EnsureIndex(2, "temp1", catalog.KeySpec{{Field: "x", Direction: 1}, {Field: "y", Direction: -1}})},
		{name: "Drop", op: Drop(3, "temp1.$x_1")},
		{name: "Insert", op: Insert(1, "keep4", map[string]any{"_id": 0.0, "a": map[string]any{"b": "c"}})},
		{name: "Remove zero id", op: Remove(1, "keep4", 0.0)},
		{name: "Remove empty string id", op: Remove(1, "keep4", "")},
		{name: "Remove false id", op: Remove(1, "keep4", false)},
		{name: "Remove null id", op: Remove(1, "keep4", nil)},
		{name: "Remove object id", op: Remove(1, "keep4", map[string]any{"bar": 1.0})},
		{name: "Noop", op: Noop(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Entry{Term: 4, Seq: 42, Op: tt.op}
			data, err := in.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}

			var out Entry
			if err := out.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if out.Position() != in.Position() {
				t.Errorf("Position = %v, want %v", out.Position(), in.Position())
			}
			if out.Op.Type != in.Op.Type || out.Op.ID != in.Op.ID || out.Op.Origin != in.Op.Origin {
				t.Errorf("header mismatch: got %+v, want %+v", out.Op, in.Op)
			}
			if out.Op.Namespace != in.Op.Namespace || out.Op.Temporary != in.Op.Temporary {
				t.Errorf("namespace mismatch: got %+v, want %+v", out.Op, in.Op)
			}
			if !out.Op.KeySpec.Equal(in.Op.KeySpec) {
				t.Errorf("KeySpec = %v, want %v", out.Op.KeySpec, in.Op.KeySpec)
			}
			if (out.Op.DocID == nil) != (in.Op.DocID == nil) || !value.Equal(out.Op.DocID, in.Op.DocID) {
				t.Errorf("DocID = %v, want %v", out.Op.DocID, in.Op.DocID)
			}
			if in.Op.Doc != nil && !value.Equal(out.Op.Doc, in.Op.Doc) {
				t.Errorf("Doc = %v, want %v", out.Op.Doc, in.Op.Doc)
			}
		})
	}
}

func TestDeserializeInvalid(t *testing.T) {
	var op Op
	if err := op.Deserialize(nil); err == nil {
		t.Errorf("expected error for empty data")
	}
	if err := op.Deserialize([]byte{0xc1}); err == nil {
		t.Errorf("expected error for invalid data")
	}
}

func TestResult(t *testing.T) {
	in := Resultf(ResultAlreadyExists, "namespace %s exists", "keep1")
	var out Result
	if err := out.Deserialize(in.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}

	var empty Result
	if err := empty.Deserialize(nil); err != nil || empty != OK {
		t.Errorf("empty result = %+v, %v", empty, err)
	}
}

func TestOpIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		op := Noop(1)
		if seen[op.ID] {
			t.Fatalf("duplicate op id %s", op.ID)
		}
		seen[op.ID] = true
	}
}
