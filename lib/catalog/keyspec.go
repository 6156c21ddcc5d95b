package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/value"
)

// IDIndexName is the name of the identity index every collection owns.
const IDIndexName = "_id_"

// KeyField is one component of an index key.
type KeyField struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"` // 1 ascending, -1 descending
}

// KeySpec is the ordered list of fields an index is built on.
type KeySpec []KeyField

// IDKeySpec is the key spec of the identity index.
var IDKeySpec = KeySpec{{Field: value.IDField, Direction: 1}}

// Validate checks that the key spec is non-empty, has valid directions and no duplicate fields.
func (ks KeySpec) Validate() error {
	if len(ks) == 0 {
		return fmt.Errorf("empty key spec")
	}
	seen := make(map[string]bool, len(ks))
	for _, f := range ks {
		if f.Field == "" || strings.Contains(f.Field, "$") {
			return fmt.Errorf("invalid key field %q", f.Field)
		}
		if f.Direction != 1 && f.Direction != -1 {
			return fmt.Errorf("invalid direction %d for key field %q", f.Direction, f.Field)
		}
		if seen[f.Field] {
			return fmt.Errorf("duplicate key field %q", f.Field)
		}
		seen[f.Field] = true
	}
	return nil
}

// Equal reports whether two key specs have the same field and direction sequence.
func (ks KeySpec) Equal(o KeySpec) bool {
	if len(ks) != len(o) {
		return false
	}
	for i := range ks {
		if ks[i] != o[i] {
			return false
		}
	}
	return true
}

// IsID reports whether the key spec is the identity key spec.
func (ks KeySpec) IsID() bool {
	return ks.Equal(IDKeySpec)
}

// Name derives the index name from the key spec ("x_1", "a_1_b_-1").
// The identity key spec is named "_id_".
func (ks KeySpec) Name() string {
	if ks.IsID() {
		return IDIndexName
	}
	parts := make([]string, 0, 2*len(ks))
	for _, f := range ks {
		parts = append(parts, f.Field, strconv.Itoa(f.Direction))
	}
	return strings.Join(parts, "_")
}

// Fields returns the key field names in key order.
func (ks KeySpec) Fields() []string {
	out := make([]string, len(ks))
	for i, f := range ks {
		out[i] = f.Field
	}
	return out
}

// Directions returns the key directions in key order.
func (ks KeySpec) Directions() []int {
	out := make([]int, len(ks))
	for i, f := range ks {
		out[i] = f.Direction
	}
	return out
}

// Position returns the position of a field within the key, or -1.
func (ks KeySpec) Position(field string) int {
	for i, f := range ks {
		if f.Field == field {
			return i
		}
	}
	return -1
}

// Reverse returns the key spec with all directions inverted.
func (ks KeySpec) Reverse() KeySpec {
	out := make(KeySpec, len(ks))
	for i, f := range ks {
		out[i] = KeyField{Field: f.Field, Direction: -f.Direction}
	}
	return out
}

func (ks KeySpec) String() string {
	parts := make([]string, len(ks))
	for i, f := range ks {
		parts[i] = fmt.Sprintf("%s:%d", f.Field, f.Direction)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ParseKeySpec parses the textual form "a:1,b:-1" (the braces of String are optional).
// A field without direction is ascending.
func ParseKeySpec(s string) (KeySpec, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	var ks KeySpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, dir, found := strings.Cut(part, ":")
		kf := KeyField{Field: strings.TrimSpace(field), Direction: 1}
		if found {
			d, err := strconv.Atoi(strings.TrimSpace(dir))
			if err != nil {
				return nil, fmt.Errorf("invalid direction in %q: %w", part, err)
			}
			kf.Direction = d
		}
		ks = append(ks, kf)
	}
	if err := ks.Validate(); err != nil {
		return nil, err
	}
	return ks, nil
}
