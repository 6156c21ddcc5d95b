package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/value"
)

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind distinguishes collections from indexes.
type Kind uint8

const (
	KindCollection Kind = iota + 1 // A collection holding documents.
	KindIndex                      // An index owned by exactly one collection.
)

func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindIndex:
		return "index"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// ParseKind parses the string representation of a kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "collection", "coll":
		return KindCollection, nil
	case "index", "idx":
		return KindIndex, nil
	default:
		return 0, fmt.Errorf("unknown namespace kind %q", s)
	}
}

// --------------------------------------------------------------------------
// Namespace
// --------------------------------------------------------------------------

// Position is a point in the replicated log. Positions are ordered by term first
// and sequence number second.
type Position struct {
	Term uint64 `json:"term"`
	Seq  uint64 `json:"seq"`
}

// Compare returns -1, 0 or +1.
func (p Position) Compare(o Position) int {
	switch {
	case p.Term < o.Term:
		return -1
	case p.Term > o.Term:
		return 1
	case p.Seq < o.Seq:
		return -1
	case p.Seq > o.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports whether p is before o.
func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

// IsZero reports whether p is the position before the first entry.
func (p Position) IsZero() bool {
	return p.Term == 0 && p.Seq == 0
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Term, p.Seq)
}

// Namespace is a catalog entry. The name is the catalog key.
type Namespace struct {
	Name      string   `json:"name"`
	Kind      Kind     `json:"kind"`
	Temporary bool     `json:"temporary"`
	Owner     string   `json:"owner,omitempty"`   // owning collection, set for indexes only
	KeySpec   KeySpec  `json:"keySpec,omitempty"` // index key, set for indexes only
	CreatedAt Position `json:"createdAt"`
}

// IsCollection reports whether the namespace is a collection.
func (ns Namespace) IsCollection() bool { return ns.Kind == KindCollection }

// IsIndex reports whether the namespace is an index.
func (ns Namespace) IsIndex() bool { return ns.Kind == KindIndex }

// IndexName returns the short index name (e.g. "x_1") of an index namespace.
func (ns Namespace) IndexName() string {
	_, idx, _ := SplitIndexNamespace(ns.Name)
	return idx
}

func (ns Namespace) String() string {
	s := fmt.Sprintf("%s %s", ns.Kind, ns.Name)
	if ns.Temporary {
		s += " (temporary)"
	}
	return s
}

// SortByName sorts namespaces in ascending name order.
func SortByName(nss []Namespace) {
	sort.Slice(nss, func(i, j int) bool { return nss[i].Name < nss[j].Name })
}

// --------------------------------------------------------------------------
// Name grammar
// --------------------------------------------------------------------------

const (
	// MaxNameLength is the maximum length of a namespace name.
	MaxNameLength = 120

	indexSeparator = ".$"
)

// ValidateCollectionName checks a collection name. Names consist of letters,
// digits, '_' and '.', must not start or end with '.' and must not contain "..".
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("empty collection name")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("collection name %q exceeds %d characters", name, MaxNameLength)
	}
	if name[0] == '.' || name[len(name)-1] == '.' || strings.Contains(name, "..") {
		return fmt.Errorf("collection name %q has an empty component", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return fmt.Errorf("collection name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// IndexNamespace returns the namespace name of an index ("coll.$name").
func IndexNamespace(collection, indexName string) string {
	return collection + indexSeparator + indexName
}

// SplitIndexNamespace splits an index namespace name into collection and index name.
// ok is false if the name is not an index namespace.
func SplitIndexNamespace(name string) (collection, indexName string, ok bool) {
	i := strings.Index(name, indexSeparator)
	if i < 0 {
		return name, "", false
	}
	return name[:i], name[i+len(indexSeparator):], true
}

// IsIndexNamespace reports whether name addresses an index.
func IsIndexNamespace(name string) bool {
	_, _, ok := SplitIndexNamespace(name)
	return ok
}

// IDIndexNamespace returns the namespace of the identity index of a collection.
func IDIndexNamespace(collection string) string {
	return IndexNamespace(collection, IDIndexName)
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// CreateOptions are the options of a namespace creation.
type CreateOptions struct {
	Temporary bool `json:"temporary"`
}

// ParseTemporary normalizes the accepted encodings of the temporary flag
// (bool, 0 or 1 and nil for absent) into a bool.
func ParseTemporary(v any) (bool, error) {
	n, err := value.Normalize(v)
	if err != nil {
		return false, fmt.Errorf("invalid temporary flag: %w", err)
	}
	switch t := n.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case float64:
		switch t {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return false, fmt.Errorf("invalid temporary flag %v (expected bool, 0 or 1)", v)
}

// ParseCreateOptions reads creation options from a loosely typed option map.
// Both "temp" and "temporary" are accepted as keys for the temporary flag.
func ParseCreateOptions(opts map[string]any) (CreateOptions, error) {
	var out CreateOptions
	for k, v := range opts {
		switch k {
		case "temp", "temporary":
			b, err := ParseTemporary(v)
			if err != nil {
				return CreateOptions{}, err
			}
			out.Temporary = out.Temporary || b
		default:
			return CreateOptions{}, fmt.Errorf("unknown create option %q", k)
		}
	}
	return out, nil
}
