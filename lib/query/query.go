package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/value"
)

// Errors of the query layer.
var (
	ErrIndexNotFound = errors.New("index not found")
	ErrInvalidQuery  = errors.New("invalid query")
)

// DefaultBatchSize is the number of results a cursor reads per batch.
const DefaultBatchSize = 101

// Query is a find request on one collection.
type Query struct {
	Collection string `json:"collection"`
	// Filter maps field paths to a literal (equality) or an operator document
	// such as {"$gte": 3, "$lt": 7}.
	Filter map[string]any `json:"filter,omitempty"`
	// Projection maps field paths to 1/true (include) or 0/false (exclude).
	// An empty projection returns whole documents.
	Projection map[string]any `json:"projection,omitempty"`
	// Sort is the requested result order.
	Sort catalog.KeySpec `json:"sort,omitempty"`
	// Hint names the index to use, either by name ("x_1") or by key spec ("x:1").
	Hint string `json:"hint,omitempty"`
	// BatchSize is the number of results per batch, DefaultBatchSize if zero.
	BatchSize int `json:"batchSize,omitempty"`
}

// Explain describes how a query was executed.
type Explain struct {
	Plan             string `json:"plan"`
	Index            string `json:"index,omitempty"`
	IndexOnly        bool   `json:"indexOnly"`
	DocumentsFetched int    `json:"documentsFetched"`
	KeysExamined     int    `json:"keysExamined"`
	Returned         int    `json:"returned"`
	Direction        string `json:"direction"`
	BlockingSort     bool   `json:"blockingSort"`
}

// Plan names.
const (
	PlanEOF        = "EOF"
	PlanCovered    = "IXSCAN_COVERED"
	PlanIndexFetch = "IXSCAN_FETCH"
	PlanCollScan   = "COLLSCAN"
)

func (e Explain) String() string {
	return fmt.Sprintf("%s index=%q indexOnly=%v fetched=%d examined=%d returned=%d dir=%s blockingSort=%v",
		e.Plan, e.Index, e.IndexOnly, e.DocumentsFetched, e.KeysExamined, e.Returned, e.Direction, e.BlockingSort)
}

// --------------------------------------------------------------------------
// Predicates
// --------------------------------------------------------------------------

type operator uint8

const (
	opEq operator = iota
	opGt
	opGte
	opLt
	opLte
	opIn
	opExists
)

var operators = map[string]operator{
	"$eq":     opEq,
	"$gt":     opGt,
	"$gte":    opGte,
	"$lt":     opLt,
	"$lte":    opLte,
	"$in":     opIn,
	"$exists": opExists,
}

type predicate struct {
	field   string
	op      operator
	operand any
}

// indexable reports whether the predicate can be evaluated on an index key.
func (p predicate) indexable() bool {
	return p.op != opIn && p.op != opExists
}

// match evaluates the predicate on a field value. present is false if the
// field is missing. Range operators only match values of the operand's kind.
func (p predicate) match(v any, present bool) bool {
	switch p.op {
	case opEq:
		return value.Equal(v, p.operand)
	case opGt, opGte, opLt, opLte:
		if value.KindOf(v) != value.KindOf(p.operand) {
			return false
		}
		c := value.Compare(v, p.operand)
		switch p.op {
		case opGt:
			return c > 0
		case opGte:
			return c >= 0
		case opLt:
			return c < 0
		default:
			return c <= 0
		}
	case opIn:
		for _, o := range p.operand.([]any) {
			if value.Equal(v, o) {
				return true
			}
		}
		return false
	case opExists:
		return present == p.operand.(bool)
	}
	return false
}

// parseFilter turns a filter document into predicates sorted by field.
func parseFilter(filter map[string]any) ([]predicate, error) {
	var preds []predicate
	for _, field := range value.SortedKeys(filter) {
		if field == "" || strings.HasPrefix(field, "$") {
			return nil, fmt.Errorf("%w: unsupported filter field %q", ErrInvalidQuery, field)
		}
		raw, err := value.Normalize(filter[field])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		ops, ok := raw.(map[string]any)
		if !ok || !isOperatorDoc(ops) {
			preds = append(preds, predicate{field: field, op: opEq, operand: raw})
			continue
		}
		for _, name := range value.SortedKeys(ops) {
			op, ok := operators[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown operator %q on %q", ErrInvalidQuery, name, field)
			}
			operand := ops[name]
			switch op {
			case opIn:
				if _, ok := operand.([]any); !ok {
					return nil, fmt.Errorf("%w: $in on %q needs an array", ErrInvalidQuery, field)
				}
			case opExists:
				b, ok := operand.(bool)
				if !ok {
					f, isNum := operand.(float64)
					if !isNum {
						return nil, fmt.Errorf("%w: $exists on %q needs a bool", ErrInvalidQuery, field)
					}
					b = f != 0
				}
				operand = b
			}
			preds = append(preds, predicate{field: field, op: op, operand: operand})
		}
	}
	return preds, nil
}

func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// matchDoc evaluates all predicates on a document.
func matchDoc(preds []predicate, doc map[string]any) bool {
	for _, p := range preds {
		v, ok := value.Lookup(doc, p.field)
		if !p.match(v, ok) {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Projection
// --------------------------------------------------------------------------

type projection struct {
	fields    []string // included (or excluded) fields, without _id
	exclusion bool
	withID    bool
	all       bool // no projection given
}

func parseProjection(p map[string]any) (projection, error) {
	proj := projection{withID: true, all: len(p) == 0}
	included, excluded := 0, 0
	for _, field := range value.SortedKeys(p) {
		inc, err := truthy(p[field])
		if err != nil {
			return projection{}, fmt.Errorf("%w: projection of %q: %v", ErrInvalidQuery, field, err)
		}
		if field == value.IDField {
			proj.withID = inc
			continue
		}
		if inc {
			included++
		} else {
			excluded++
		}
		proj.fields = append(proj.fields, field)
	}
	switch {
	case included > 0 && excluded > 0:
		return projection{}, fmt.Errorf("%w: projection mixes inclusion and exclusion", ErrInvalidQuery)
	case included > 0:
	case excluded > 0, !proj.withID:
		proj.exclusion = true
		if !proj.withID {
			proj.fields = append(proj.fields, value.IDField)
		}
	}
	return proj, nil
}

func truthy(v any) (bool, error) {
	n, err := value.Normalize(v)
	if err != nil {
		return false, err
	}
	switch t := n.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	default:
		return false, fmt.Errorf("unsupported value %v", v)
	}
}

// coveredFields returns the fields an inclusion projection outputs.
func (p projection) coveredFields() ([]string, bool) {
	if p.all || p.exclusion {
		return nil, false
	}
	out := append([]string(nil), p.fields...)
	if p.withID {
		out = append(out, value.IDField)
	}
	return out, true
}

// apply projects a whole document.
func (p projection) apply(doc map[string]any) map[string]any {
	if p.all {
		return doc
	}
	if p.exclusion {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		for _, f := range p.fields {
			deletePath(out, f)
		}
		return out
	}
	out := make(map[string]any, len(p.fields)+1)
	if id, ok := doc[value.IDField]; ok && p.withID {
		out[value.IDField] = id
	}
	for _, f := range p.fields {
		if v, ok := value.Lookup(doc, f); ok {
			value.Set(out, f, v)
		}
	}
	return out
}

func deletePath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := doc[part].(map[string]any)
		if !ok {
			return
		}
		// copy on write, the document may be shared
		cp := make(map[string]any, len(next))
		for k, v := range next {
			cp[k] = v
		}
		doc[part] = cp
		doc = cp
	}
	delete(doc, parts[len(parts)-1])
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// resolveHint turns an index name or key spec into an index name.
func resolveHint(hint string) (string, error) {
	if !strings.Contains(hint, ":") {
		return hint, nil
	}
	ks, err := catalog.ParseKeySpec(hint)
	if err != nil {
		return "", fmt.Errorf("%w: hint %q: %v", ErrInvalidQuery, hint, err)
	}
	return ks.Name(), nil
}

func sortedNames(nss []catalog.Namespace) []catalog.Namespace {
	out := append([]catalog.Namespace(nil), nss...)
	sort.Slice(out, func(i, j int) bool { return out[i].IndexName() < out[j].IndexName() })
	return out
}
