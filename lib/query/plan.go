package query

import (
	"bytes"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("query")

// Executor plans and runs queries against the local engine. It reads the
// catalog and the indexes directly and is safe for concurrent use.
type Executor struct {
	engine db.Engine
}

// NewExecutor returns an executor reading from engine.
func NewExecutor(engine db.Engine) *Executor {
	return &Executor{engine: engine}
}

// plan is the result of planning a query.
type plan struct {
	kind       string
	collection string
	index      catalog.Namespace // index plans only
	preds      []predicate
	proj       projection
	sort       catalog.KeySpec
	rng        db.Range
	blocking   bool
	outFields  []string // fields synthesized by covered plans
	batchSize  int
}

// Find plans q and returns a cursor over its results.
func (x *Executor) Find(q Query) (*Cursor, error) {
	p, err := x.plan(q)
	if err != nil {
		return nil, err
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_query_plans_total{plan=%q}`, p.kind)).Inc()
	log.Debugf("query on %q: plan %s index %q reverse=%v blockingSort=%v", q.Collection, p.kind, p.index.IndexName(), p.rng.Reverse, p.blocking)
	return newCursor(x.engine, p), nil
}

// FindAll runs q to completion.
func (x *Executor) FindAll(q Query) ([]map[string]any, Explain, error) {
	c, err := x.Find(q)
	if err != nil {
		return nil, Explain{}, err
	}
	docs, err := c.All()
	return docs, c.Explain(), err
}

func (x *Executor) plan(q Query) (*plan, error) {
	preds, err := parseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	proj, err := parseProjection(q.Projection)
	if err != nil {
		return nil, err
	}
	for _, f := range q.Sort {
		if f.Field == "" || (f.Direction != 1 && f.Direction != -1) {
			return nil, fmt.Errorf("%w: invalid sort %s", ErrInvalidQuery, q.Sort)
		}
	}
	batch := q.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	p := &plan{collection: q.Collection, preds: preds, proj: proj, sort: q.Sort, batchSize: batch}

	coll, ok, err := x.engine.GetNamespace(q.Collection)
	if err != nil {
		return nil, err
	}
	if !ok || !coll.IsCollection() {
		p.kind = PlanEOF
		return p, nil
	}
	indexes, err := x.engine.ListNamespaces(catalog.IndexesOf(q.Collection))
	if err != nil {
		return nil, err
	}

	if q.Hint != "" {
		name, err := resolveHint(q.Hint)
		if err != nil {
			return nil, err
		}
		for _, idx := range indexes {
			if idx.IndexName() != name {
				continue
			}
			p.index = idx
			if outFields, ok := covered(idx.KeySpec, preds, proj, q.Sort); ok {
				p.kind, p.outFields = PlanCovered, outFields
			} else {
				p.kind = PlanIndexFetch
			}
			p.rng, p.blocking = indexRange(idx.KeySpec, preds, q.Sort)
			return p, nil
		}
		return nil, fmt.Errorf("%w: %q on collection %q", ErrIndexNotFound, name, q.Collection)
	}

	for _, idx := range sortedNames(indexes) {
		if outFields, ok := covered(idx.KeySpec, preds, proj, q.Sort); ok {
			p.kind, p.index, p.outFields = PlanCovered, idx, outFields
			p.rng, p.blocking = indexRange(idx.KeySpec, preds, q.Sort)
			return p, nil
		}
	}

	p.kind = PlanCollScan
	p.rng, p.blocking = indexRange(catalog.IDKeySpec, preds, q.Sort)
	return p, nil
}

// covered reports whether a query can be answered from the entries of an
// index with key spec ks alone, and returns the fields of the results.
func covered(ks catalog.KeySpec, preds []predicate, proj projection, sort catalog.KeySpec) ([]string, bool) {
	out, ok := proj.coveredFields()
	if !ok {
		return nil, false
	}
	available := func(field string) bool {
		return field == value.IDField || ks.Position(field) >= 0
	}
	for _, f := range out {
		if !available(f) {
			return nil, false
		}
	}
	for _, f := range sort {
		if !available(f.Field) {
			return nil, false
		}
	}
	for _, p := range preds {
		if !p.indexable() || !available(p.field) {
			return nil, false
		}
	}
	return out, true
}

// indexRange returns the scan range of an index for the predicates on its
// leading field and whether the results need a blocking sort.
func indexRange(ks catalog.KeySpec, preds []predicate, sort catalog.KeySpec) (db.Range, bool) {
	r := db.Range{LowerInc: true}
	lead := ks[0]
	desc := lead.Direction < 0

	var lo, hi []byte
	raise := func(b []byte) {
		if b != nil && (lo == nil || bytes.Compare(b, lo) > 0) {
			lo = b
		}
	}
	lower := func(b []byte) {
		if b != nil && (hi == nil || bytes.Compare(b, hi) < 0) {
			hi = b
		}
	}
	for _, p := range preds {
		if p.field != lead.Field || !p.indexable() {
			continue
		}
		e := value.EncodeKey(p.operand, desc)
		if p.op == opEq {
			raise(e)
			lower(value.PrefixEnd(e))
			continue
		}
		bracket := value.KindLowerBound(value.KindOf(p.operand))
		if desc {
			bracket = []byte{^bracket[0]}
		}
		raise(bracket)
		lower(value.PrefixEnd(bracket))

		// greater values encode to smaller keys on a descending field
		op := p.op
		if desc {
			op = map[operator]operator{opGt: opLt, opGte: opLte, opLt: opGt, opLte: opGte}[op]
		}
		switch op {
		case opGt:
			raise(value.PrefixEnd(e))
		case opGte:
			raise(e)
		case opLt:
			lower(e)
		case opLte:
			lower(value.PrefixEnd(e))
		}
	}
	r.Lower, r.Upper = lo, hi
	if lo != nil && hi != nil && bytes.Compare(lo, hi) >= 0 {
		// empty range: an upper bound below the lower bound selects nothing
		r.Upper = lo
	}

	reverse, ok := scanOrder(ks, sort)
	r.Reverse = reverse
	return r, !ok
}

// scanOrder reports whether sort is provided by scanning an index forward or
// in reverse. ok is false if a blocking sort is needed.
func scanOrder(ks catalog.KeySpec, sort catalog.KeySpec) (reverse bool, ok bool) {
	if len(sort) == 0 {
		return false, true
	}
	order := ks
	if ks.Position(value.IDField) < 0 {
		// entries with equal keys are ordered by identity
		order = append(append(catalog.KeySpec(nil), ks...), catalog.KeyField{Field: value.IDField, Direction: 1})
	}
	if isPrefix(sort, order) {
		return false, true
	}
	if isPrefix(sort, order.Reverse()) {
		return true, true
	}
	return false, false
}

func isPrefix(prefix, ks catalog.KeySpec) bool {
	if len(prefix) > len(ks) {
		return false
	}
	return prefix.Equal(ks[:len(prefix)])
}
