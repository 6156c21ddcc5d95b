package query

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/btree"
)

const sortTreeDegree = 16

// Cursor is a lazy, restartable sequence of query results. Results are read in
// batches, each batch in its own read transaction, resuming after the last key
// of the previous batch. A Cursor is not safe for concurrent use.
type Cursor struct {
	engine  db.Engine
	plan    *plan
	explain Explain

	resume []byte
	done   bool
	buf    []map[string]any
	sorted *btree.BTree
}

type row struct {
	doc      map[string]any
	sortVals []any
}

func newCursor(engine db.Engine, p *plan) *Cursor {
	c := &Cursor{engine: engine, plan: p}
	c.Rewind()
	return c
}

// Rewind restarts the cursor at the first result.
func (c *Cursor) Rewind() {
	p := c.plan
	c.explain = Explain{
		Plan:         p.kind,
		Index:        p.index.IndexName(),
		IndexOnly:    p.kind == PlanCovered,
		Direction:    "forward",
		BlockingSort: p.blocking,
	}
	if p.rng.Reverse {
		c.explain.Direction = "backward"
	}
	c.resume = nil
	c.done = p.kind == PlanEOF
	c.buf = nil
	c.sorted = nil
}

// Explain returns the plan and the counters of the results read so far.
func (c *Cursor) Explain() Explain {
	return c.explain
}

// Next returns the next result. ok is false once the cursor is exhausted.
func (c *Cursor) Next() (doc map[string]any, ok bool, err error) {
	for len(c.buf) == 0 {
		if c.done {
			return nil, false, nil
		}
		if err := c.fill(); err != nil {
			return nil, false, err
		}
	}
	doc, c.buf = c.buf[0], c.buf[1:]
	c.explain.Returned++
	return doc, true, nil
}

// All returns the remaining results.
func (c *Cursor) All() ([]map[string]any, error) {
	var out []map[string]any
	for {
		doc, ok, err := c.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, doc)
	}
}

// Count rewinds the cursor and returns the total number of results. The
// cursor is rewound again afterwards.
func (c *Cursor) Count() (int, error) {
	c.Rewind()
	defer c.Rewind()
	n := 0
	for {
		_, ok, err := c.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// fill loads the next batch into buf.
func (c *Cursor) fill() error {
	size := c.plan.batchSize
	if !c.plan.blocking {
		rows, exhausted, err := c.readBatch(size)
		if err != nil {
			return err
		}
		for _, r := range rows {
			c.buf = append(c.buf, r.doc)
		}
		c.done = exhausted
		return nil
	}

	if c.sorted == nil {
		c.sorted = btree.New(sortTreeDegree)
		dirs := c.plan.sort.Directions()
		seq := 0
		for exhausted := false; !exhausted; {
			var rows []row
			var err error
			rows, exhausted, err = c.readBatch(size)
			if err != nil {
				c.sorted = nil
				return err
			}
			for _, r := range rows {
				c.sorted.ReplaceOrInsert(&sortItem{row: r, dirs: dirs, seq: seq})
				seq++
			}
		}
	}
	for len(c.buf) < size && c.sorted.Len() > 0 {
		c.buf = append(c.buf, c.sorted.DeleteMin().(*sortItem).doc)
	}
	c.done = c.sorted.Len() == 0
	return nil
}

// readBatch reads up to n matching rows after the resume key. exhausted is
// true if the scan reached the end of its range.
func (c *Cursor) readBatch(n int) (rows []row, exhausted bool, err error) {
	p := c.plan
	rng := p.rng.After(c.resume)
	full := false

	switch p.kind {
	case PlanCovered:
		dirs := p.index.KeySpec.Directions()
		fields := p.index.KeySpec.Fields()
		var derr error
		err = c.engine.ScanIndex(p.index.Name, rng, func(key []byte) bool {
			c.explain.KeysExamined++
			c.resume = append(c.resume[:0], key...)
			vals, rest, err := value.DecodeTuple(key, dirs)
			if err != nil {
				derr = err
				return false
			}
			id, _, err := value.DecodeKey(rest, false)
			if err != nil {
				derr = err
				return false
			}
			keyDoc := make(map[string]any, len(fields)+1)
			for i, f := range fields {
				keyDoc[f] = vals[i]
			}
			keyDoc[value.IDField] = id
			if !matchKey(p.preds, keyDoc) {
				return true
			}
			out := make(map[string]any, len(p.outFields))
			for _, f := range p.outFields {
				value.Set(out, f, keyDoc[f])
			}
			rows = append(rows, row{doc: out, sortVals: sortValues(p, keyDoc, true)})
			full = len(rows) >= n
			return !full
		})
		if err == nil {
			err = derr
		}

	case PlanIndexFetch:
		dirs := p.index.KeySpec.Directions()
		var ids []any
		var derr error
		err = c.engine.ScanIndex(p.index.Name, rng, func(key []byte) bool {
			c.explain.KeysExamined++
			c.resume = append(c.resume[:0], key...)
			_, rest, err := value.DecodeTuple(key, dirs)
			if err == nil {
				var id any
				id, _, err = value.DecodeKey(rest, false)
				ids = append(ids, id)
			}
			if err != nil {
				derr = err
				return false
			}
			full = len(ids) >= n
			return !full
		})
		if err == nil {
			err = derr
		}
		if err != nil {
			break
		}
		for _, id := range ids {
			doc, ok, ferr := c.engine.GetDocument(p.collection, id)
			if ferr != nil {
				err = ferr
				break
			}
			if !ok {
				continue
			}
			c.fetched(1)
			if matchDoc(p.preds, doc) {
				rows = append(rows, row{doc: p.proj.apply(doc), sortVals: sortValues(p, doc, false)})
			}
		}

	case PlanCollScan:
		err = c.engine.ScanDocuments(p.collection, rng, func(key []byte, doc map[string]any) bool {
			c.resume = append(c.resume[:0], key...)
			c.fetched(1)
			if !matchDoc(p.preds, doc) {
				return true
			}
			rows = append(rows, row{doc: p.proj.apply(doc), sortVals: sortValues(p, doc, false)})
			full = len(rows) >= n
			return !full
		})

	case PlanEOF:
		return nil, true, nil

	default:
		return nil, false, fmt.Errorf("unknown plan %q", p.kind)
	}

	if err != nil {
		return nil, false, fmt.Errorf("query on %q failed: %w", p.collection, err)
	}
	return rows, !full, nil
}

func (c *Cursor) fetched(n int) {
	c.explain.DocumentsFetched += n
	metrics.GetOrCreateCounter(`ddoc_query_documents_fetched_total`).Add(n)
}

// matchKey evaluates predicates on the values of an index key. Missing fields
// are indexed as null.
func matchKey(preds []predicate, keyDoc map[string]any) bool {
	for _, p := range preds {
		if !p.match(keyDoc[p.field], true) {
			return false
		}
	}
	return true
}

func sortValues(p *plan, doc map[string]any, flat bool) []any {
	if !p.blocking {
		return nil
	}
	vals := make([]any, len(p.sort))
	for i, f := range p.sort {
		if flat {
			vals[i] = doc[f.Field]
		} else {
			vals[i] = value.Get(doc, f.Field)
		}
	}
	return vals
}

// sortItem orders rows for a blocking sort. Rows with equal sort values keep
// their scan order.
type sortItem struct {
	row
	dirs []int
	seq  int
}

var _ btree.Item = &sortItem{}

func (a *sortItem) Less(other btree.Item) bool {
	b := other.(*sortItem)
	for i, d := range a.dirs {
		if c := value.Compare(a.sortVals[i], b.sortVals[i]) * d; c != 0 {
			return c < 0
		}
	}
	return a.seq < b.seq
}
