package query

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/boltdb"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/stretchr/testify/require"
)

// fixture is an engine with ops applied in sequence.
type fixture struct {
	t      *testing.T
	engine db.Engine
	seq    uint64
}

func newFixture(t *testing.T) *fixture {
	engine, err := boltdb.NewFactory(&boltdb.Options{NoSync: true})(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return &fixture{t: t, engine: engine}
}

func (f *fixture) apply(op oplog.Op) {
	f.t.Helper()
	f.seq++
	res, err := f.engine.Apply(oplog.Entry{Term: 1, Seq: f.seq, Op: op})
	require.NoError(f.t, err)
	require.Equal(f.t, oplog.ResultOK, res.Code, res.Msg)
}

func (f *fixture) find(q Query) ([]map[string]any, Explain) {
	f.t.Helper()
	docs, explain, err := NewExecutor(f.engine).FindAll(q)
	require.NoError(f.t, err)
	return docs, explain
}

// mixedIDs inserts the documents with the identities 0..9, "1", {bar:1} and null.
func (f *fixture) mixedIDs(coll string) {
	for i := 0; i < 10; i++ {
		f.apply(oplog.Insert(1, coll, map[string]any{"_id": i, "x": i % 3}))
	}
	f.apply(oplog.Insert(1, coll, map[string]any{"_id": "1", "x": "a"}))
	f.apply(oplog.Insert(1, coll, map[string]any{"_id": map[string]any{"bar": 1}, "x": true}))
	f.apply(oplog.Insert(1, coll, map[string]any{"_id": nil}))
}

func ids(docs []map[string]any) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["_id"]
	}
	return out
}

func TestCoveredIdentityScan(t *testing.T) {
	f := newFixture(t)
	f.mixedIDs("c")

	for _, dir := range []int{-1, 1} {
		docs, explain := f.find(Query{
			Collection: "c",
			Projection: map[string]any{"_id": 1},
			Sort:       catalog.KeySpec{{Field: "_id", Direction: dir}},
			Hint:       "_id_",
		})
		require.Len(t, docs, 13)
		require.True(t, explain.IndexOnly)
		require.Equal(t, 0, explain.DocumentsFetched)
		require.Equal(t, PlanCovered, explain.Plan)
		require.False(t, explain.BlockingSort)
		require.Equal(t, 13, explain.Returned)

		want := []any{0.0, 1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, "1", map[string]any{"bar": 1.0}, nil}
		if dir < 0 {
			require.Equal(t, "backward", explain.Direction)
			for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
				want[i], want[j] = want[j], want[i]
			}
		}
		require.Equal(t, want, ids(docs))
		for _, d := range docs {
			require.Len(t, d, 1, "covered results only carry projected fields")
		}
	}
}

func TestCoveredSecondaryIndex(t *testing.T) {
	f := newFixture(t)
	f.apply(oplog.EnsureIndex(1, "c", catalog.KeySpec{{Field: "x", Direction: 1}}))
	f.mixedIDs("c")

	tests := []struct {
		name    string
		filter  map[string]any
		want    []any
		blocked bool
		sort    catalog.KeySpec
	}{
		{"equality", map[string]any{"x": 1}, []any{1.0, 4.0, 7.0}, false, nil},
		{"range", map[string]any{"x": map[string]any{"$gte": 1, "$lt": 3}}, []any{1.0, 4.0, 7.0, 2.0, 5.0, 8.0}, false, nil},
		{"type bracketing", map[string]any{"x": map[string]any{"$gt": -100}}, []any{0.0, 3.0, 6.0, 9.0, 1.0, 4.0, 7.0, 2.0, 5.0, 8.0}, false, nil},
		{"string range", map[string]any{"x": map[string]any{"$gte": ""}}, []any{"1"}, false, nil},
		{"null", map[string]any{"x": nil}, []any{nil}, false, nil},
		{"reverse", map[string]any{"x": 0}, []any{9.0, 6.0, 3.0, 0.0}, false, catalog.KeySpec{{Field: "x", Direction: -1}, {Field: "_id", Direction: -1}}},
		{"blocking sort", map[string]any{"x": map[string]any{"$lte": 1}}, []any{9.0, 7.0, 6.0, 4.0, 3.0, 1.0, 0.0}, true, catalog.KeySpec{{Field: "_id", Direction: -1}}},
		{"empty range", map[string]any{"x": map[string]any{"$gt": 5, "$lt": 1}}, []any{}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, explain := f.find(Query{
				Collection: "c",
				Filter:     tt.filter,
				Projection: map[string]any{"_id": 1, "x": 1},
				Sort:       tt.sort,
				Hint:       "x:1",
			})
			require.Equal(t, PlanCovered, explain.Plan)
			require.Equal(t, 0, explain.DocumentsFetched)
			require.Equal(t, tt.blocked, explain.BlockingSort)
			require.Equal(t, tt.want, append([]any{}, ids(docs)...))
		})
	}
}

func TestFallback(t *testing.T) {
	f := newFixture(t)
	f.apply(oplog.EnsureIndex(1, "c", catalog.KeySpec{{Field: "x", Direction: 1}}))
	f.mixedIDs("c")

	t.Run("whole documents", func(t *testing.T) {
		docs, explain := f.find(Query{Collection: "c", Filter: map[string]any{"x": 2}, Hint: "x_1"})
		require.Equal(t, PlanIndexFetch, explain.Plan)
		require.False(t, explain.IndexOnly)
		require.Equal(t, 3, explain.DocumentsFetched)
		require.Equal(t, []any{2.0, 5.0, 8.0}, ids(docs))
		require.Equal(t, 2.0, docs[0]["x"])
	})

	t.Run("collection scan", func(t *testing.T) {
		docs, explain := f.find(Query{Collection: "c", Filter: map[string]any{"x": map[string]any{"$exists": false}}})
		require.Equal(t, PlanCollScan, explain.Plan)
		require.Equal(t, 13, explain.DocumentsFetched)
		require.Equal(t, []any{nil}, ids(docs))
	})

	t.Run("exclusion projection", func(t *testing.T) {
		docs, _ := f.find(Query{
			Collection: "c",
			Filter:     map[string]any{"_id": map[string]any{"$in": []any{1, 2}}},
			Projection: map[string]any{"_id": 0},
			Sort:       catalog.KeySpec{{Field: "x", Direction: -1}},
		})
		require.Equal(t, []map[string]any{{"x": 2.0}, {"x": 1.0}}, docs)
	})

	t.Run("no hint picks covering index", func(t *testing.T) {
		_, explain := f.find(Query{Collection: "c", Projection: map[string]any{"x": 1, "_id": 0}})
		require.Equal(t, PlanCovered, explain.Plan)
		require.Equal(t, "x_1", explain.Index)
	})
}

func TestCursor(t *testing.T) {
	f := newFixture(t)
	f.mixedIDs("c")

	c, err := NewExecutor(f.engine).Find(Query{
		Collection: "c",
		Projection: map[string]any{"_id": 1},
		Hint:       "_id_",
		BatchSize:  2,
	})
	require.NoError(t, err)

	first, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.0, first["_id"])

	rest, err := c.All()
	require.NoError(t, err)
	require.Len(t, rest, 12)

	n, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 13, n)

	// rewound after counting
	again, err := c.All()
	require.NoError(t, err)
	require.Len(t, again, 13)
	require.Equal(t, 13, c.Explain().KeysExamined)
}

func TestErrors(t *testing.T) {
	f := newFixture(t)
	f.mixedIDs("c")
	x := NewExecutor(f.engine)

	_, err := x.Find(Query{Collection: "c", Hint: "y_1"})
	require.ErrorIs(t, err, ErrIndexNotFound)

	_, err = x.Find(Query{Collection: "c", Filter: map[string]any{"x": map[string]any{"$regex": "a"}}})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = x.Find(Query{Collection: "c", Projection: map[string]any{"a": 1, "b": 0}})
	require.ErrorIs(t, err, ErrInvalidQuery)

	docs, explain, err := x.FindAll(Query{Collection: "missing", Hint: "_id_"})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Equal(t, PlanEOF, explain.Plan)
}
