package lstore

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db/engines/boltdb"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, path string) (store.IStore, *boltdb.Engine) {
	t.Helper()
	engine, err := boltdb.Open(path, &boltdb.Options{NoSync: true})
	require.NoError(t, err)
	s, err := NewLocalStore(engine)
	require.NoError(t, err)
	return s, engine
}

func TestReopenDropsTemporaries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standalone.db")
	s, engine := open(t, path)

	require.NoError(t, s.CreateNamespace("temp1", map[string]any{"temp": true}))
	require.NoError(t, s.EnsureIndex("temp1", catalog.KeySpec{{Field: "x", Direction: 1}}))
	require.NoError(t, s.CreateNamespace("keep1", nil))
	_, err := s.Insert("keep1", map[string]any{"_id": 1})
	require.NoError(t, err)

	temps, err := s.ListNamespaces(catalog.Pattern{}.WithTemporary(true))
	require.NoError(t, err)
	require.Len(t, temps, 3)

	first, err := s.GetRoleStatus()
	require.NoError(t, err)
	applied := engine.Applied().Seq
	require.NoError(t, engine.Close())

	s, engine = open(t, path)
	defer engine.Close()

	temps, err = s.ListNamespaces(catalog.Pattern{}.WithTemporary(true))
	require.NoError(t, err)
	require.Empty(t, temps)

	docs, _, err := s.Find(query.Query{Collection: "keep1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	second, err := s.GetRoleStatus()
	require.NoError(t, err)
	require.Greater(t, second.Term, first.Term)
	require.Equal(t, repl.RolePrimary, second.Role)
	require.True(t, second.Writable)
	require.Greater(t, engine.Applied().Seq, applied, "the sweep goes through the log")
}

func TestOperations(t *testing.T) {
	s, engine := open(t, filepath.Join(t.TempDir(), "standalone.db"))
	defer engine.Close()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"create", func() error { return s.CreateNamespace("c", nil) }, nil},
		{"create again", func() error { return s.CreateNamespace("c", nil) }, store.ErrAlreadyExists},
		{"bad option", func() error { return s.CreateNamespace("d", map[string]any{"capped": true}) }, store.ErrInvalidOperation},
		{"index", func() error { return s.EnsureIndex("c", catalog.KeySpec{{Field: "x", Direction: -1}}) }, nil},
		{"index again", func() error { return s.EnsureIndex("c", catalog.KeySpec{{Field: "x", Direction: -1}}) }, nil},
		{"remove from missing collection", func() error { return s.Remove("nope", 1) }, nil},
		{"step down", func() error { return s.StepDown(10, true) }, store.NewError(store.RetCUnsupportedOperation, "")},
		{"drop missing", func() error { return s.Drop("nope") }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}

	for i := 0; i < 5; i++ {
		_, err := s.Insert("c", map[string]any{"_id": i, "x": i})
		require.NoError(t, err)
	}
	_, err := s.Insert("c", map[string]any{"_id": 2})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	docs, explain, err := s.Find(query.Query{
		Collection: "c",
		Filter:     map[string]any{"x": map[string]any{"$gte": 2}},
		Projection: map[string]any{"x": 1, "_id": 0},
		Hint:       "x_-1",
	})
	require.NoError(t, err)
	require.True(t, explain.IndexOnly)
	require.Equal(t, 0, explain.DocumentsFetched)
	require.Equal(t, []map[string]any{{"x": float64(4)}, {"x": float64(3)}, {"x": float64(2)}}, docs)
}
