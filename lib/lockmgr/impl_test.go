package lockmgr

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db/engines/boltdb"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) store.IStore {
	t.Helper()
	engine, err := boltdb.Open(path, &boltdb.Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	s, err := lstore.NewLocalStore(engine)
	require.NoError(t, err)
	return s
}

func TestAcquireRelease(t *testing.T) {
	locks := NewLockManager(openStore(t, filepath.Join(t.TempDir(), "locks.db")), "")

	ok, owner, err := locks.AcquireLock("resource")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, owner)

	ok, _, err = locks.AcquireLock("resource")
	require.NoError(t, err)
	require.False(t, ok, "lock is held")

	ok, _, err = locks.AcquireLock("other")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locks.ReleaseLock("resource", "someone else")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = locks.ReleaseLock("resource", owner)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locks.ReleaseLock("resource", owner)
	require.NoError(t, err)
	require.True(t, ok, "releasing a free lock")

	ok, _, err = locks.AcquireLock("resource")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocksAreTemporary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.db")
	engine, err := boltdb.Open(path, &boltdb.Options{NoSync: true})
	require.NoError(t, err)
	s, err := lstore.NewLocalStore(engine)
	require.NoError(t, err)

	locks := NewLockManager(s, "mylocks")
	ok, _, err := locks.AcquireLock("resource")
	require.NoError(t, err)
	require.True(t, ok)

	nss, err := s.ListNamespaces(catalog.Pattern{NamePrefix: "mylocks"}.WithTemporary(true))
	require.NoError(t, err)
	require.Len(t, nss, 2, "collection and identity index")
	require.NoError(t, engine.Close())

	// reopening the standalone store behaves like a promotion
	locks = NewLockManager(openStore(t, path), "mylocks")
	ok, _, err = locks.AcquireLock("resource")
	require.NoError(t, err)
	require.True(t, ok)
}
