package lockmgr

import (
	"errors"

	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/google/uuid"
)

// DefaultCollection is the collection holding the locks.
const DefaultCollection = "locks"

const ownerField = "owner"

type lockMgrImpl struct {
	store      store.IStore
	collection string
}

// NewLockManager creates a lock manager storing its locks in collection, or
// DefaultCollection if it is empty.
func NewLockManager(s store.IStore, collection string) ILockManager {
	if collection == "" {
		collection = DefaultCollection
	}
	return &lockMgrImpl{store: s, collection: collection}
}

// ensureCollection creates the lock collection as a temporary namespace.
func (lm *lockMgrImpl) ensureCollection() error {
	err := lm.store.CreateNamespace(lm.collection, map[string]any{"temp": true})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	return nil
}

func (lm *lockMgrImpl) AcquireLock(key string) (bool, string, error) {
	if err := lm.ensureCollection(); err != nil {
		return false, "", err
	}

	ownerID := uuid.NewString()

	// the identity index admits one document per key
	_, err := lm.store.Insert(lm.collection, map[string]any{"_id": key, ownerField: ownerID})
	if errors.Is(err, store.ErrDuplicateKey) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID string) (bool, error) {
	docs, _, err := lm.store.Find(query.Query{
		Collection: lm.collection,
		Filter:     map[string]any{"_id": key},
	})
	if err != nil || len(docs) == 0 {
		return err == nil, err
	}

	// Check if the lock is owned by us
	if owner, _ := docs[0][ownerField].(string); owner != ownerID {
		return false, nil
	}

	if err := lm.store.Remove(lm.collection, key); err != nil {
		return false, err
	}
	return true, nil
}
