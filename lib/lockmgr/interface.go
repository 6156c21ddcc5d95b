package lockmgr

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock acquires the lock for the given key.
	// Returns whether the lock was acquired and the owner ID needed to release it.
	AcquireLock(key string) (ok bool, ownerID string, err error)

	// ReleaseLock releases the lock for the given key.
	// Returns whether the lock was released. The method also returns true if
	// the lock did not exist.
	ReleaseLock(key string, ownerID string) (ok bool, err error)
}
