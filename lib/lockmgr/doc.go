// Package lockmgr implements advisory locks on top of any store.IStore.
//
// The lock manager has no state besides the documents it stores. It is safe to
// create one per operation as long as the same store and collection are used.
//
// Implementation Approach:
//
//	A lock is a document {_id: key, owner: ownerID} in a temporary collection.
//
//	- Lock Acquisition: Inserts the lock document. The identity index rejects a
//	  second document with the same key (DuplicateKey), so only one requester
//	  can hold a lock.
//
//	- Safe Release: ReleaseLock reads the lock document and removes it only if
//	  the owner ID matches.
//
//	- Failover: The lock collection is temporary. A member that becomes primary
//	  drops it before accepting writes, so every lock is released when the
//	  primary changes. Clients holding a lock must acquire it again after a
//	  failover.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(store, "")
//	acquired, ownerID, err := locks.AcquireLock("resource:123")
//	if err != nil { ... }
//	if acquired {
//	    // use the resource
//	    _, err = locks.ReleaseLock("resource:123", ownerID)
//	}
//
// Release is not atomic: a lock that is released and acquired by another
// owner between the read and the removal can be removed by the first owner.
package lockmgr
