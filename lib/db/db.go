package db

import (
	"io"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/oplog"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBolt Implementation = "boltdb"
)

// DatabaseInfo is a summary of the engine state.
type DatabaseInfo struct {
	SizeBytes   int64          `json:"size_bytes"`
	DbType      Implementation `json:"db_type"`
	Collections int            `json:"collections"`
	Indexes     int            `json:"indexes"`
	Documents   int            `json:"documents"`
	Applied     oplog.Position `json:"applied"`
	LastLog     oplog.Position `json:"last_log"`
	Metadata    interface{}    `json:"metadata"`
}

// Range selects encoded keys of an index or collection (see value.AppendKey).
// Nil bounds are open. Reverse walks from the upper towards the lower bound.
type Range struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

// FullRange selects all keys in ascending order.
func FullRange() Range { return Range{} }

// Reversed returns a copy of the range walking in reverse order.
func (r Range) Reversed() Range { r.Reverse = true; return r }

// After returns a copy of the range that resumes after key in scan direction.
func (r Range) After(key []byte) Range {
	if key == nil {
		return r
	}
	k := append([]byte(nil), key...)
	if r.Reverse {
		r.Upper, r.UpperInc = k, false
	} else {
		r.Lower, r.LowerInc = k, false
	}
	return r
}

// HardState is the persistent election state of a replica.
type HardState struct {
	Term     uint64 `msgpack:"t"`
	VotedFor uint64 `msgpack:"v"` // 0 means no vote in Term
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is the storage of one replica. It holds the catalog, documents and
// indexes and tracks the applied log watermark. Mutations only happen through
// Apply, so the whole state is reconstructible from the log.
type Engine interface {
	LogStore

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Apply applies a committed log entry. Entries at or below the watermark are
	// skipped (oplog.ResultSkipped). The mutation and the new watermark are persisted
	// atomically. Domain outcomes are reported in the result, a returned error means
	// the engine could not persist the entry.
	Apply(entry oplog.Entry) (result oplog.Result, err error)

	// Applied returns the position of the last applied entry.
	Applied() (pos oplog.Position)

	// --------------------------------------------------------------------------
	// Catalog Operations
	// --------------------------------------------------------------------------

	// GetNamespace returns the catalog entry of a namespace.
	GetNamespace(name string) (ns catalog.Namespace, ok bool, err error)

	// ListNamespaces returns all namespaces matching the pattern, sorted by name.
	ListNamespaces(p catalog.Pattern) (nss []catalog.Namespace, err error)

	// --------------------------------------------------------------------------
	// Document and Index Operations
	// --------------------------------------------------------------------------

	// GetDocument returns a document by identity.
	GetDocument(collection string, id any) (doc map[string]any, ok bool, err error)

	// ScanDocuments walks the documents of a collection in identity order. Keys are
	// the encoded identities. The scan stops when fn returns false.
	// Scanning a missing collection yields nothing.
	ScanDocuments(collection string, r Range, fn func(key []byte, doc map[string]any) bool) (err error)

	// ScanIndex walks the entries of an index namespace in key order. Keys are the
	// encoded key tuple followed by the encoded identity. Document buckets are not read.
	ScanIndex(index string, r Range, fn func(key []byte) bool) (err error)

	// Count returns the number of documents of a collection or entries of an index.
	Count(name string) (n int, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save writes the catalog, documents, indexes and watermark to w.
	// The replication log and hard state are not included.
	Save(w io.Writer) (err error)

	// Load replaces the state written by Save.
	Load(r io.Reader) (err error)

	// Verify checks that every index has exactly one entry per document of its collection.
	Verify() (err error)

	// GetInfo returns information about the engine.
	GetInfo() (info DatabaseInfo)

	// Sync flushes all writes to stable storage.
	Sync() (err error)

	// Close closes the engine.
	Close() (err error)
}

// LogStore persists the replication log and the election state of a replica.
// It is used by replicators that keep their own log (see repl/memrepl).
type LogStore interface {
	// HardState returns the persisted election state.
	HardState() (hs HardState, err error)

	// SetHardState persists the election state.
	SetHardState(hs HardState) (err error)

	// AppendLog stores entries. Existing entries with a sequence number at or after
	// the first new entry are removed first.
	AppendLog(entries ...oplog.Entry) (err error)

	// LogEntry returns the entry with the given sequence number.
	LogEntry(seq uint64) (entry oplog.Entry, ok bool, err error)

	// LogEntries returns up to max entries starting at sequence number from.
	// A max of 0 means no limit.
	LogEntries(from uint64, max int) (entries []oplog.Entry, err error)

	// LastLog returns the position of the last stored entry.
	LastLog() (pos oplog.Position, err error)
}

// Factory opens an engine stored in the given directory for a replica.
type Factory func(dir string, replicaID uint64) (Engine, error)
