package boltdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/lni/dragonboat/v4/logger"
	"go.etcd.io/bbolt"
)

var log = logger.GetLogger("catalog")

// Root buckets. Documents and index entries live in one nested bucket per
// collection (docs/<collection>) and per index (idx/<collection>.$<index>).
var (
	bucketCatalog = []byte("catalog")
	bucketDocs    = []byte("docs")
	bucketIdx     = []byte("idx")
	bucketMeta    = []byte("meta")
	bucketLog     = []byte("log")

	keyApplied   = []byte("applied")
	keyHardState = []byte("hardstate")
)

// Options configure how the bolt file is opened.
type Options struct {
	// NoSync skips fsync after each commit, for tests only.
	NoSync bool
	// Timeout is the time to wait for the file lock, defaults to one second.
	Timeout time.Duration
}

// Engine is a db.Engine backed by a single bbolt file.
type Engine struct {
	path string
	bdb  *bbolt.DB

	mu      sync.RWMutex
	applied oplog.Position
}

// FileName returns the file name of the engine of a replica.
func FileName(replicaID uint64) string {
	return fmt.Sprintf("ddoc-%d.db", replicaID)
}

// NewFactory returns a db.Factory opening <dir>/ddoc-<replica>.db.
func NewFactory(opts *Options) db.Factory {
	return func(dir string, replicaID uint64) (db.Engine, error) {
		return Open(filepath.Join(dir, FileName(replicaID)), opts)
	}
}

// Open opens (or creates) the engine stored at path.
func Open(path string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	e := &Engine{path: path, bdb: bdb}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCatalog, bucketDocs, bucketIdx, bucketMeta, bucketLog} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		e.applied = decodePosition(tx.Bucket(bucketMeta).Get(keyApplied))
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("failed to initialize %s: %w", path, err)
	}

	log.Debugf("opened engine %s at watermark %v", path, e.applied)
	return e, nil
}

// Path returns the file path of the engine.
func (e *Engine) Path() string {
	return e.path
}

// Applied returns the position of the last applied entry.
func (e *Engine) Applied() oplog.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applied
}

func (e *Engine) setApplied(pos oplog.Position) {
	e.mu.Lock()
	e.applied = pos
	e.mu.Unlock()
}

// GetInfo returns information about the engine.
func (e *Engine) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:   db.ImplBolt,
		Applied:  e.Applied(),
		Metadata: map[string]any{"path": e.path},
	}
	_ = e.bdb.View(func(tx *bbolt.Tx) error {
		info.SizeBytes = tx.Size()
		_ = tx.Bucket(bucketCatalog).ForEach(func(k, v []byte) error {
			if catalog.IsIndexNamespace(string(k)) {
				info.Indexes++
			} else {
				info.Collections++
			}
			return nil
		})
		_ = tx.Bucket(bucketDocs).ForEach(func(k, _ []byte) error {
			if b := tx.Bucket(bucketDocs).Bucket(k); b != nil {
				info.Documents += b.Stats().KeyN
			}
			return nil
		})
		if k, _ := tx.Bucket(bucketLog).Cursor().Last(); k != nil {
			if entry, err := decodeEntry(tx.Bucket(bucketLog).Get(k)); err == nil {
				info.LastLog = entry.Position()
			}
		}
		return nil
	})
	return info
}

// Sync flushes the bolt file.
func (e *Engine) Sync() error {
	return e.bdb.Sync()
}

// Close closes the bolt file.
func (e *Engine) Close() error {
	return e.bdb.Close()
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func encodePosition(pos oplog.Position) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], pos.Term)
	binary.BigEndian.PutUint64(buf[8:16], pos.Seq)
	return buf
}

func decodePosition(data []byte) oplog.Position {
	if len(data) != 16 {
		return oplog.Position{}
	}
	return oplog.Position{
		Term: binary.BigEndian.Uint64(data[0:8]),
		Seq:  binary.BigEndian.Uint64(data[8:16]),
	}
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

var _ db.Engine = (*Engine)(nil)
