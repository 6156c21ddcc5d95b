package boltdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const snapshotVersion = 1

// snapshotRecord is one element of the snapshot stream. A record either
// announces a nested bucket (Sub without Key), carries a key/value pair, or
// terminates the stream (End).
type snapshotRecord struct {
	Root string `msgpack:"r,omitempty"`
	Sub  string `msgpack:"s,omitempty"`
	Key  []byte `msgpack:"k,omitempty"`
	Val  []byte `msgpack:"v,omitempty"`
	End  bool   `msgpack:"e,omitempty"`
}

type snapshotHeader struct {
	Version int `msgpack:"version"`
}

// snapshotRoots are the buckets included in a snapshot. The replication log
// and hard state are per replica and not part of the replicated state.
var snapshotRoots = [][]byte{bucketCatalog, bucketDocs, bucketIdx}

// Save writes the catalog, documents, indexes and watermark to w.
func (e *Engine) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := value.NewEncoder(bw)

	err := e.bdb.View(func(tx *bbolt.Tx) error {
		if err := enc.Encode(&snapshotHeader{Version: snapshotVersion}); err != nil {
			return err
		}
		for _, root := range snapshotRoots {
			err := tx.Bucket(root).ForEach(func(k, v []byte) error {
				if v != nil {
					return enc.Encode(&snapshotRecord{Root: string(root), Key: k, Val: v})
				}
				// nested bucket
				if err := enc.Encode(&snapshotRecord{Root: string(root), Sub: string(k)}); err != nil {
					return err
				}
				return tx.Bucket(root).Bucket(k).ForEach(func(nk, nv []byte) error {
					return enc.Encode(&snapshotRecord{Root: string(root), Sub: string(k), Key: nk, Val: nv})
				})
			})
			if err != nil {
				return err
			}
		}
		applied := tx.Bucket(bucketMeta).Get(keyApplied)
		if applied != nil {
			if err := enc.Encode(&snapshotRecord{Root: string(bucketMeta), Key: keyApplied, Val: applied}); err != nil {
				return err
			}
		}
		return enc.Encode(&snapshotRecord{End: true})
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return bw.Flush()
}

// Load replaces the replicated state with the snapshot read from r.
func (e *Engine) Load(r io.Reader) error {
	dec := msgpack.NewDecoder(bufio.NewReader(r))

	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if header.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	err := e.bdb.Update(func(tx *bbolt.Tx) error {
		for _, root := range snapshotRoots {
			if err := tx.DeleteBucket(root); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(root); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketMeta).Delete(keyApplied); err != nil {
			return err
		}

		for {
			var rec snapshotRecord
			if err := dec.Decode(&rec); err != nil {
				return fmt.Errorf("truncated snapshot: %w", err)
			}
			if rec.End {
				return nil
			}
			b := tx.Bucket([]byte(rec.Root))
			if b == nil {
				return fmt.Errorf("unknown bucket %q in snapshot", rec.Root)
			}
			if rec.Sub != "" {
				sub, err := b.CreateBucketIfNotExists([]byte(rec.Sub))
				if err != nil {
					return err
				}
				b = sub
			}
			if rec.Key == nil {
				continue
			}
			if err := b.Put(rec.Key, rec.Val); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	var applied []byte
	_ = e.bdb.View(func(tx *bbolt.Tx) error {
		applied = copyBytes(tx.Bucket(bucketMeta).Get(keyApplied))
		return nil
	})
	e.setApplied(decodePosition(applied))
	log.Infof("loaded snapshot into %s at watermark %v", e.path, e.Applied())
	return nil
}
