package boltdb

import (
	"bytes"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Catalog
// --------------------------------------------------------------------------

// GetNamespace returns the catalog entry of a namespace.
func (e *Engine) GetNamespace(name string) (ns catalog.Namespace, ok bool, err error) {
	err = e.bdb.View(func(tx *bbolt.Tx) error {
		ns, ok, err = getNamespace(tx, name)
		return err
	})
	return ns, ok, err
}

// ListNamespaces returns all namespaces matching the pattern in name order.
func (e *Engine) ListNamespaces(p catalog.Pattern) ([]catalog.Namespace, error) {
	var out []catalog.Namespace
	err := e.bdb.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCatalog).Cursor()
		var k, v []byte
		if p.NamePrefix != "" {
			k, v = c.Seek([]byte(p.NamePrefix))
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if !bytes.HasPrefix(k, []byte(p.NamePrefix)) {
				break
			}
			ns, err := decodeNamespace(v)
			if err != nil {
				return err
			}
			if p.Match(ns) {
				out = append(out, ns)
			}
		}
		return nil
	})
	return out, err
}

func getNamespace(tx *bbolt.Tx, name string) (catalog.Namespace, bool, error) {
	data := tx.Bucket(bucketCatalog).Get([]byte(name))
	if data == nil {
		return catalog.Namespace{}, false, nil
	}
	ns, err := decodeNamespace(data)
	return ns, err == nil, err
}

func putNamespace(tx *bbolt.Tx, ns catalog.Namespace) error {
	data, err := value.Marshal(&ns)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCatalog).Put([]byte(ns.Name), data)
}

// indexesOf returns the indexes owned by a collection. Index namespaces of a
// collection share the prefix "<collection>.$" and collection names never
// contain '$', so a prefix scan finds exactly the owned indexes.
func indexesOf(tx *bbolt.Tx, collection string) ([]catalog.Namespace, error) {
	prefix := []byte(catalog.IndexNamespace(collection, ""))
	var out []catalog.Namespace
	c := tx.Bucket(bucketCatalog).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		ns, err := decodeNamespace(v)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

func decodeNamespace(data []byte) (catalog.Namespace, error) {
	var ns catalog.Namespace
	if err := msgpack.Unmarshal(data, &ns); err != nil {
		return ns, fmt.Errorf("failed to decode namespace: %w", err)
	}
	return ns, nil
}

// --------------------------------------------------------------------------
// Documents and indexes
// --------------------------------------------------------------------------

// GetDocument returns a document by identity.
func (e *Engine) GetDocument(collection string, id any) (doc map[string]any, ok bool, err error) {
	idKey := value.EncodeKey(id, false)
	err = e.bdb.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocs).Bucket([]byte(collection))
		if docs == nil {
			return nil
		}
		data := docs.Get(idKey)
		if data == nil {
			return nil
		}
		doc, err = decodeDoc(data)
		ok = err == nil
		return err
	})
	return doc, ok, err
}

// ScanDocuments walks the documents of a collection in identity order within
// one read transaction.
func (e *Engine) ScanDocuments(collection string, r db.Range, fn func(key []byte, doc map[string]any) bool) error {
	return e.bdb.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocs).Bucket([]byte(collection))
		if docs == nil {
			return nil
		}
		var derr error
		scanBucket(docs, r, func(k, v []byte) bool {
			doc, err := decodeDoc(v)
			if err != nil {
				derr = err
				return false
			}
			return fn(k, doc)
		})
		return derr
	})
}

// ScanIndex walks the entries of an index within one read transaction. The key
// passed to fn is only valid until fn returns.
func (e *Engine) ScanIndex(index string, r db.Range, fn func(key []byte) bool) error {
	return e.bdb.View(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(bucketIdx).Bucket([]byte(index))
		if ib == nil {
			return nil
		}
		scanBucket(ib, r, func(k, _ []byte) bool { return fn(k) })
		return nil
	})
}

// Count returns the number of documents of a collection or entries of an index.
func (e *Engine) Count(name string) (n int, err error) {
	err = e.bdb.View(func(tx *bbolt.Tx) error {
		root := bucketDocs
		if catalog.IsIndexNamespace(name) {
			root = bucketIdx
		}
		if b := tx.Bucket(root).Bucket([]byte(name)); b != nil {
			n = countBucket(b)
		}
		return nil
	})
	return n, err
}

// Verify checks that every index holds exactly one entry per document.
func (e *Engine) Verify() error {
	return e.bdb.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCatalog).ForEach(func(k, v []byte) error {
			ns, err := decodeNamespace(v)
			if err != nil {
				return err
			}
			if !ns.IsCollection() {
				if _, ok, _ := getNamespace(tx, ns.Owner); !ok {
					return fmt.Errorf("index %s has no owner %s", ns.Name, ns.Owner)
				}
				return nil
			}

			docs := tx.Bucket(bucketDocs).Bucket(k)
			if docs == nil {
				return fmt.Errorf("collection %s has no document bucket", ns.Name)
			}
			n := countBucket(docs)
			indexes, err := indexesOf(tx, ns.Name)
			if err != nil {
				return err
			}
			hasID := false
			for _, idx := range indexes {
				hasID = hasID || idx.KeySpec.IsID()
				ib := tx.Bucket(bucketIdx).Bucket([]byte(idx.Name))
				if ib == nil {
					return fmt.Errorf("index %s has no bucket", idx.Name)
				}
				if m := countBucket(ib); m != n {
					return fmt.Errorf("index %s has %d entries, collection %s has %d documents", idx.Name, m, ns.Name, n)
				}
			}
			if !hasID {
				return fmt.Errorf("collection %s has no identity index", ns.Name)
			}
			return nil
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// scanBucket walks the keys of a bucket selected by r. Keys and values are
// only valid until fn returns.
func scanBucket(b *bbolt.Bucket, r db.Range, fn func(k, v []byte) bool) {
	c := b.Cursor()
	if r.Reverse {
		var k, v []byte
		if r.Upper != nil {
			k, v = c.Seek(r.Upper)
			if k == nil {
				k, v = c.Last()
			} else if cmp := bytes.Compare(k, r.Upper); cmp > 0 || (cmp == 0 && !r.UpperInc) {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
		for ; k != nil; k, v = c.Prev() {
			if r.Lower != nil {
				if cmp := bytes.Compare(k, r.Lower); cmp < 0 || (cmp == 0 && !r.LowerInc) {
					return
				}
			}
			if !fn(k, v) {
				return
			}
		}
		return
	}

	var k, v []byte
	if r.Lower != nil {
		k, v = c.Seek(r.Lower)
		if k != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
			k, v = c.Next()
		}
	} else {
		k, v = c.First()
	}
	for ; k != nil; k, v = c.Next() {
		if r.Upper != nil {
			if cmp := bytes.Compare(k, r.Upper); cmp > 0 || (cmp == 0 && !r.UpperInc) {
				return
			}
		}
		if !fn(k, v) {
			return
		}
	}
}

func countBucket(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}
