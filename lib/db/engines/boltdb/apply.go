package boltdb

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/value"
	"github.com/VictoriaMetrics/metrics"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// Apply applies a committed entry. The mutation and the watermark are written
// in one transaction. Entries whose sequence number is not above the watermark
// are skipped.
func (e *Engine) Apply(entry oplog.Entry) (oplog.Result, error) {
	pos := entry.Position()
	if applied := e.Applied(); pos.Seq <= applied.Seq {
		metrics.GetOrCreateCounter(`ddoc_engine_entries_skipped_total`).Inc()
		return oplog.Resultf(oplog.ResultSkipped, "entry %v at or below watermark %v", pos, applied), nil
	}

	var res oplog.Result
	err := e.bdb.Update(func(tx *bbolt.Tx) error {
		var err error
		res, err = applyOp(tx, pos, entry.Op)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyApplied, encodePosition(pos))
	})
	if err != nil {
		return oplog.Result{}, fmt.Errorf("failed to apply entry %v: %w", pos, err)
	}
	e.setApplied(pos)

	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_engine_entries_applied_total{op=%q,result=%q}`, entry.Op.Type, res.Code)).Inc()
	if res.Code != oplog.ResultOK {
		log.Debugf("entry %v %s: %s %s", pos, entry.Op, res.Code, res.Msg)
	}
	return res, nil
}

func applyOp(tx *bbolt.Tx, pos oplog.Position, op oplog.Op) (oplog.Result, error) {
	switch op.Type {
	case oplog.OpTNoop:
		return oplog.OK, nil
	case oplog.OpTCreate:
		return applyCreate(tx, pos, op)
	case oplog.OpTEnsureIndex:
		return applyEnsureIndex(tx, pos, op)
	case oplog.OpTDrop:
		return applyDrop(tx, op)
	case oplog.OpTInsert:
		return applyInsert(tx, pos, op)
	case oplog.OpTRemove:
		return applyRemove(tx, op)
	default:
		return oplog.Resultf(oplog.ResultInvalid, "unknown op type %s", op.Type), nil
	}
}

// --------------------------------------------------------------------------
// Catalog operations
// --------------------------------------------------------------------------

func applyCreate(tx *bbolt.Tx, pos oplog.Position, op oplog.Op) (oplog.Result, error) {
	if err := catalog.ValidateCollectionName(op.Namespace); err != nil {
		return oplog.Resultf(oplog.ResultInvalid, "%v", err), nil
	}
	if _, ok, err := getNamespace(tx, op.Namespace); err != nil || ok {
		if err != nil {
			return oplog.Result{}, err
		}
		return oplog.Resultf(oplog.ResultAlreadyExists, "namespace %s already exists", op.Namespace), nil
	}
	if _, err := createCollection(tx, pos, op.Namespace, op.Temporary); err != nil {
		return oplog.Result{}, err
	}
	return oplog.OK, nil
}

func applyEnsureIndex(tx *bbolt.Tx, pos oplog.Position, op oplog.Op) (oplog.Result, error) {
	if err := catalog.ValidateCollectionName(op.Namespace); err != nil {
		return oplog.Resultf(oplog.ResultInvalid, "%v", err), nil
	}
	if err := op.KeySpec.Validate(); err != nil {
		return oplog.Resultf(oplog.ResultInvalid, "%v", err), nil
	}

	coll, err := implicitCollection(tx, pos, op.Namespace)
	if err != nil {
		return oplog.Result{}, err
	}

	// index names are derived from the key spec, so an equivalent index has the same name
	name := catalog.IndexNamespace(coll.Name, op.KeySpec.Name())
	if existing, ok, err := getNamespace(tx, name); err != nil {
		return oplog.Result{}, err
	} else if ok {
		if !existing.KeySpec.Equal(op.KeySpec) {
			return oplog.Resultf(oplog.ResultInvalid, "index %s exists with key %s", name, existing.KeySpec), nil
		}
		return oplog.OK, nil
	}

	if _, err := createIndex(tx, pos, coll, op.KeySpec); err != nil {
		return oplog.Result{}, err
	}
	return oplog.OK, nil
}

func applyDrop(tx *bbolt.Tx, op oplog.Op) (oplog.Result, error) {
	ns, ok, err := getNamespace(tx, op.Namespace)
	if err != nil {
		return oplog.Result{}, err
	}
	if !ok {
		// dropping an absent namespace is a no-op so that replay is idempotent
		return oplog.OK, nil
	}

	if ns.IsIndex() {
		if ns.IndexName() == catalog.IDIndexName {
			return oplog.Resultf(oplog.ResultInvalid, "cannot drop identity index %s", ns.Name), nil
		}
		return oplog.OK, dropIndex(tx, ns)
	}
	return oplog.OK, dropCollection(tx, ns)
}

func createCollection(tx *bbolt.Tx, pos oplog.Position, name string, temporary bool) (catalog.Namespace, error) {
	coll := catalog.Namespace{
		Name:      name,
		Kind:      catalog.KindCollection,
		Temporary: temporary,
		CreatedAt: pos,
	}
	if err := putNamespace(tx, coll); err != nil {
		return coll, err
	}
	if _, err := tx.Bucket(bucketDocs).CreateBucketIfNotExists([]byte(name)); err != nil {
		return coll, err
	}
	if _, err := createIndex(tx, pos, coll, catalog.IDKeySpec); err != nil {
		return coll, err
	}
	log.Debugf("created collection %s (temporary=%v) at %v", name, temporary, pos)
	return coll, nil
}

// implicitCollection returns the collection, creating it (non-temporary) if absent.
func implicitCollection(tx *bbolt.Tx, pos oplog.Position, name string) (catalog.Namespace, error) {
	coll, ok, err := getNamespace(tx, name)
	if err != nil || ok {
		return coll, err
	}
	return createCollection(tx, pos, name, false)
}

func createIndex(tx *bbolt.Tx, pos oplog.Position, coll catalog.Namespace, ks catalog.KeySpec) (catalog.Namespace, error) {
	idx := catalog.Namespace{
		Name:      catalog.IndexNamespace(coll.Name, ks.Name()),
		Kind:      catalog.KindIndex,
		Temporary: coll.Temporary,
		Owner:     coll.Name,
		KeySpec:   ks,
		CreatedAt: pos,
	}
	if err := putNamespace(tx, idx); err != nil {
		return idx, err
	}
	ib, err := tx.Bucket(bucketIdx).CreateBucketIfNotExists([]byte(idx.Name))
	if err != nil {
		return idx, err
	}

	// build the entries of the new index from the existing documents
	docs := tx.Bucket(bucketDocs).Bucket([]byte(coll.Name))
	if docs == nil {
		return idx, nil
	}
	err = docs.ForEach(func(idKey, data []byte) error {
		doc, err := decodeDoc(data)
		if err != nil {
			return err
		}
		return ib.Put(indexKey(ks, doc, idKey), copyBytes(idKey))
	})
	return idx, err
}

func dropIndex(tx *bbolt.Tx, idx catalog.Namespace) error {
	if err := tx.Bucket(bucketIdx).DeleteBucket([]byte(idx.Name)); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	log.Debugf("dropped index %s", idx.Name)
	return tx.Bucket(bucketCatalog).Delete([]byte(idx.Name))
}

func dropCollection(tx *bbolt.Tx, coll catalog.Namespace) error {
	indexes, err := indexesOf(tx, coll.Name)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if err := dropIndex(tx, idx); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketDocs).DeleteBucket([]byte(coll.Name)); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	log.Debugf("dropped collection %s with %d indexes", coll.Name, len(indexes))
	return tx.Bucket(bucketCatalog).Delete([]byte(coll.Name))
}

// --------------------------------------------------------------------------
// Document operations
// --------------------------------------------------------------------------

func applyInsert(tx *bbolt.Tx, pos oplog.Position, op oplog.Op) (oplog.Result, error) {
	if err := catalog.ValidateCollectionName(op.Namespace); err != nil {
		return oplog.Resultf(oplog.ResultInvalid, "%v", err), nil
	}
	doc, err := value.NormalizeDoc(op.Doc)
	if err != nil {
		return oplog.Resultf(oplog.ResultInvalid, "invalid document: %v", err), nil
	}
	id, ok := doc[value.IDField]
	if !ok {
		return oplog.Resultf(oplog.ResultInvalid, "document without %s", value.IDField), nil
	}

	coll, err := implicitCollection(tx, pos, op.Namespace)
	if err != nil {
		return oplog.Result{}, err
	}
	docs := tx.Bucket(bucketDocs).Bucket([]byte(coll.Name))
	idKey := value.EncodeKey(id, false)
	if docs.Get(idKey) != nil {
		return oplog.Resultf(oplog.ResultDuplicateKey, "duplicate key %v in %s", id, coll.Name), nil
	}

	data, err := value.Marshal(doc)
	if err != nil {
		return oplog.Result{}, err
	}
	if err := docs.Put(idKey, data); err != nil {
		return oplog.Result{}, err
	}

	indexes, err := indexesOf(tx, coll.Name)
	if err != nil {
		return oplog.Result{}, err
	}
	for _, idx := range indexes {
		ib := tx.Bucket(bucketIdx).Bucket([]byte(idx.Name))
		if ib == nil {
			return oplog.Result{}, fmt.Errorf("missing bucket of index %s", idx.Name)
		}
		if err := ib.Put(indexKey(idx.KeySpec, doc, idKey), idKey); err != nil {
			return oplog.Result{}, err
		}
	}
	return oplog.OK, nil
}

func applyRemove(tx *bbolt.Tx, op oplog.Op) (oplog.Result, error) {
	docs := tx.Bucket(bucketDocs).Bucket([]byte(op.Namespace))
	if docs == nil {
		return oplog.OK, nil
	}
	idKey := value.EncodeKey(op.DocID, false)
	data := docs.Get(idKey)
	if data == nil {
		return oplog.OK, nil
	}
	doc, err := decodeDoc(data)
	if err != nil {
		return oplog.Result{}, err
	}

	indexes, err := indexesOf(tx, op.Namespace)
	if err != nil {
		return oplog.Result{}, err
	}
	for _, idx := range indexes {
		if ib := tx.Bucket(bucketIdx).Bucket([]byte(idx.Name)); ib != nil {
			if err := ib.Delete(indexKey(idx.KeySpec, doc, idKey)); err != nil {
				return oplog.Result{}, err
			}
		}
	}
	return oplog.OK, docs.Delete(idKey)
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// indexKey builds the key of a document in an index: the encoded key values
// (missing fields as null) followed by the encoded identity.
func indexKey(ks catalog.KeySpec, doc map[string]any, idKey []byte) []byte {
	var buf []byte
	for _, f := range ks {
		buf = value.AppendKey(buf, value.Get(doc, f.Field), f.Direction < 0)
	}
	return append(buf, idKey...)
}

func decodeDoc(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return value.NormalizeDoc(doc)
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
