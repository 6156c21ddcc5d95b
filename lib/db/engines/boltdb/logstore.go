package boltdb

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// HardState returns the persisted election state.
func (e *Engine) HardState() (hs db.HardState, err error) {
	err = e.bdb.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyHardState)
		if data == nil {
			return nil
		}
		return msgpack.Unmarshal(data, &hs)
	})
	return hs, err
}

// SetHardState persists the election state.
func (e *Engine) SetHardState(hs db.HardState) error {
	data, err := msgpack.Marshal(&hs)
	if err != nil {
		return err
	}
	return e.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyHardState, data)
	})
}

// AppendLog stores entries, replacing any existing suffix of the log that
// starts at the first new entry.
func (e *Engine) AppendLog(entries ...oplog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return e.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLog)

		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(seqKey(entries[0].Seq)); k != nil; k, _ = c.Next() {
			stale = append(stale, copyBytes(k))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		prev := entries[0].Seq
		for i, entry := range entries {
			if i > 0 && entry.Seq != prev+1 {
				return fmt.Errorf("log gap: entry %d follows %d", entry.Seq, prev)
			}
			prev = entry.Seq
			data, err := entry.Serialize()
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(entry.Seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LogEntry returns the entry with the given sequence number.
func (e *Engine) LogEntry(seq uint64) (entry oplog.Entry, ok bool, err error) {
	err = e.bdb.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketLog).Get(seqKey(seq))
		if data == nil {
			return nil
		}
		entry, err = decodeEntry(data)
		ok = err == nil
		return err
	})
	return entry, ok, err
}

// LogEntries returns up to max entries starting at sequence number from.
func (e *Engine) LogEntries(from uint64, max int) ([]oplog.Entry, error) {
	var out []oplog.Entry
	err := e.bdb.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			if max > 0 && len(out) >= max {
				break
			}
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// LastLog returns the position of the last stored entry.
func (e *Engine) LastLog() (pos oplog.Position, err error) {
	err = e.bdb.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(bucketLog).Cursor().Last()
		if v == nil {
			return nil
		}
		entry, err := decodeEntry(v)
		pos = entry.Position()
		return err
	})
	return pos, err
}

func decodeEntry(data []byte) (oplog.Entry, error) {
	var entry oplog.Entry
	err := entry.Deserialize(data)
	return entry, err
}
