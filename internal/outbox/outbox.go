// Package outbox is the agent-side durable queue: operations produced
// while no peer is connected are appended to a local bbolt bucket and
// flushed once a peer's websocket comes up. Grounded on the teacher's
// agent/go.mod, which lists go.etcd.io/bbolt but never uses it.
package outbox

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"collabtext/internal/wire"
)

var bucketName = []byte("pending-operations")

// Outbox is a durable FIFO of not-yet-acknowledged operations.
type Outbox struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Outbox, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("outbox: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox: init bucket: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Enqueue durably appends op.
func (o *Outbox) Enqueue(op wire.Operation) error {
	payload, err := wire.Marshal(op)
	if err != nil {
		return fmt.Errorf("outbox: encode: %w", err)
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// Drain returns every queued operation in FIFO order and removes them.
// The caller is responsible for actually delivering them; if delivery
// fails, the caller should re-Enqueue.
func (o *Outbox) Drain() ([]wire.Operation, error) {
	var ops []wire.Operation
	var keys [][]byte
	err := o.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			op, err := wire.Unmarshal(v)
			if err != nil {
				return fmt.Errorf("outbox: decode: %w", err)
			}
			ops = append(ops, op)
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	err = o.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Len reports the number of queued operations.
func (o *Outbox) Len() int {
	n := 0
	_ = o.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return n
}

// Close releases the underlying file.
func (o *Outbox) Close() error { return o.db.Close() }

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
