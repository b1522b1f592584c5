// Package badgerqueue implements durable FIFO work queues on BadgerDB.
//
// Each queue owns the key range queue/<name>/item/ and a BadgerDB sequence
// that hands out monotonically increasing, big-endian encoded positions, so
// key order is insertion order and survives restarts.
package badgerqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const sequenceBandwidth = 128

// Queue is a persisted FIFO of JSON-encoded items of type T.
type Queue[T any] struct {
	db     *badger.DB
	name   string
	prefix []byte
	seq    *badger.Sequence
	logger *zap.Logger
}

// New opens the queue called name on db.
func New[T any](db *badger.DB, name string, logger *zap.Logger) (*Queue[T], error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid queue name %q", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seq, err := db.GetSequence([]byte("queue/"+name+"/seq"), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("queue %s sequence: %w", name, err)
	}
	return &Queue[T]{
		db:     db,
		name:   name,
		prefix: []byte("queue/" + name + "/item/"),
		seq:    seq,
		logger: logger.With(zap.String("queue", name)),
	}, nil
}

// Name returns the queue name.
func (q *Queue[T]) Name() string {
	return q.name
}

func (q *Queue[T]) key(pos uint64) []byte {
	key := make([]byte, len(q.prefix)+8)
	copy(key, q.prefix)
	binary.BigEndian.PutUint64(key[len(q.prefix):], pos)
	return key
}

// Add appends item to the tail of the queue.
func (q *Queue[T]) Add(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("queue %s add: %w", q.name, err)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue %s encode: %w", q.name, err)
	}
	pos, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("queue %s next position: %w", q.name, err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(q.key(pos), data)
	})
	if err != nil {
		return fmt.Errorf("queue %s add: %w", q.name, err)
	}
	return nil
}

// Next removes and returns the head of the queue. It does not block; ok is
// false when the queue is empty. Entries that cannot be decoded are logged
// and discarded. A transaction conflict means another consumer took the head
// first, so the pop is retried.
func (q *Queue[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, false, fmt.Errorf("queue %s next: %w", q.name, err)
		}
		data, found, err := q.pop()
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return zero, false, fmt.Errorf("queue %s next: %w", q.name, err)
		}
		if !found {
			return zero, false, nil
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			q.logger.Error("discarding undecodable queue entry", zap.Error(err))
			continue
		}
		return item, true, nil
	}
}

func (q *Queue[T]) pop() ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = q.prefix
		opts.PrefetchSize = 1
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read entry: %w", err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		data, found = val, true
		return nil
	})
	if err != nil {
		return nil, false, err //nolint:wrapcheck // wrapped by Next
	}
	return data, found, nil
}

// Len counts the queued items.
func (q *Queue[T]) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("queue %s len: %w", q.name, err)
	}
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = q.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue %s len: %w", q.name, err)
	}
	return n, nil
}

// Close returns unused sequence leases to the database. The underlying
// database stays open.
func (q *Queue[T]) Close() error {
	if err := q.seq.Release(); err != nil {
		return fmt.Errorf("queue %s release sequence: %w", q.name, err)
	}
	return nil
}
