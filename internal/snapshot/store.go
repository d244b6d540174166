package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/Phill101/kafka-flow/internal/flow"
	pebblestore "github.com/Phill101/kafka-flow/internal/storage/pebble"
)

// Store persists per-key snapshots for one application/group pair. It is the
// authority the partition flow recovers from: Keys enumerates a partition's
// live keys, Load reads a key's snapshot, Persist advances it.
//
// Persist never regresses a stored offset, mirroring the engine's commit
// monotonicity at the storage layer.
type Store struct {
	db    *pebblestore.DB
	app   string
	group string
}

// NewStore builds a Store scoped to an application and group.
func NewStore(db *pebblestore.DB, app, group string) *Store {
	return &Store{db: db, app: app, group: group}
}

// Persist writes the snapshot for a key, updating the created-date index. A
// write whose offset is at or below the stored one is ignored.
func (s *Store) Persist(ctx context.Context, tp flow.TopicPartition, key string, rec Record) error {
	main := keySnapshot(s.app, s.group, tp.Topic, uint32(tp.Partition), key)

	prev, err := s.load(main)
	if err != nil {
		return err
	}
	if prev != nil {
		if rec.Offset <= prev.Offset {
			return nil
		}
		// Creation time survives rewrites.
		rec.CreatedAt = prev.CreatedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(main, encodeRecord(rec), nil); err != nil {
		return err
	}
	if prev == nil {
		idx := keyCreatedIndex(s.app, s.group, dayOf(rec.CreatedAt), tp.Topic, uint32(tp.Partition), key)
		if err := b.Set(idx, nil, nil); err != nil {
			return err
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("persist snapshot for key %q: %w", key, err)
	}
	return nil
}

// Load reads the snapshot for a key. Returns nil when absent.
func (s *Store) Load(ctx context.Context, tp flow.TopicPartition, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load(keySnapshot(s.app, s.group, tp.Topic, uint32(tp.Partition), key))
}

func (s *Store) load(key []byte) (*Record, error) {
	v, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := decodeRecord(v)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a key's snapshot and its index entry. Idempotent.
func (s *Store) Delete(ctx context.Context, tp flow.TopicPartition, key string) error {
	main := keySnapshot(s.app, s.group, tp.Topic, uint32(tp.Partition), key)
	prev, err := s.load(main)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(main, nil); err != nil {
		return err
	}
	idx := keyCreatedIndex(s.app, s.group, dayOf(prev.CreatedAt), tp.Topic, uint32(tp.Partition), key)
	if err := b.Delete(idx, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// Keys returns a cursor over all keys persisted for a partition, in byte
// order. Implements flow.Keys.
func (s *Store) Keys(ctx context.Context, tp flow.TopicPartition) (flow.Keys, error) {
	prefix := keyPartitionPrefix(s.app, s.group, tp.Topic, uint32(tp.Partition))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	return &keyCursor{iter: iter, prefixLen: len(prefix)}, nil
}

type keyCursor struct {
	iter      *pebble.Iterator
	prefixLen int
	started   bool
}

func (c *keyCursor) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var ok bool
	if !c.started {
		c.started = true
		ok = c.iter.First()
	} else {
		ok = c.iter.Next()
	}
	if !ok {
		return "", false, c.iter.Error()
	}
	return string(c.iter.Key()[c.prefixLen:]), true, nil
}

func (c *keyCursor) Close() error { return c.iter.Close() }

// CreatedBetween lists keys first created on a UTC day from the day of from
// up to, but not including, the day of to, walking the created-date index day
// by day. The bounds are whole days; the time of day in from and to is not
// used.
func (s *Store) CreatedBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	low := keyCreatedDayPrefix(s.app, s.group, dayOf(from))
	hi := keyCreatedDayPrefix(s.app, s.group, dayOf(to))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	plen := len(keyCreatedDayPrefix(s.app, s.group, 0))
	var keys []string
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Suffix after the day prefix: topic / part_be4 / key. The partition
		// bytes are binary, so split on the first separator only and skip a
		// fixed 4+1 bytes past it.
		rest := iter.Key()[plen:]
		i := bytes.IndexByte(rest, sep)
		if i < 0 || len(rest) < i+6 {
			continue
		}
		keys = append(keys, string(rest[i+6:]))
	}
	return keys, iter.Error()
}
