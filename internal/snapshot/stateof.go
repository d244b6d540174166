package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Phill101/kafka-flow/internal/flow"
	logpkg "github.com/Phill101/kafka-flow/pkg/log"
)

// summary is the folded journal value: the highest sequence number applied
// plus the evolved state payload.
type summary struct {
	seq   flow.SeqNr
	value []byte
}

// Evolve advances a key's opaque state payload with a batch. It runs only
// when the journal fold advanced, so fully-duplicate batches never reach it.
// prev is nil for a fresh key; the returned payload is persisted on the next
// snapshot write.
type Evolve func(ctx context.Context, key string, prev []byte, records []flow.Record) ([]byte, error)

// StateOfOptions configures a StateOf.
type StateOfOptions struct {
	Store *Store

	// TopicPartition scopes this StateOf; one is built per assigned
	// partition.
	TopicPartition flow.TopicPartition

	// Extract pulls the sequence range out of a record for journal dedup.
	// Defaults to HeaderSeqExtractor("seqNr").
	Extract func(flow.Record) (*flow.SeqRange, error)

	// Evolve is the user fold. Optional; nil keeps only the journal summary.
	Evolve Evolve

	// Clock defaults to time.Now.
	Clock flow.Clock

	Logger logpkg.Logger
}

// StateOf materializes key state backed by the snapshot store: construction
// loads the key's persisted snapshot, batches deduplicate through the
// journal fold, and each processed batch persists the advanced snapshot.
//
// The hold protocol: a key pins the first offset of a batch when it starts
// folding and releases once the snapshot hit storage, so the partition never
// commits past work that is not yet durable.
type StateOf struct {
	store   *Store
	tp      flow.TopicPartition
	extract func(flow.Record) (*flow.SeqRange, error)
	evolve  Evolve
	clock   flow.Clock
	log     logpkg.Logger
}

// NewStateOf builds a StateOf. Implements flow.KeyStateOf.
func NewStateOf(opts StateOfOptions) (*StateOf, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("snapshot: StateOfOptions.Store is required")
	}
	extract := opts.Extract
	if extract == nil {
		extract = HeaderSeqExtractor("seqNr")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Noop()
	}
	return &StateOf{
		store:   opts.Store,
		tp:      opts.TopicPartition,
		extract: extract,
		evolve:  opts.Evolve,
		clock:   clock,
		log:     logger,
	}, nil
}

// New implements flow.KeyStateOf.
func (s *StateOf) New(ctx context.Context, key string, createdAt flow.Timestamp, kc *flow.KeyContext) (flow.KeyState, error) {
	loaded, err := s.store.Load(ctx, s.tp, key)
	if err != nil {
		return flow.KeyState{}, fmt.Errorf("load snapshot for key %q: %w", key, err)
	}

	k := &keyState{
		stateOf: s,
		key:     key,
		kc:      kc,
	}
	if loaded != nil {
		s.log.Debug("recovered key snapshot",
			logpkg.Str("key", key),
			logpkg.Int64("offset", int64(loaded.Offset)),
			logpkg.Int64("seq_nr", int64(loaded.SeqNr)))
		// The persisted offset is the resume position, one past the last
		// folded record; the fold dedups against record offsets.
		k.snap = &flow.Snapshot[summary]{
			Offset: loaded.Offset - 1,
			Value:  summary{seq: loaded.SeqNr, value: loaded.Value},
		}
	}
	return flow.KeyState{
		Flow:   k,
		Timers: flow.NewTimerSet(k.persist),
	}, nil
}

// AllKeys implements flow.KeyStateOf.
func (s *StateOf) AllKeys(ctx context.Context, tp flow.TopicPartition) (flow.Keys, error) {
	return s.store.Keys(ctx, tp)
}

// keyState is one key's fold over the journal.
type keyState struct {
	stateOf *StateOf
	key     string
	kc      *flow.KeyContext

	mu    sync.Mutex
	snap  *flow.Snapshot[summary]
	dirty bool
}

// Apply implements flow.KeyFlow.
func (k *keyState) Apply(ctx context.Context, records []flow.Record) error {
	if len(records) == 0 {
		return nil
	}
	k.kc.Hold(records[0].Offset)

	k.mu.Lock()
	defer k.mu.Unlock()

	s := k.stateOf
	fold := flow.Fold[summary]{
		Extract: s.extract,
		Project: func(rng flow.SeqRange) summary { return summary{seq: rng.To} },
		SeqOf:   func(v summary) flow.SeqNr { return v.seq },
	}
	next, err := fold.Apply(k.snap, records...)
	if err != nil {
		return err
	}
	if next == k.snap {
		// Everything was a duplicate; nothing to persist, drop the hold.
		k.kc.Release()
		return nil
	}
	if s.evolve != nil {
		var prev []byte
		if k.snap != nil {
			prev = k.snap.Value.value
		}
		value, err := s.evolve(ctx, k.key, prev, records)
		if err != nil {
			return fmt.Errorf("evolve state for key %q: %w", k.key, err)
		}
		next.Value.value = value
	} else if k.snap != nil {
		next.Value.value = k.snap.Value.value
	}
	k.snap = next
	k.dirty = true
	return nil
}

// persist runs after each processed batch (the Timers OnProcessed hook).
func (k *keyState) persist(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.dirty {
		k.kc.Release()
		return nil
	}
	resume, err := flow.OffsetToCommit(k.snap.Offset)
	if err != nil {
		return err
	}
	rec := Record{
		Offset:    resume,
		SeqNr:     k.snap.Value.seq,
		CreatedAt: k.stateOf.clock(),
		Value:     k.snap.Value.value,
	}
	if err := k.stateOf.store.Persist(ctx, k.stateOf.tp, k.key, rec); err != nil {
		return err
	}
	k.dirty = false
	k.kc.Release()
	return nil
}

// HeaderSeqExtractor parses a decimal sequence number out of the named
// record header. Records lacking the header carry no sequence range.
func HeaderSeqExtractor(header string) func(flow.Record) (*flow.SeqRange, error) {
	return func(r flow.Record) (*flow.SeqRange, error) {
		v, ok := r.Header(header)
		if !ok {
			return nil, nil
		}
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil, nil
		}
		s := flow.SeqNr(n)
		return &flow.SeqRange{From: s, To: s}, nil
	}
}
