package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logpkg "github.com/Phill101/kafka-flow/pkg/log"
)

// PartitionKey bundles the invariants of one key while it lives in the
// cache: the user state and the context the key holds offsets through. Never
// shared across partitions.
type PartitionKey struct {
	Key     string
	State   KeyState
	Context *KeyContext
}

func (k *PartitionKey) release(ctx context.Context) error {
	if k.State.Release == nil {
		return nil
	}
	return k.State.Release(ctx)
}

// Options configures a PartitionFlow.
type Options struct {
	TopicPartition TopicPartition

	// AssignedAt is the offset the partition was assigned at, i.e. where
	// consumption resumes. The committed offset starts here and never
	// regresses.
	AssignedAt Offset

	StateOf KeyStateOf

	// Clock defaults to time.Now.
	Clock Clock

	// Logger defaults to a no-op logger.
	Logger logpkg.Logger
}

// PartitionFlow coordinates the keyed state machines of one partition. The
// host calls Apply serially with consumed batches; Apply reports the offset
// that became safe to commit, if any.
type PartitionFlow struct {
	tp      TopicPartition
	stateOf KeyStateOf
	clock   Clock
	log     logpkg.Logger
	cache   *Cache[*PartitionKey]

	mu        sync.Mutex
	committed Offset
	current   Timestamp
}

// New builds a PartitionFlow and runs recovery: every key the state source
// enumerates for the partition is materialized before the first batch. On
// failure the cache is released.
func New(ctx context.Context, opts Options) (*PartitionFlow, error) {
	if opts.StateOf == nil {
		return nil, errors.New("flow: Options.StateOf is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Noop()
	}
	logger = logger.With(logpkg.Topic(opts.TopicPartition.Topic), logpkg.Partition(opts.TopicPartition.Partition))

	p := &PartitionFlow{
		tp:        opts.TopicPartition,
		stateOf:   opts.StateOf,
		clock:     clock,
		log:       logger,
		committed: opts.AssignedAt,
		current:   Timestamp{Clock: clock(), Offset: opts.AssignedAt},
	}
	p.cache = NewCache(func(ctx context.Context, k *PartitionKey) error {
		return k.release(ctx)
	})

	if err := p.recover(ctx); err != nil {
		_ = p.cache.Close(ctx)
		return nil, err
	}
	return p, nil
}

// recover materializes all persisted keys, sequentially.
func (p *PartitionFlow) recover(ctx context.Context) error {
	keys, err := p.stateOf.AllKeys(ctx, p.tp)
	if err != nil {
		return fmt.Errorf("enumerate keys for %s: %w", p.tp, err)
	}
	defer keys.Close()

	createdAt := Timestamp{Clock: p.clock(), Offset: p.committed}
	count := 0
	for {
		key, ok, err := keys.Next(ctx)
		if err != nil {
			return fmt.Errorf("enumerate keys for %s: %w", p.tp, err)
		}
		if !ok {
			break
		}
		if _, err := p.materialize(ctx, key, createdAt); err != nil {
			return err
		}
		count++
	}
	p.log.Debug("recovered keys", logpkg.Int("keys", count))
	return nil
}

func (p *PartitionFlow) materialize(ctx context.Context, key string, createdAt Timestamp) (*PartitionKey, error) {
	return p.cache.GetOrCreate(ctx, key, func(ctx context.Context) (*PartitionKey, error) {
		kc := NewKeyContext(func(ctx context.Context) error {
			return p.cache.Remove(ctx, key)
		})
		state, err := p.stateOf.New(ctx, key, createdAt, kc)
		if err != nil {
			return nil, fmt.Errorf("build state for key %q: %w", key, err)
		}
		return &PartitionKey{Key: key, State: state, Context: kc}, nil
	})
}

// Apply feeds a consumed batch through the partition: records fan out to
// their keys in parallel (in-order per key), timers tick across all cached
// keys, and the commit watermark is re-arbitrated from per-key holds.
// Returns the offset newly safe to commit, or nil.
//
// A failure in any per-key flow or timer fails the whole call and leaves the
// committed offset untouched.
func (p *PartitionFlow) Apply(ctx context.Context, records []Record) (*Offset, error) {
	if err := p.processRecords(ctx, records); err != nil {
		return nil, err
	}
	if err := p.triggerTimers(ctx); err != nil {
		return nil, err
	}
	return p.offsetToCommit(ctx)
}

func (p *PartitionFlow) processRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batchClock := p.clock()
	groups := groupByKey(records)
	if len(groups) == 0 {
		// Nothing keyed: no representative record to attribute the batch
		// timestamp to.
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kr := range groups {
		kr := kr
		g.Go(func() error {
			head := kr.records[0]
			batchAt := Timestamp{Clock: batchClock, Watermark: head.WatermarkTime(), Offset: head.Offset}
			pk, err := p.materialize(gctx, kr.key, batchAt)
			if err != nil {
				return err
			}
			pk.State.Timers.Set(batchAt)
			if err := pk.State.Flow.Apply(gctx, kr.records); err != nil {
				return fmt.Errorf("apply %d records to key %q: %w", len(kr.records), kr.key, err)
			}
			return pk.State.Timers.OnProcessed(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	last := records[len(records)-1]
	toCommit, err := OffsetToCommit(last.Offset)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.current = Timestamp{Clock: batchClock, Watermark: last.WatermarkTime(), Offset: toCommit}
	p.mu.Unlock()
	return nil
}

func (p *PartitionFlow) triggerTimers(ctx context.Context) error {
	tick := p.clock()
	p.mu.Lock()
	p.current.Clock = tick
	now := p.current
	p.mu.Unlock()

	values, err := p.cache.Values(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, pk := range values {
		pk := pk
		g.Go(func() error {
			pk.State.Timers.Set(now)
			if err := pk.State.Timers.Trigger(gctx, pk.State.Flow); err != nil {
				return fmt.Errorf("trigger timers for key %q: %w", pk.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *PartitionFlow) offsetToCommit(ctx context.Context) (*Offset, error) {
	values, err := p.cache.Values(ctx)
	if err != nil {
		return nil, err
	}
	var minHold *Offset
	for _, pk := range values {
		if h, ok := pk.Context.Holding(); ok {
			if minHold == nil || h < *minHold {
				o := h
				minHold = &o
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	allowed := p.current.Offset
	if minHold != nil {
		allowed = *minHold
	}
	if allowed <= p.committed {
		return nil, nil
	}
	delta := allowed - p.committed
	p.committed = allowed
	p.log.Debug("advancing committed offset",
		logpkg.Int64("offset", int64(allowed)),
		logpkg.Int64("delta", int64(delta)))
	out := allowed
	return &out, nil
}

// Committed returns the current committed offset.
func (p *PartitionFlow) Committed() Offset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed
}

// KeyCount reports the number of live cached keys. Safe to call
// concurrently with Apply.
func (p *PartitionFlow) KeyCount(ctx context.Context) (int, error) {
	values, err := p.cache.Values(ctx)
	if err != nil {
		return 0, err
	}
	return len(values), nil
}

// Close releases the cache, which releases every live key. The flow must not
// be applied afterwards.
func (p *PartitionFlow) Close(ctx context.Context) error {
	return p.cache.Close(ctx)
}
