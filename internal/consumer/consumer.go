package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"golang.org/x/sync/errgroup"

	"github.com/Phill101/kafka-flow/internal/flow"
	logpkg "github.com/Phill101/kafka-flow/pkg/log"
)

// StateOfFactory builds the key-state source for one assigned partition.
type StateOfFactory func(tp flow.TopicPartition) (flow.KeyStateOf, error)

// Options configures a Consumer.
type Options struct {
	Brokers    []string
	Group      string
	Topics     []string
	InstanceID string

	StateOf StateOfFactory

	// Clock defaults to time.Now.
	Clock flow.Clock

	Logger logpkg.Logger

	// CloseTimeout bounds partition teardown on revoke. Defaults to 10s.
	CloseTimeout time.Duration
}

// Consumer owns the group membership and drives one PartitionFlow per
// assigned partition: fetched batches are applied in log order, and the
// offsets the flows report safe are committed back to the broker. Offsets
// are only ever committed through the flows; broker auto-commit is off.
type Consumer struct {
	client *kgo.Client
	opts   Options
	log    logpkg.Logger

	mu    sync.Mutex
	flows map[flow.TopicPartition]*flow.PartitionFlow
}

// New builds a Consumer and its underlying client.
func New(opts Options) (*Consumer, error) {
	if opts.StateOf == nil {
		return nil, errors.New("consumer: Options.StateOf is required")
	}
	if len(opts.Brokers) == 0 {
		return nil, errors.New("consumer: Options.Brokers is required")
	}
	if opts.Group == "" {
		return nil, errors.New("consumer: Options.Group is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Noop()
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}

	c := &Consumer{
		opts:  opts,
		log:   logger.With(logpkg.Component("consumer")),
		flows: make(map[flow.TopicPartition]*flow.PartitionFlow),
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ConsumerGroup(opts.Group),
		kgo.ConsumeTopics(opts.Topics...),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsRevoked(c.onRevoked),
		kgo.OnPartitionsLost(c.onRevoked),
	}
	if opts.InstanceID != "" {
		kopts = append(kopts, kgo.InstanceID(opts.InstanceID))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("consumer: build client: %w", err)
	}
	c.client = client
	return c, nil
}

// Run polls and applies batches until ctx is cancelled or a partition fails.
// A flow failure is fatal: the group member leaves so the partition can be
// reassigned cleanly.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.teardown()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			c.log.Warn("fetch error",
				logpkg.Topic(fe.Topic),
				logpkg.Partition(fe.Partition),
				logpkg.Err(fe.Err))
		}

		batches := make(map[flow.TopicPartition][]flow.Record)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			tp := flow.TopicPartition{Topic: p.Topic, Partition: p.Partition}
			batches[tp] = convertRecords(p.Records)
		})

		if err := c.applyRound(ctx, batches); err != nil {
			return err
		}
	}
}

// applyRound applies this round's batches and ticks every idle flow, then
// commits whatever became safe.
func (c *Consumer) applyRound(ctx context.Context, batches map[flow.TopicPartition][]flow.Record) error {
	for tp, records := range batches {
		if _, err := c.flowFor(ctx, tp, records[0].Offset); err != nil {
			return err
		}
	}

	c.mu.Lock()
	flows := make(map[flow.TopicPartition]*flow.PartitionFlow, len(c.flows))
	for tp, fl := range c.flows {
		flows[tp] = fl
	}
	c.mu.Unlock()

	var (
		commitMu sync.Mutex
		commits  = make(map[flow.TopicPartition]flow.Offset)
	)
	g, gctx := errgroup.WithContext(ctx)
	for tp, fl := range flows {
		tp, fl := tp, fl
		g.Go(func() error {
			committed, err := fl.Apply(gctx, batches[tp])
			if err != nil {
				return fmt.Errorf("apply batch to %s: %w", tp, err)
			}
			if committed != nil {
				commitMu.Lock()
				commits[tp] = *committed
				commitMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.commit(ctx, commits)
}

// flowFor returns the partition's flow, building it on first records. The
// first consumed offset is where the assignment effectively starts.
func (c *Consumer) flowFor(ctx context.Context, tp flow.TopicPartition, assignedAt flow.Offset) (*flow.PartitionFlow, error) {
	c.mu.Lock()
	fl, ok := c.flows[tp]
	c.mu.Unlock()
	if ok {
		return fl, nil
	}

	stateOf, err := c.opts.StateOf(tp)
	if err != nil {
		return nil, fmt.Errorf("build state source for %s: %w", tp, err)
	}
	fl, err = flow.New(ctx, flow.Options{
		TopicPartition: tp,
		AssignedAt:     assignedAt,
		StateOf:        stateOf,
		Clock:          c.opts.Clock,
		Logger:         c.log,
	})
	if err != nil {
		return nil, fmt.Errorf("build partition flow for %s: %w", tp, err)
	}
	c.log.Info("partition flow started",
		logpkg.Topic(tp.Topic),
		logpkg.Partition(tp.Partition),
		logpkg.Int64("assigned_at", int64(assignedAt)))

	c.mu.Lock()
	c.flows[tp] = fl
	c.mu.Unlock()
	return fl, nil
}

func (c *Consumer) commit(ctx context.Context, commits map[flow.TopicPartition]flow.Offset) error {
	if len(commits) == 0 {
		return nil
	}
	var err error
	c.client.CommitOffsetsSync(ctx, toKgoOffsets(commits), func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, _ *kmsg.OffsetCommitResponse, cerr error) {
		err = cerr
	})
	if err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// onRevoked tears down the flows of partitions leaving this member.
func (c *Consumer) onRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	for topic, parts := range revoked {
		for _, part := range parts {
			tp := flow.TopicPartition{Topic: topic, Partition: part}
			c.mu.Lock()
			fl, ok := c.flows[tp]
			delete(c.flows, tp)
			c.mu.Unlock()
			if !ok {
				continue
			}
			cctx, cancel := context.WithTimeout(context.Background(), c.opts.CloseTimeout)
			if err := fl.Close(cctx); err != nil {
				c.log.Error("partition teardown failed",
					logpkg.Topic(topic),
					logpkg.Partition(part),
					logpkg.Err(err))
			}
			cancel()
		}
	}
}

func (c *Consumer) teardown() {
	c.mu.Lock()
	flows := c.flows
	c.flows = make(map[flow.TopicPartition]*flow.PartitionFlow)
	c.mu.Unlock()

	cctx, cancel := context.WithTimeout(context.Background(), c.opts.CloseTimeout)
	defer cancel()
	for tp, fl := range flows {
		if err := fl.Close(cctx); err != nil {
			c.log.Error("partition teardown failed",
				logpkg.Topic(tp.Topic),
				logpkg.Partition(tp.Partition),
				logpkg.Err(err))
		}
	}
	c.client.Close()
}

// PartitionStatus is a read-only view of one live partition flow.
type PartitionStatus struct {
	Topic     string      `json:"topic"`
	Partition int32       `json:"partition"`
	Committed flow.Offset `json:"committed"`
	Keys      int         `json:"keys"`
}

// Partitions snapshots the live flows for inspection.
func (c *Consumer) Partitions(ctx context.Context) []PartitionStatus {
	c.mu.Lock()
	flows := make(map[flow.TopicPartition]*flow.PartitionFlow, len(c.flows))
	for tp, fl := range c.flows {
		flows[tp] = fl
	}
	c.mu.Unlock()

	out := make([]PartitionStatus, 0, len(flows))
	for tp, fl := range flows {
		keys, err := fl.KeyCount(ctx)
		if err != nil {
			continue
		}
		out = append(out, PartitionStatus{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Committed: fl.Committed(),
			Keys:      keys,
		})
	}
	return out
}

func convertRecords(in []*kgo.Record) []flow.Record {
	out := make([]flow.Record, 0, len(in))
	for _, r := range in {
		rec := flow.Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    flow.Offset(r.Offset),
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		}
		if len(r.Headers) > 0 {
			rec.Headers = make([]flow.Header, len(r.Headers))
			for i, h := range r.Headers {
				rec.Headers[i] = flow.Header{Key: h.Key, Value: h.Value}
			}
		}
		out = append(out, rec)
	}
	return out
}

func toKgoOffsets(commits map[flow.TopicPartition]flow.Offset) map[string]map[int32]kgo.EpochOffset {
	out := make(map[string]map[int32]kgo.EpochOffset, len(commits))
	for tp, offset := range commits {
		m, ok := out[tp.Topic]
		if !ok {
			m = make(map[int32]kgo.EpochOffset)
			out[tp.Topic] = m
		}
		m[tp.Partition] = kgo.EpochOffset{Epoch: -1, Offset: int64(offset)}
	}
	return out
}
