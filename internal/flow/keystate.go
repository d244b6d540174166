package flow

import "context"

// KeyFlow is the user-supplied fold for one key: it consumes a non-empty,
// in-order batch of that key's records and mutates or persists key state.
// Implementations call KeyContext.Hold / Release as work starts and settles.
type KeyFlow interface {
	Apply(ctx context.Context, records []Record) error
}

// KeyFlowFunc adapts a function to KeyFlow.
type KeyFlowFunc func(ctx context.Context, records []Record) error

// Apply implements KeyFlow.
func (f KeyFlowFunc) Apply(ctx context.Context, records []Record) error {
	return f(ctx, records)
}

// KeyState bundles what the engine needs to drive one key: the fold and its
// timers, plus an optional release hook invoked when the key leaves the
// cache.
type KeyState struct {
	Flow    KeyFlow
	Timers  Timers
	Release func(ctx context.Context) error
}

// KeyStateOf constructs per-key state and enumerates keys to recover. New
// may perform I/O to load snapshots and journals.
type KeyStateOf interface {
	New(ctx context.Context, key string, createdAt Timestamp, kc *KeyContext) (KeyState, error)
	AllKeys(ctx context.Context, tp TopicPartition) (Keys, error)
}

// Keys is a finite pull iterator over keys, drivable from a database cursor
// or an in-memory list.
type Keys interface {
	// Next returns the next key. ok is false when the sequence is done.
	Next(ctx context.Context) (key string, ok bool, err error)
	Close() error
}

// KeysOf returns a Keys over an in-memory list.
func KeysOf(keys ...string) Keys {
	return &sliceKeys{keys: keys}
}

type sliceKeys struct {
	keys []string
	pos  int
}

func (s *sliceKeys) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.pos >= len(s.keys) {
		return "", false, nil
	}
	k := s.keys[s.pos]
	s.pos++
	return k, true, nil
}

func (s *sliceKeys) Close() error { return nil }
