package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testStateOf builds keys from a fixed flow/timers factory and recovers the
// configured key list.
type testStateOf struct {
	recovered []string
	build     func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error)
}

func (s *testStateOf) New(ctx context.Context, key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
	return s.build(key, createdAt, kc)
}

func (s *testStateOf) AllKeys(ctx context.Context, tp TopicPartition) (Keys, error) {
	return KeysOf(s.recovered...), nil
}

// recorder captures per-key deliveries and exposes the key's context.
type recorder struct {
	mu       sync.Mutex
	byKey    map[string][]Offset
	contexts map[string]*KeyContext
}

func newRecorder() *recorder {
	return &recorder{byKey: make(map[string][]Offset), contexts: make(map[string]*KeyContext)}
}

func (r *recorder) stateOf(recovered ...string) *testStateOf {
	return &testStateOf{
		recovered: recovered,
		build: func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
			r.mu.Lock()
			r.contexts[key] = kc
			r.mu.Unlock()
			fl := KeyFlowFunc(func(ctx context.Context, records []Record) error {
				if len(records) == 0 {
					return nil
				}
				r.mu.Lock()
				for _, rec := range records {
					r.byKey[key] = append(r.byKey[key], rec.Offset)
				}
				r.mu.Unlock()
				return nil
			})
			return KeyState{Flow: fl, Timers: NewTimerSet(nil)}, nil
		},
	}
}

func (r *recorder) offsets(key string) []Offset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Offset(nil), r.byKey[key]...)
}

func (r *recorder) context(key string) *KeyContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[key]
}

func newTestFlow(t *testing.T, stateOf KeyStateOf, assignedAt Offset) *PartitionFlow {
	t.Helper()
	p, err := New(context.Background(), Options{
		TopicPartition: TopicPartition{Topic: "journal", Partition: 0},
		AssignedAt:     assignedAt,
		StateOf:        stateOf,
	})
	if err != nil {
		t.Fatalf("new partition flow: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func rec(key string, offset Offset) Record {
	return Record{Topic: "journal", Key: []byte(key), Offset: offset, Timestamp: time.Unix(int64(offset), 0)}
}

func TestApplySingleRecordCommits(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	p := newTestFlow(t, r.stateOf(), 0)

	got, err := p.Apply(ctx, []Record{rec("a", 10)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got == nil || *got != 11 {
		t.Fatalf("want Some(11), got %v", got)
	}
	if offs := r.offsets("a"); len(offs) != 1 || offs[0] != 10 {
		t.Fatalf("delivery mismatch: %v", offs)
	}
}

func TestHoldCapsCommit(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	s := r.stateOf()
	inner := s.build
	s.build = func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
		st, err := inner(key, createdAt, kc)
		if err != nil {
			return KeyState{}, err
		}
		base := st.Flow
		st.Flow = KeyFlowFunc(func(ctx context.Context, records []Record) error {
			if key == "a" && len(records) > 0 {
				kc.Hold(records[0].Offset)
			}
			return base.Apply(ctx, records)
		})
		return st, nil
	}
	p := newTestFlow(t, s, 0)

	got, err := p.Apply(ctx, []Record{rec("a", 10), rec("b", 11)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got == nil || *got != 10 {
		t.Fatalf("want Some(10), got %v", got)
	}

	// Releasing the hold allows the commit to catch up on an idle apply.
	r.context("a").Release()
	got, err = p.Apply(ctx, nil)
	if err != nil {
		t.Fatalf("idle apply: %v", err)
	}
	if got == nil || *got != 12 {
		t.Fatalf("want Some(12) after release, got %v", got)
	}
}

func TestPerKeyOrderPreserved(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	p := newTestFlow(t, r.stateOf(), 0)

	batch := []Record{rec("a", 1), rec("b", 2), rec("a", 3), rec("b", 4), rec("a", 5)}
	if _, err := p.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := p.Apply(ctx, []Record{rec("a", 6), rec("b", 7)}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	wantA := []Offset{1, 3, 5, 6}
	gotA := r.offsets("a")
	if len(gotA) != len(wantA) {
		t.Fatalf("key a: want %v, got %v", wantA, gotA)
	}
	for i := range wantA {
		if gotA[i] != wantA[i] {
			t.Fatalf("key a: want %v, got %v", wantA, gotA)
		}
	}
	wantB := []Offset{2, 4, 7}
	gotB := r.offsets("b")
	if len(gotB) != len(wantB) {
		t.Fatalf("key b: want %v, got %v", wantB, gotB)
	}
}

func TestUnkeyedRecordsSkipped(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	p := newTestFlow(t, r.stateOf(), 0)

	// A keyed batch advances the commit watermark.
	got, err := p.Apply(ctx, []Record{rec("a", 10)})
	if err != nil || got == nil || *got != 11 {
		t.Fatalf("keyed batch: got=%v err=%v", got, err)
	}

	// A batch of only unkeyed records does not move it.
	got, err = p.Apply(ctx, []Record{{Topic: "journal", Offset: 12}})
	if err != nil {
		t.Fatalf("unkeyed batch: %v", err)
	}
	if got != nil {
		t.Fatalf("unkeyed batch advanced commit to %v", *got)
	}
	if p.Committed() != 11 {
		t.Fatalf("committed moved: %d", p.Committed())
	}
}

func TestRecoveryDoesNotRegressCommit(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	p := newTestFlow(t, r.stateOf("x", "y", "z"), 100)

	n, err := p.KeyCount(ctx)
	if err != nil || n != 3 {
		t.Fatalf("recovered keys: n=%d err=%v", n, err)
	}
	got, err := p.Apply(ctx, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != nil {
		t.Fatalf("idle apply after recovery moved commit: %v", *got)
	}
	if p.Committed() != 100 {
		t.Fatalf("committed regressed: %d", p.Committed())
	}
}

func TestCommitStrictlyMonotone(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	p := newTestFlow(t, r.stateOf(), 0)

	var prev Offset
	for _, o := range []Offset{5, 9, 20} {
		got, err := p.Apply(ctx, []Record{rec("a", o)})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if got == nil {
			t.Fatalf("expected commit for offset %d", o)
		}
		if *got <= prev {
			t.Fatalf("commit not strictly increasing: %d after %d", *got, prev)
		}
		prev = *got
	}

	// Idle applies return nil rather than re-announcing the same offset.
	got, err := p.Apply(ctx, nil)
	if err != nil {
		t.Fatalf("idle apply: %v", err)
	}
	if got != nil {
		t.Fatalf("idle apply re-announced %v", *got)
	}
}

func TestKeyRemovesItselfDuringFlow(t *testing.T) {
	ctx := context.Background()
	r := newRecorder()
	s := r.stateOf()
	inner := s.build
	s.build = func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
		st, err := inner(key, createdAt, kc)
		if err != nil {
			return KeyState{}, err
		}
		st.Flow = KeyFlowFunc(func(ctx context.Context, records []Record) error {
			kc.Hold(records[0].Offset)
			return kc.Remove(ctx)
		})
		return st, nil
	}
	p := newTestFlow(t, s, 0)

	got, err := p.Apply(ctx, []Record{rec("a", 10)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// The hold died with the key, so the commit passes it.
	if got == nil || *got != 11 {
		t.Fatalf("want Some(11), got %v", got)
	}
	n, err := p.KeyCount(ctx)
	if err != nil || n != 0 {
		t.Fatalf("key still cached: n=%d err=%v", n, err)
	}
}

func TestBuildFailureFailsApplyAndRetries(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("store down")
	fail := true
	s := &testStateOf{
		build: func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
			if fail {
				return KeyState{}, boom
			}
			return KeyState{
				Flow:   KeyFlowFunc(func(ctx context.Context, records []Record) error { return nil }),
				Timers: NewTimerSet(nil),
			}, nil
		},
	}
	p := newTestFlow(t, s, 0)

	if _, err := p.Apply(ctx, []Record{rec("a", 1)}); !errors.Is(err, boom) {
		t.Fatalf("want build failure, got %v", err)
	}
	// The slot was cleared; the next batch retries the build.
	fail = false
	got, err := p.Apply(ctx, []Record{rec("a", 2)})
	if err != nil {
		t.Fatalf("retry apply: %v", err)
	}
	if got == nil || *got != 3 {
		t.Fatalf("want Some(3), got %v", got)
	}
}

func TestFlowFailureIsFatalToApply(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("user flow failed")
	s := &testStateOf{
		build: func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
			return KeyState{
				Flow:   KeyFlowFunc(func(ctx context.Context, records []Record) error { return boom }),
				Timers: NewTimerSet(nil),
			}, nil
		},
	}
	p := newTestFlow(t, s, 0)

	if _, err := p.Apply(ctx, []Record{rec("a", 1)}); !errors.Is(err, boom) {
		t.Fatalf("want flow failure, got %v", err)
	}
	if p.Committed() != 0 {
		t.Fatalf("failed apply moved committed offset to %d", p.Committed())
	}
}

func TestTimersTickOnIdleApply(t *testing.T) {
	ctx := context.Background()
	var fired bool
	s := &testStateOf{
		recovered: []string{"a"},
		build: func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
			timers := NewTimerSet(nil)
			timers.RegisterClock(time.Now().Add(-time.Second), func(ctx context.Context, flow KeyFlow) error {
				fired = true
				return nil
			})
			return KeyState{
				Flow:   KeyFlowFunc(func(ctx context.Context, records []Record) error { return nil }),
				Timers: timers,
			}, nil
		},
	}
	p := newTestFlow(t, s, 0)

	if _, err := p.Apply(ctx, nil); err != nil {
		t.Fatalf("idle apply: %v", err)
	}
	if !fired {
		t.Fatal("due clock timer did not fire on idle apply")
	}
}

func TestReleaseOnClose(t *testing.T) {
	ctx := context.Background()
	var released []string
	var mu sync.Mutex
	s := &testStateOf{
		recovered: []string{"a", "b"},
		build: func(key string, createdAt Timestamp, kc *KeyContext) (KeyState, error) {
			return KeyState{
				Flow:   KeyFlowFunc(func(ctx context.Context, records []Record) error { return nil }),
				Timers: NewTimerSet(nil),
				Release: func(ctx context.Context) error {
					mu.Lock()
					released = append(released, key)
					mu.Unlock()
					return nil
				},
			}, nil
		},
	}
	p, err := New(ctx, Options{TopicPartition: TopicPartition{Topic: "journal"}, AssignedAt: 0, StateOf: s})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("want both keys released, got %v", released)
	}
	if _, err := p.Apply(ctx, nil); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("apply after close: %v", err)
	}
}

func TestOffsetToCommitOverflow(t *testing.T) {
	if _, err := OffsetToCommit(Offset(9223372036854775807)); !errors.Is(err, ErrOffsetOverflow) {
		t.Fatalf("want overflow, got %v", err)
	}
	next, err := OffsetToCommit(41)
	if err != nil || next != 42 {
		t.Fatalf("want 42, got %d err=%v", next, err)
	}
}
