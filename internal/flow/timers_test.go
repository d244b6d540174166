package flow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ts(clock time.Time, watermark *time.Time, offset Offset) Timestamp {
	return Timestamp{Clock: clock, Watermark: watermark, Offset: offset}
}

func TestSetIsMonotonePerDimension(t *testing.T) {
	base := time.Unix(1000, 0)
	w1 := base.Add(time.Minute)
	reg := NewTimerSet(nil)

	reg.Set(ts(base, &w1, 10))
	earlier := base.Add(-time.Hour)
	w0 := w1.Add(-time.Minute)
	reg.Set(ts(earlier, &w0, 5))

	now := reg.Now()
	if !now.Clock.Equal(base) {
		t.Fatalf("clock regressed: %v", now.Clock)
	}
	if now.Watermark == nil || !now.Watermark.Equal(w1) {
		t.Fatalf("watermark regressed: %v", now.Watermark)
	}
	if now.Offset != 10 {
		t.Fatalf("offset regressed: %d", now.Offset)
	}
}

func TestTriggerFiresDueTimers(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1000, 0)
	reg := NewTimerSet(nil)

	var fired []string
	reg.RegisterClock(base.Add(time.Second), func(ctx context.Context, flow KeyFlow) error {
		fired = append(fired, "clock")
		return nil
	})
	reg.RegisterOffset(20, func(ctx context.Context, flow KeyFlow) error {
		fired = append(fired, "offset")
		return nil
	})
	reg.RegisterWatermark(base.Add(time.Hour), func(ctx context.Context, flow KeyFlow) error {
		fired = append(fired, "watermark")
		return nil
	})

	reg.Set(ts(base.Add(2*time.Second), nil, 15))
	if err := reg.Trigger(ctx, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(fired) != 1 || fired[0] != "clock" {
		t.Fatalf("want [clock], got %v", fired)
	}

	w := base.Add(2 * time.Hour)
	reg.Set(ts(base.Add(2*time.Second), &w, 25))
	if err := reg.Trigger(ctx, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(fired) != 3 {
		t.Fatalf("want all three fired, got %v", fired)
	}

	// Fired timers do not fire twice.
	fired = nil
	if err := reg.Trigger(ctx, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("timers refired: %v", fired)
	}
}

func TestTriggerPassesFlowThrough(t *testing.T) {
	ctx := context.Background()
	reg := NewTimerSet(nil)
	var sawFlow bool
	reg.RegisterOffset(1, func(ctx context.Context, flow KeyFlow) error {
		// Timer callbacks may fold a synthetic empty batch via the flow.
		sawFlow = flow != nil
		return nil
	})
	reg.Set(ts(time.Unix(1, 0), nil, 1))
	fl := KeyFlowFunc(func(ctx context.Context, records []Record) error { return nil })
	if err := reg.Trigger(ctx, fl); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !sawFlow {
		t.Fatal("flow not passed to callback")
	}
}

func TestTriggerCallbackMayRegister(t *testing.T) {
	ctx := context.Background()
	reg := NewTimerSet(nil)
	var second bool
	reg.RegisterOffset(1, func(ctx context.Context, flow KeyFlow) error {
		reg.RegisterOffset(2, func(ctx context.Context, flow KeyFlow) error {
			second = true
			return nil
		})
		return nil
	})
	reg.Set(ts(time.Unix(1, 0), nil, 5))
	if err := reg.Trigger(ctx, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !second {
		t.Fatal("timer registered by a callback did not fire in the same trigger")
	}
}

func TestTriggerStopsOnError(t *testing.T) {
	ctx := context.Background()
	reg := NewTimerSet(nil)
	boom := errors.New("boom")
	var after bool
	reg.RegisterOffset(1, func(ctx context.Context, flow KeyFlow) error { return boom })
	reg.RegisterOffset(1, func(ctx context.Context, flow KeyFlow) error {
		after = true
		return nil
	})
	reg.Set(ts(time.Unix(1, 0), nil, 1))
	if err := reg.Trigger(ctx, nil); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if after {
		t.Fatal("later timer ran after failure")
	}
	// The untouched timer is still pending and fires on the next trigger.
	if err := reg.Trigger(ctx, nil); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if !after {
		t.Fatal("pending timer lost after failed trigger")
	}
}

func TestOnProcessedHook(t *testing.T) {
	ctx := context.Background()
	var calls int
	reg := NewTimerSet(func(ctx context.Context) error {
		calls++
		return nil
	})
	if err := reg.OnProcessed(ctx); err != nil {
		t.Fatalf("on processed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("want one call, got %d", calls)
	}
	// nil hook is fine
	if err := NewTimerSet(nil).OnProcessed(ctx); err != nil {
		t.Fatalf("nil hook: %v", err)
	}
}
