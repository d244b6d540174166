package consumer

import (
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Phill101/kafka-flow/internal/flow"
)

func TestConvertRecords(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	in := []*kgo.Record{
		{
			Topic:     "journal",
			Partition: 2,
			Offset:    41,
			Key:       []byte("a"),
			Value:     []byte("v"),
			Timestamp: ts,
			Headers:   []kgo.RecordHeader{{Key: "seqNr", Value: []byte("7")}},
		},
		{Topic: "journal", Partition: 2, Offset: 42},
	}
	out := convertRecords(in)
	if len(out) != 2 {
		t.Fatalf("want 2 records, got %d", len(out))
	}
	r := out[0]
	if r.Topic != "journal" || r.Partition != 2 || r.Offset != 41 {
		t.Fatalf("coordinates mismatch: %+v", r)
	}
	if string(r.Key) != "a" || string(r.Value) != "v" || !r.Timestamp.Equal(ts) {
		t.Fatalf("payload mismatch: %+v", r)
	}
	if v, ok := r.Header("seqNr"); !ok || string(v) != "7" {
		t.Fatalf("header mismatch: %+v", r.Headers)
	}
	if out[1].WatermarkTime() != nil {
		t.Fatal("zero timestamp must mean no watermark")
	}
}

func TestToKgoOffsets(t *testing.T) {
	commits := map[flow.TopicPartition]flow.Offset{
		{Topic: "journal", Partition: 0}: 11,
		{Topic: "journal", Partition: 3}: 7,
		{Topic: "audit", Partition: 1}:   99,
	}
	out := toKgoOffsets(commits)
	if len(out) != 2 {
		t.Fatalf("want 2 topics, got %d", len(out))
	}
	if got := out["journal"][0]; got.Offset != 11 || got.Epoch != -1 {
		t.Fatalf("journal-0 mismatch: %+v", got)
	}
	if got := out["journal"][3]; got.Offset != 7 {
		t.Fatalf("journal-3 mismatch: %+v", got)
	}
	if got := out["audit"][1]; got.Offset != 99 {
		t.Fatalf("audit-1 mismatch: %+v", got)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	stateOf := func(tp flow.TopicPartition) (flow.KeyStateOf, error) { return nil, nil }
	cases := []struct {
		name string
		opts Options
	}{
		{"missing state source", Options{Brokers: []string{"b:9092"}, Group: "g"}},
		{"missing brokers", Options{Group: "g", StateOf: stateOf}},
		{"missing group", Options{Brokers: []string{"b:9092"}, StateOf: stateOf}},
	}
	for _, c := range cases {
		if _, err := New(c.opts); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
}
