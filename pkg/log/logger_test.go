package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", InfoLevel, false},
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if c.wantErr != (err != nil) {
			t.Fatalf("ParseLevel(%q) err=%v, wantErr=%v", c.in, err, c.wantErr)
		}
		if err == nil && got != c.want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", c.in, got, c.want)
		}
	}
}

func TestLevelGates(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithLevel(WarnLevel), WithOutput(&buf))
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("low-level entries leaked: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn entry missing: %q", out)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithOutput(&buf)).With(Component("core"), Partition(3))
	l.Info("hello", Int64("offset", 42))
	out := buf.String()
	for _, want := range []string{"component=core", "partition=3", "offset=42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	if _, err := ApplyConfig(Config{Level: "info", Format: "json"}); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	var buf bytes.Buffer
	l := New(WithFormat("json"), WithOutput(&buf))
	l.Info("m", Str("k", "v"))
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("json output missing attr: %q", buf.String())
	}
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	if _, err := ApplyConfig(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
