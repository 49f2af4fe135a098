package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew_JSONHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("rendered", "items", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["msg"] != "rendered" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record["items"] != float64(3) {
		t.Fatalf("unexpected items attr: %v", record["items"])
	}
}

func TestNew_TextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Format: "text", Output: &buf})
	logger.Debug("compiled", "name", "a.j2")

	if !strings.Contains(buf.String(), "msg=compiled") || !strings.Contains(buf.String(), "name=a.j2") {
		t.Fatalf("unexpected text record: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	got := []Level{
		ParseLevel("debug"),
		ParseLevel(" WARN "),
		ParseLevel("error"),
		ParseLevel("bogus"),
	}
	want := []Level{LevelDebug, LevelWarn, LevelError, LevelInfo}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("levels mismatch (-want +got):\n%s", diff)
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(nopLogger); !ok {
		t.Fatalf("expected nop logger for nil input")
	}
}
