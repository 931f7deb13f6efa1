package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_FallsBackToInfoOnBadLevel(t *testing.T) {
	l := New("not-a-level")
	if !l.slog.Enabled(nil, slog.LevelInfo) {
		t.Errorf("expected info level to be enabled by default")
	}
	if l.slog.Enabled(nil, slog.LevelDebug) {
		t.Errorf("expected debug level to be disabled by default")
	}
}

func TestWith_AttachesArgsToSubsequentLines(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{slog: slog.New(slog.NewJSONHandler(&buf, nil))}
	withCall := base.With("call_id", "call-42")

	withCall.Info("started")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unexpected error unmarshalling log line: %v", err)
	}
	if line["call_id"] != "call-42" {
		t.Errorf("expected call_id attribute to persist, got %v", line["call_id"])
	}
	if !strings.Contains(line["msg"].(string), "started") {
		t.Errorf("expected msg to contain 'started', got %v", line["msg"])
	}
}
