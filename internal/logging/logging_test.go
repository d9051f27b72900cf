package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown", "case_id", "c1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, "case_id=c1") {
		t.Fatalf("expected text attrs, got %s", out)
	}
}

func TestNewLoggerDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "", "")
	logger.Info("cycle done", "kind", "jams")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected json output, got %s", buf.String())
	}
}
