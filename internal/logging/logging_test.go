package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", FormatJSON)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("hello", slog.String("component", "test"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["component"] != "test" {
		t.Errorf("Unexpected record %v", rec)
	}

	buf.Reset()
	logger, err = New(&buf, "DEBUG", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Errorf("Expected text debug record, got %q", buf.String())
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", FormatText); err == nil {
		t.Error("Expected error for invalid level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("Expected error for invalid format")
	}
}
