package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Level: "warn", Format: "json"}, &buf), "monitor")

	logger.Info().Msg("dropped")
	logger.Warn().Str("candidate_id", "c1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "monitor" || entry["candidate_id"] != "c1" || entry["message"] != "kept" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("missing timestamp in %v", entry)
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "loud"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "console"}, &buf)
	logger.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("console format produced json: %q", buf.String())
	}
}
