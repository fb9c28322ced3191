package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "service").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "kept" || entry["component"] != "service" {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger := newLogger(Config{Level: "bogus"}, &bytes.Buffer{})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Format: "console"}, &buf)
	logger.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}
