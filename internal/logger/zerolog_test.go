package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

// TestAdapterFields verifies component, fields and child context are written
func TestAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.DebugLevel).With("run_id", "abc")

	log.Info("osem", "reconstruction finished", map[string]interface{}{"iterations": 4})
	log.Error("config", errors.New("boom"), nil)

	events := decodeLines(t, &buf)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first["component"] != "osem" || first["message"] != "reconstruction finished" {
		t.Errorf("Unexpected info event %v", first)
	}
	if first["iterations"] != float64(4) {
		t.Errorf("Expected iterations field 4, got %v", first["iterations"])
	}
	if first["run_id"] != "abc" {
		t.Errorf("Expected run_id abc, got %v", first["run_id"])
	}

	second := events[1]
	if second["level"] != "error" || second["error"] != "boom" {
		t.Errorf("Unexpected error event %v", second)
	}
}

// TestAdapterLevelFiltering verifies events below the level are dropped
func TestAdapterLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.WarnLevel)

	log.Debug("x", "hidden", nil)
	log.Info("x", "hidden", nil)
	log.Warning("x", "shown", nil)

	events := decodeLines(t, &buf)
	if len(events) != 1 || events[0]["message"] != "shown" {
		t.Errorf("Expected only the warning, got %v", events)
	}
}

// TestParseLevel verifies level name parsing
func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel(""); err != nil || lvl != zerolog.InfoLevel {
		t.Errorf("Expected info for empty name, got %v, %v", lvl, err)
	}
	if lvl, err := ParseLevel("debug"); err != nil || lvl != zerolog.DebugLevel {
		t.Errorf("Expected debug, got %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}
