package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"silent", zerolog.Disabled, false},
		{"chatty", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLoggerWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.DebugLevel)

	log.Info("sweep", "level done", map[string]interface{}{"level": 0.3})
	log.Error("queue", errors.New("boom"), nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if first["component"] != "sweep" || first["message"] != "level done" {
		t.Errorf("Unexpected first line: %v", first)
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if second["error"] != "boom" || second["level"] != "error" {
		t.Errorf("Unexpected second line: %v", second)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.WarnLevel)

	log.Debug("x", "hidden", nil)
	log.Info("x", "hidden", nil)
	if buf.Len() != 0 {
		t.Errorf("Expected debug and info to be filtered, got %q", buf.String())
	}

	log.Warning("x", "shown", nil)
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected warning to be written, got %q", buf.String())
	}
}
