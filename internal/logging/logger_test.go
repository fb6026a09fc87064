package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", DEFAULT, false},
		{"info", DEFAULT, false},
		{"DEBUG", DEBUG, false},
		{" trace ", TRACE, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONRespectsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", "json", &buf)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	log.Info("shown", "k", 1)
	log.V(DEBUG).Info("also shown")
	log.V(TRACE).Info("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["msg"] != "shown" {
		t.Errorf("msg = %v, want shown", entry["msg"])
	}
	if entry["k"] != float64(1) {
		t.Errorf("k = %v, want 1", entry["k"])
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", "console", &buf)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	log.WithName("engine").Info("started")
	if !strings.Contains(buf.String(), "engine") || !strings.Contains(buf.String(), "started") {
		t.Errorf("console output missing name or message: %q", buf.String())
	}
}

func TestNew_BadFormat(t *testing.T) {
	if _, err := New("info", "xml", &bytes.Buffer{}); err == nil {
		t.Error("New(format=xml) should fail")
	}
}
