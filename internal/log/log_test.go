package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitVerboseLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Verbose: true, Stderr: &buf})

	Debug("debug message")
	Info("info message")
	Warn("warn message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message"} {
		if !strings.Contains(out, want) {
			t.Errorf("verbose output missing %q:\n%s", want, out)
		}
	}
}

func TestInitDefaultSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Stderr: &buf})

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")

	out := buf.String()
	if strings.Contains(out, "hidden debug") || strings.Contains(out, "hidden info") {
		t.Errorf("non-verbose output should suppress debug/info:\n%s", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("warn output missing:\n%s", out)
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Verbose: true, JSONFormat: true, Stderr: &buf})

	Info("structured", "service", "app1")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, line)
	}
	if record["msg"] != "structured" {
		t.Errorf("msg = %v, want structured", record["msg"])
	}
	if record["service"] != "app1" {
		t.Errorf("service = %v, want app1", record["service"])
	}
}

func TestTokenPrefix(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"abcdefgh12345678", "abcdefgh..."},
		{"short", "short..."},
		{"", "..."},
	}
	for _, tt := range tests {
		if got := TokenPrefix(tt.token); got != tt.want {
			t.Errorf("TokenPrefix(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}
