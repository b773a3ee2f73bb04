package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"info", log.InfoLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
		{"DEBUG", log.DebugLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Setenv("MIPSTASH_LOG_LEVEL", "warn")
	t.Setenv("MIPSTASH_LOG_PREFIX", "test ")

	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	defer lg.Close()

	lg.Info("hidden")
	lg.Warn("restore failed", "address", "0x08804004")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, "restore failed") || !strings.Contains(out, "test") {
		t.Errorf("warn message missing or unprefixed: %q", out)
	}
}

func TestNewLoggerToFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvToFile, "1")
	t.Setenv(EnvLevel, "debug")

	lg := NewLogger()
	lg.Debug("stash cleared", "address", "0x08804004")
	if err := lg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "mipstash-*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v (%v), want one", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "stash cleared") {
		t.Errorf("log file missing message: %q", data)
	}
	if lg.Path != filepath.Base(files[0]) {
		t.Errorf("Path = %q, want %q", lg.Path, filepath.Base(files[0]))
	}
	if !IsDebug() {
		t.Error("IsDebug() = false with level debug")
	}
}
