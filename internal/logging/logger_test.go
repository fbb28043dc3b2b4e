package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/WhyShailesh/whisper-rooms/internal/config"
	"github.com/WhyShailesh/whisper-rooms/internal/logring"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseLevel(tc.in); got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSetupStdout(t *testing.T) {
	lj := Setup(config.LoggingConfig{Level: "info", Format: "json"}, nil)
	if lj != nil {
		t.Error("stdout logging should not create a file logger")
	}
	slog.Info("smoke test to stdout")
}

func TestSetupFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whisper.log")

	lj := Setup(config.LoggingConfig{
		Level:     "info",
		Format:    "text",
		File:      path,
		MaxSizeMB: 10,
	}, nil)
	if lj == nil {
		t.Fatal("file logging should return a lumberjack logger")
	}
	defer lj.Close()

	slog.Info("written to file")

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("log file is empty")
	}
}

func TestSetupTeesIntoRing(t *testing.T) {
	ring := logring.NewRing(10)
	Setup(config.LoggingConfig{Level: "debug", Format: "json"}, ring)

	slog.Info("captured", "key", "value")

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) == 0 {
		t.Fatal("ring captured nothing")
	}
	if got[0].Message != "captured" {
		t.Errorf("newest captured message = %q, want %q", got[0].Message, "captured")
	}
}

func TestSetupLevelFilters(t *testing.T) {
	ring := logring.NewRing(10)
	Setup(config.LoggingConfig{Level: "warn", Format: "json"}, ring)

	slog.Info("below threshold")
	slog.Warn("at threshold")

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) != 1 || got[0].Message != "at threshold" {
		t.Errorf("captured %+v, want only the warn record", got)
	}
}
