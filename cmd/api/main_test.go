package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"garbage", slog.LevelInfo, slog.LevelDebug},
		{"", slog.LevelInfo, slog.LevelDebug},
	}
	ctx := context.Background()
	for _, tc := range cases {
		log := newLogger(tc.level)
		if !log.Enabled(ctx, tc.enabled) {
			t.Errorf("level %q: %v should be enabled", tc.level, tc.enabled)
		}
		if log.Enabled(ctx, tc.muted) {
			t.Errorf("level %q: %v should be muted", tc.level, tc.muted)
		}
	}
}
