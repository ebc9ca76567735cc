package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReelHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "video published",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tvideo published\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "resolving url",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tresolving url\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "promoted",
			attrs:   []slog.Attr{slog.String("change", "c-1"), slog.Int("attempts", 3)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tpromoted\tchange=c-1\tattempts=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &reelHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestReelHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &reelHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "promoter")}).(*reelHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=promoter") {
		t.Errorf("expected pre-set attr component=promoter, got: %q", got)
	}
	if !strings.Contains(got, "key=abc") {
		t.Errorf("expected record attr key=abc, got: %q", got)
	}
}

func TestReelHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	h := &reelHandler{w: &bytes.Buffer{}, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*reelHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestReelHandler_Enabled(t *testing.T) {
	tests := []struct {
		name    string
		handler *reelHandler
		level   slog.Level
		want    bool
	}{
		{name: "no level accepts debug", handler: &reelHandler{}, level: slog.LevelDebug, want: true},
		{name: "no level accepts error", handler: &reelHandler{}, level: slog.LevelError, want: true},
		{name: "info rejects debug", handler: &reelHandler{level: slog.LevelInfo}, level: slog.LevelDebug, want: false},
		{name: "info accepts warn", handler: &reelHandler{level: slog.LevelInfo}, level: slog.LevelWarn, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.handler.Enabled(context.Background(), tt.level); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestFanoutHandler(t *testing.T) {
	var all, warn bytes.Buffer
	h := &fanoutHandler{handlers: []slog.Handler{
		&reelHandler{w: &all, opID: "op"},
		&reelHandler{w: &warn, opID: "op", level: slog.LevelWarn},
	}}
	logger := slog.New(h).With("change", "c-9")

	logger.Debug("settling")
	logger.Warn("retire failed")

	if got := strings.Count(all.String(), "\n"); got != 2 {
		t.Errorf("unfiltered handler got %d lines, want 2:\n%s", got, all.String())
	}
	if got := warn.String(); strings.Contains(got, "settling") || !strings.Contains(got, "retire failed\tchange=c-9") {
		t.Errorf("warn handler output = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op", slog.LevelError)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Debug("only in the file", "n", 1)

	data, err := os.ReadFile(filepath.Join(dir, "reel.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "DEBUG\ttest-op\tonly in the file\tn=1") {
		t.Errorf("log file = %q, want the debug record", data)
	}
}
