package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "tokens", 42)

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"tokens":42`) {
		t.Fatalf("expected attribute in output, got: %s", out)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn record missing: %s", out)
	}
}

func TestPrettyHandler(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug)
	log.Debug("loading checkpoint", "layer", 3)

	out := buf.String()
	if !strings.Contains(out, "loading checkpoint") {
		t.Fatalf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, "layer=") {
		t.Fatalf("expected key=value attribute, got: %s", out)
	}
}

func TestWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("model", "125M")
	log.Info("ready")

	if !strings.Contains(buf.String(), `"model":"125M"`) {
		t.Fatalf("expected bound attribute, got: %s", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), log)
	if got := FromContext(ctx); got != log {
		t.Fatal("FromContext did not return the stored logger")
	}
	if got := FromContext(context.Background()); got == nil {
		t.Fatal("FromContext on empty context should return a default logger")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
