package logx

import (
	"strings"
	"testing"
)

func TestFormatTelegramLineSortsFields(t *testing.T) {
	line := []byte(`{"level":"error","time":"x","message":"persist failed","comp":"relay","collection":"known_users"}`)
	got := formatTelegramLine(line)
	want := "[ERROR] persist failed\n- collection=known_users\n- comp=relay"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
}

func TestFormatTelegramLineNonJSON(t *testing.T) {
	got := formatTelegramLine([]byte("  plain text \n"))
	if got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	l.With(Int("n", 1)).Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatal("warning should map to warn")
	}
	if ParseLevel("bogus", LevelError) != LevelError {
		t.Fatal("unknown level should fall back to default")
	}
}
