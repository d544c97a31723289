package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "scanner"))
	log.Info("scan finished", Int("due", 3), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if m["message"] != "scan finished" || m["comp"] != "scanner" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if due, _ := m["due"].(float64); due != 3 {
		t.Fatalf("due = %v, want 3", m["due"])
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %q, want logx_test.go:N", caller)
	}
}

func TestWriterLoggerLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatal("Enabled disagrees with configured level")
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger must report IsZero")
	}
	zero.Error("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop must not report IsZero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"trace", LevelTrace},
		{" Debug ", LevelDebug},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","time":"x","message":"send failed","reminder_id":7,"err":"timeout"}` + "\n")
	got := formatTelegramJSON(line)
	want := "[ERROR] send failed\n- err=timeout\n- reminder_id=7"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON line = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

type captureSender struct {
	mu    sync.Mutex
	lines []string
	got   chan struct{}
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, threadID int, text string) error {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestTelegramSinkForwardsAboveMinLevel(t *testing.T) {
	t.Parallel()
	sender := &captureSender{got: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("not forwarded")
	log.Warn("forwarded", String("k", "v"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("telegram sink never delivered")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.lines) != 1 || !strings.HasPrefix(sender.lines[0], "[WARN] forwarded") {
		t.Fatalf("forwarded lines = %q", sender.lines)
	}
}
