package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	telegramQueueSize  = 256
	telegramMaxMessage = 3500
	telegramSendWait   = 10 * time.Second
)

type telegramItem struct {
	chatID   int64
	threadID int
	msg      string
}

// telegramSink is a zerolog LevelWriter that forwards lines to a Sender.
// It never blocks the caller: lines over the rate limit or a full queue are
// dropped.
type telegramSink struct {
	sender Sender

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan telegramItem
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		queue:    make(chan telegramItem, telegramQueueSize),
		done:     make(chan struct{}),
	}
}

func (t *telegramSink) apply(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.chatID = cfg.ChatID
	t.threadID = cfg.ThreadID
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	if cfg.Enabled && cfg.ChatID != 0 && t.sender != nil {
		t.once.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			t.mu.Lock()
			t.cancel = cancel
			t.mu.Unlock()
			go t.worker(ctx)
		})
	}
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-t.done
}

func (t *telegramSink) worker(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, telegramSendWait)
			_ = t.sender.SendLog(sctx, it.chatID, it.threadID, it.msg)
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, threadID := t.chatID, t.threadID
	lim, minLevel := t.limiter, t.minLevel
	t.mu.Unlock()

	if chatID == 0 || t.sender == nil || lim == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramJSON(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case t.queue <- telegramItem{chatID: chatID, threadID: threadID, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatTelegramJSON renders a zerolog JSON line as "[LEVEL] message" followed
// by one "- key=value" line per field, in key order.
func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), telegramMaxMessage)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n")
			b.WriteString(truncate(v, 900))
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(v, 600))
	}
	return truncate(b.String(), telegramMaxMessage)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
