package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  group_log: "-1001234"
  poll_timeout: 10s
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/reminders.db
scanner:
  interval: 5s
  workers: 4
dispatch:
  send_timeout: 10s
  rate_per_sec: 20
reminders:
  timezone: Europe/Berlin
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("telegram section = %+v", cfg.Telegram)
	}
	if cfg.Scanner == nil || cfg.Scanner.Workers != 4 || cfg.Dispatch.RatePerSec != 20 {
		t.Fatalf("scanner/dispatch = %+v / %+v", cfg.Scanner, cfg.Dispatch)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	loc, _ := cfg.Location()
	if loc.String() != "Europe/Berlin" {
		t.Fatalf("Location = %v", loc)
	}
	chat, _ := cfg.LogChatID()
	if chat != -1001234 {
		t.Fatalf("LogChatID = %d", chat)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.json", `{"telegram":{"token":"x"},"storage":{"path":"a"},"scheduler":{}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.json", `{"telegram":{"token":"x"}} {}`))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("Parse error = %v, want trailing data", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Storage:  StorageConfig{Driver: "sqlite", Path: "r.db"},
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "file driver", mutate: func(c *Config) { c.Storage.Driver = "file" }},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = " " }, want: "telegram.token"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "unknown driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "storage.dsn"},
		{name: "sub-second interval", mutate: func(c *Config) { c.Scanner = &ScannerConfig{Interval: "500ms"} }, want: "at least 1s"},
		{name: "blank interval uses default", mutate: func(c *Config) { c.Scanner = &ScannerConfig{} }},
		{name: "zero interval", mutate: func(c *Config) { c.Scanner = &ScannerConfig{Interval: "0s"} }, want: "scanner.interval must be positive"},
		{name: "bad duration", mutate: func(c *Config) { c.Dispatch = &DispatchConfig{SendTimeout: "soon"} }, want: "dispatch.send_timeout"},
		{name: "bad timezone", mutate: func(c *Config) { c.Reminders = &RemindersConfig{Timezone: "Mars/Olympus"} }, want: "reminders.timezone"},
		{name: "bad group log", mutate: func(c *Config) { c.Telegram.GroupLog = "ops" }, want: "telegram.group_log"},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		err := Validate(cfg)
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: error = %v, want containing %q", tt.name, err, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	d, _ = ParseDurationOrDefault("x", "2m", time.Second)
	if d != 2*time.Minute {
		t.Fatalf("2m = %v", d)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Telegram: TelegramConfig{Token: "a"}, Storage: StorageConfig{DSN: "postgres://secret"}}
	next := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Storage:  StorageConfig{DSN: "postgres://other-secret"},
		Scanner:  &ScannerConfig{Interval: "10s"},
	}
	changed, attrs := SummarizeConfigChange(old, next)
	if strings.Join(changed, ",") != "scanner,storage" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for changed sections")
	}
	if changed, _ := SummarizeConfigChange(next, next); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestSubscribeDeliversLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("slow subscriber must receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("Unsubscribe must close the channel")
	}
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram":{"token":"a"},"storage":{"path":"r.db"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"a"},"storage":{"path":"r.db"},"scanner":{"interval":"9s"}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Scanner == nil || cfg.Scanner.Interval != "9s" {
			t.Fatalf("published config = %+v", cfg.Scanner)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}
}
