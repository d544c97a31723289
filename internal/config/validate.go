package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks everything that can be checked without opening the store or
// reaching Telegram. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.LogChatID(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage.MaxOpenConn < 0 {
		errs = append(errs, errors.New("storage.max_open_conns must be >= 0"))
	}

	sc := derefScanner(cfg.Scanner)
	if d, err := ParseDurationField("scanner.interval", sc.Interval); err != nil {
		errs = append(errs, err)
	} else if strings.TrimSpace(sc.Interval) != "" {
		// Blank means the default; an explicit value must be a usable period.
		switch {
		case d <= 0:
			errs = append(errs, errors.New("scanner.interval must be positive"))
		case d < time.Second:
			errs = append(errs, errors.New("scanner.interval must be at least 1s"))
		}
	}
	if sc.Workers < 0 {
		errs = append(errs, errors.New("scanner.workers must be >= 0"))
	}
	if _, err := ParseDurationField("scanner.cycle_timeout", sc.CycleTimeout); err != nil {
		errs = append(errs, err)
	}

	dc := derefDispatch(cfg.Dispatch)
	if _, err := ParseDurationField("dispatch.send_timeout", dc.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if dc.RatePerSec < 0 {
		errs = append(errs, errors.New("dispatch.rate_per_sec must be >= 0"))
	}

	if derefRecovery(cfg.Recovery).Attempts < 0 {
		errs = append(errs, errors.New("recovery.attempts must be >= 0"))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the timezone used to read absolute reminder times.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(derefReminders(c.Reminders).Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("reminders.timezone: %w", err)
	}
	return loc, nil
}

// LogChatID parses telegram.group_log. Zero means unset.
func (c *Config) LogChatID() (int64, error) {
	raw := strings.TrimSpace(c.Telegram.GroupLog)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return id, nil
}
