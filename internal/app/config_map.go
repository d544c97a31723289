package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const defaultRecoveryAttempts = 5

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxOpenConn: sc.MaxOpenConn,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	// Validate already rejected a malformed group_log.
	chatID, _ := cfg.LogChatID()
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapScannerConfig leaves zero values in place; reminder.Scanner fills defaults.
func mapScannerConfig(cfg *config.Config) (reminder.ScannerConfig, error) {
	if cfg.Scanner == nil {
		return reminder.ScannerConfig{}, nil
	}
	interval, err := config.ParseDurationField("scanner.interval", cfg.Scanner.Interval)
	if err != nil {
		return reminder.ScannerConfig{}, err
	}
	cycle, err := config.ParseDurationField("scanner.cycle_timeout", cfg.Scanner.CycleTimeout)
	if err != nil {
		return reminder.ScannerConfig{}, err
	}
	return reminder.ScannerConfig{
		Interval:     interval,
		Workers:      cfg.Scanner.Workers,
		CycleTimeout: cycle,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (reminder.DispatcherConfig, error) {
	if cfg.Dispatch == nil {
		return reminder.DispatcherConfig{}, nil
	}
	send, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return reminder.DispatcherConfig{}, err
	}
	return reminder.DispatcherConfig{
		SendTimeout: send,
		RatePerSec:  cfg.Dispatch.RatePerSec,
	}, nil
}

func recoveryAttempts(cfg *config.Config) int {
	if cfg.Recovery == nil || cfg.Recovery.Attempts <= 0 {
		return defaultRecoveryAttempts
	}
	return cfg.Recovery.Attempts
}

func pollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}
