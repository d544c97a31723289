package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage is required; there is no in-memory fallback for reminders.
	Storage   StorageConfig    `json:"storage"`
	Scanner   *ScannerConfig   `json:"scanner,omitempty"`
	Dispatch  *DispatchConfig  `json:"dispatch,omitempty"`
	Recovery  *RecoveryConfig  `json:"recovery,omitempty"`
	Reminders *RemindersConfig `json:"reminders,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may run operator commands (/status).
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives the Telegram log sink.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/bot?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxOpenConn int    `json:"max_open_conns,omitempty"`
}

// ScannerConfig controls the due-time scan.
//
// Defaults: interval "5s", workers 4, cycle_timeout "30s".
// Interval has one-second granularity.
type ScannerConfig struct {
	Interval     string `json:"interval,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

// DispatchConfig controls delivery of a single reminder.
//
// Defaults: send_timeout "10s", rate_per_sec 20.
type DispatchConfig struct {
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type RecoveryConfig struct {
	// Attempts bounds startup recovery retries when the store is unreachable.
	// Default 5.
	Attempts int `json:"attempts,omitempty"`
}

type RemindersConfig struct {
	// Timezone is used to read absolute "YYYY-MM-DD-HH-MM" input. Default UTC.
	Timezone string `json:"timezone,omitempty"`
}
