package storage

import (
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
//   - "file": snapshot + journal files using Path as prefix
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxOpenConn int           // postgres only; 0 means default
}

// Store is a reminder store that owns its resources.
type Store interface {
	reminder.Store
	Close() error
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &reminder.PersistenceError{Op: op, Err: err}
}

// toMillis is the on-disk representation of trigger_time for sqlite and file.
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
