package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// timeArg converts a trigger time into a driver argument.
	timeArg func(t time.Time) any
}

var (
	sqliteDialect = dialect{
		name:    "sqlite",
		timeArg: func(t time.Time) any { return toMillis(t) },
	}
	postgresDialect = dialect{
		name:     "postgres",
		numbered: true,
		timeArg:  func(t time.Time) any { return t.UTC() },
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements reminder.Store over database/sql.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

const reminderColumns = `id, user_id, message_id, message_content, trigger_time, channel_id`

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.d.name + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.d.name, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Create(ctx context.Context, r reminder.Reminder) (int64, error) {
	if s == nil || s.db == nil {
		return 0, wrap("create", ErrClosed)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("create", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.d.rebind(
		`INSERT INTO reminders(user_id, message_id, message_content, trigger_time, channel_id)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id, message_id) DO NOTHING
		 RETURNING id`),
		r.UserID, r.MessageID, r.MessageContent, s.d.timeArg(r.TriggerTime), r.ChannelID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Same request seen before and still pending.
		err = tx.QueryRowContext(ctx, s.d.rebind(
			`SELECT id FROM reminders WHERE user_id = ? AND message_id = ?`),
			r.UserID, r.MessageID,
		).Scan(&id)
		if err == nil {
			s.log.Debug("duplicate create collapsed", logx.Int64("id", id), logx.String("user", r.UserID))
		}
	}
	if err != nil {
		return 0, wrap("create", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("create", err)
	}
	return id, nil
}

func (s *sqlStore) FetchDue(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	return s.query(ctx, "fetch_due",
		`SELECT `+reminderColumns+` FROM reminders WHERE trigger_time <= ? ORDER BY trigger_time ASC, id ASC`,
		s.d.timeArg(now))
}

func (s *sqlStore) FetchAllPending(ctx context.Context) ([]reminder.Reminder, error) {
	return s.query(ctx, "fetch_all_pending",
		`SELECT `+reminderColumns+` FROM reminders ORDER BY trigger_time ASC, id ASC`)
}

func (s *sqlStore) FindByMessageID(ctx context.Context, messageID string) ([]reminder.Reminder, error) {
	return s.query(ctx, "find_by_message_id",
		`SELECT `+reminderColumns+` FROM reminders WHERE message_id = ? ORDER BY trigger_time ASC, id ASC`,
		messageID)
}

func (s *sqlStore) ListByUser(ctx context.Context, userID string) ([]reminder.Reminder, error) {
	return s.query(ctx, "list_by_user",
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY trigger_time ASC, id ASC`,
		userID)
}

func (s *sqlStore) Get(ctx context.Context, id int64) (reminder.Reminder, bool, error) {
	if s == nil || s.db == nil {
		return reminder.Reminder{}, false, wrap("get", ErrClosed)
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`), id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, false, nil
	}
	if err != nil {
		return reminder.Reminder{}, false, wrap("get", err)
	}
	return r, true, nil
}

func (s *sqlStore) Delete(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, wrap("delete", ErrClosed)
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM reminders WHERE id = ?`), id)
	if err != nil {
		return false, wrap("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("delete", err)
	}
	return n > 0, nil
}

func (s *sqlStore) query(ctx context.Context, op, q string, args ...any) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, wrap(op, ErrClosed)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var (
		r  reminder.Reminder
		tt dbTime
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.MessageID, &r.MessageContent, &tt, &r.ChannelID); err != nil {
		return reminder.Reminder{}, err
	}
	r.TriggerTime = tt.t
	return r, nil
}

// dbTime scans trigger_time from either representation: unix milliseconds
// (sqlite) or a timestamp without zone (postgres), always as UTC.
type dbTime struct{ t time.Time }

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		d.t = fromMillis(v)
	case time.Time:
		// TIMESTAMP carries no zone; the stored wall clock is UTC.
		d.t = time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), time.UTC)
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("trigger_time: unsupported type %T", src)
	}
	return nil
}

func (d *dbTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.t = fromMillis(ms)
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			d.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("trigger_time: cannot parse %q", s)
}
