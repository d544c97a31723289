package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only, fsynced per mutation)
//
// A mutation is applied in memory only after its journal record is durable.
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	rows   map[int64]reminder.Reminder
	nextID int64 // last id handed out; never decreases

	writes       int
	compactEvery int
}

type fileRecord struct {
	Op        string `json:"op"` // "put" or "del"
	ID        int64  `json:"id"`
	UserID    string `json:"user_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"message_content,omitempty"`
	TriggerMS int64  `json:"trigger_ms,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

type fileSnapshot struct {
	NextID    int64        `json:"next_id"`
	Reminders []fileRecord `json:"reminders"`
}

func recordOf(r reminder.Reminder) fileRecord {
	return fileRecord{
		Op:        "put",
		ID:        r.ID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Content:   r.MessageContent,
		TriggerMS: toMillis(r.TriggerTime),
		ChannelID: r.ChannelID,
	}
}

func (rec fileRecord) reminder() reminder.Reminder {
	return reminder.Reminder{
		ID:             rec.ID,
		UserID:         rec.UserID,
		MessageID:      rec.MessageID,
		MessageContent: rec.Content,
		TriggerTime:    fromMillis(rec.TriggerMS),
		ChannelID:      rec.ChannelID,
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		rows:         map[int64]reminder.Reminder{},
		compactEvery: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	valid, err := s.replayJournal(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := repairTail(jf, valid); err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	log.Info("file store opened", logx.String("prefix", prefix), logx.Int("pending", len(s.rows)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Create(ctx context.Context, r reminder.Reminder) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrap("create", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.rows {
		if ex.UserID == r.UserID && ex.MessageID == r.MessageID {
			return ex.ID, nil
		}
	}
	r.ID = s.nextID + 1
	r.TriggerTime = fromMillis(toMillis(r.TriggerTime))
	if err := s.appendLocked(recordOf(r)); err != nil {
		return 0, wrap("create", err)
	}
	s.nextID = r.ID
	s.rows[r.ID] = r
	s.maybeCompactLocked()
	return r.ID, nil
}

func (s *fileStore) Delete(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrap("delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		if s.journal == nil {
			return false, wrap("delete", ErrClosed)
		}
		return false, nil
	}
	if err := s.appendLocked(fileRecord{Op: "del", ID: id}); err != nil {
		return false, wrap("delete", err)
	}
	delete(s.rows, id)
	s.maybeCompactLocked()
	return true, nil
}

func (s *fileStore) Get(ctx context.Context, id int64) (reminder.Reminder, bool, error) {
	if err := ctx.Err(); err != nil {
		return reminder.Reminder{}, false, wrap("get", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Reminder{}, false, wrap("get", ErrClosed)
	}
	r, ok := s.rows[id]
	return r, ok, nil
}

func (s *fileStore) FetchDue(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	return s.selectRows(ctx, "fetch_due", func(r reminder.Reminder) bool { return r.Due(now) })
}

func (s *fileStore) FetchAllPending(ctx context.Context) ([]reminder.Reminder, error) {
	return s.selectRows(ctx, "fetch_all_pending", func(reminder.Reminder) bool { return true })
}

func (s *fileStore) FindByMessageID(ctx context.Context, messageID string) ([]reminder.Reminder, error) {
	return s.selectRows(ctx, "find_by_message_id", func(r reminder.Reminder) bool { return r.MessageID == messageID })
}

func (s *fileStore) ListByUser(ctx context.Context, userID string) ([]reminder.Reminder, error) {
	return s.selectRows(ctx, "list_by_user", func(r reminder.Reminder) bool { return r.UserID == userID })
}

func (s *fileStore) selectRows(ctx context.Context, op string, keep func(reminder.Reminder) bool) ([]reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, wrap(op, ErrClosed)
	}
	var out []reminder.Reminder
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sortReminders(out)
	return out, nil
}

func sortReminders(rs []reminder.Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].TriggerTime.Equal(rs[j].TriggerTime) {
			return rs[i].TriggerTime.Before(rs[j].TriggerTime)
		}
		return rs[i].ID < rs[j].ID
	})
}

func (s *fileStore) appendLocked(rec fileRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	return nil
}

// maybeCompactLocked runs after a mutation has been applied to s.rows.
func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.compactEvery <= 0 || s.writes%s.compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

// compactLocked writes the in-memory state as the new snapshot and truncates
// the journal.
func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{NextID: s.nextID, Reminders: make([]fileRecord, 0, len(s.rows))}
	for _, r := range s.rows {
		snap.Reminders = append(snap.Reminders, recordOf(r))
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.nextID = snap.NextID
	for _, rec := range snap.Reminders {
		s.applyRecord(rec)
	}
	return nil
}

// replayJournal applies the journal and returns the length of its valid
// prefix. Only the final line may be unreadable: that is a write torn by a
// crash. A bad record followed by more data means the journal is corrupt.
func (s *fileStore) replayJournal(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var (
		valid   int64
		tornAt  int // line number of an unreadable record, 0 if none
		tornLen int
	)
	for line := 1; ; line++ {
		b, err := r.ReadBytes('\n')
		if len(b) > 0 {
			switch rec, ok := parseRecord(b); {
			case tornAt != 0 && len(bytes.TrimSpace(b)) > 0:
				return 0, fmt.Errorf("journal %s: corrupt record at line %d", filepath.Base(path), tornAt)
			case tornAt != 0:
			case len(bytes.TrimSpace(b)) == 0:
				valid += int64(len(b))
			case ok:
				s.applyRecord(rec)
				valid += int64(len(b))
			default:
				tornAt, tornLen = line, len(b)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if tornAt != 0 {
		s.log.Warn("torn journal tail dropped", logx.Int("line", tornAt), logx.Int("bytes", tornLen))
	}
	return valid, nil
}

func parseRecord(b []byte) (fileRecord, bool) {
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil || rec.ID <= 0 {
		return fileRecord{}, false
	}
	return rec, true
}

// repairTail cuts the journal back to its valid prefix and makes sure the
// next record starts on a fresh line.
func repairTail(f *os.File, valid int64) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size > valid {
		if err := f.Truncate(valid); err != nil {
			return err
		}
		size = valid
	}
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) applyRecord(rec fileRecord) {
	if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	switch rec.Op {
	case "del":
		delete(s.rows, rec.ID)
	default:
		s.rows[rec.ID] = rec.reminder()
	}
}
