package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands work but are left out of the menu and /help.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args are the whitespace-separated words after the command; Text is the
	// same remainder verbatim (trimmed).
	Args  []string
	Text  string
	ReqID string

	Logger    logx.Logger
	Messenger kit.Messenger
}

// Reply sends HTML text to the chat (and topic) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Messenger.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true})
	return err
}

// Manager routes text commands to handlers on a bounded worker pool.
type Manager struct {
	log logx.Logger
	msg kit.Messenger

	mu     sync.RWMutex
	byName map[string]*Command
	cmds   []Command
	owners []int64

	workers int
	jobs    chan func()

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func NewManager(log logx.Logger, msg kit.Messenger, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:     log,
		msg:     msg,
		byName:  map[string]*Command{},
		owners:  slices.Clone(owners),
		workers: max(2, runtime.NumCPU()),
		jobs:    make(chan func(), 256),
	}
	m.SetCommands(nil)
	return m
}

// SetOwners updates the owner list used for AccessOwnerOnly. Safe during
// hot reload.
func (m *Manager) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.mu.Unlock()
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetCommands replaces the registry. /help is always added.
func (m *Manager) SetCommands(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			name := ""
			if len(req.Args) > 0 {
				name = req.Args[0]
			}
			return req.Reply(ctx, m.helpText(name, m.isOwner(req.FromID)))
		},
	}
	all := append(slices.Clone(cmds), helper)

	byName := map[string]*Command{}
	kept := make([]Command, 0, len(all))
	for _, c := range all {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		kept = append(kept, c)
	}
	for i := range kept {
		c := &kept[i]
		byName[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
	}

	m.mu.Lock()
	m.cmds = kept
	m.byName = byName
	m.mu.Unlock()
}

// Menu returns the public command list for the platform menu.
func (m *Manager) Menu() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return buildMenuCommands(m.cmds)
}

// Supervisor returns the worker pool supervisor while DispatchLoop runs.
func (m *Manager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

// DispatchLoop reads updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	jobs := m.jobs
	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// ParseCommand splits "/name@bot rest" or "!name rest". ok is false when text
// is not a command.
func ParseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || msg.FromIsBot {
		return
	}
	name, rest, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, found := m.byName[name]
	m.mu.RUnlock()
	if !found {
		// Stay quiet in groups; other bots' commands share the namespace.
		if !msg.IsGroup {
			_, _ = m.msg.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		_, _ = m.msg.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    strings.Fields(rest),
		Text:    rest,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		Messenger: m.msg,
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.msg.SendText(ctx, chat, "busy, try again", nil)
	}
}
