package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
	// requestSlack is added to the poll timeout for the HTTP client, which
	// getUpdates shares with every other call.
	requestSlack = 15 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is the Telegram long-poll client. It forwards text messages as
// kit.Update values and implements kit.Messenger, kit.CommandMenuUpdater and
// logx.Sender.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	lifeMu  sync.Mutex
	session atomic.Pointer[session]
	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

// session is one Start..Stop span.
type session struct {
	sup *rtsup.Supervisor
	out chan<- kit.Update
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client: &http.Client{Timeout: cfg.PollTimeout + requestSlack},
	})
	if err != nil {
		return nil, err
	}
	return newAdapter(b, log), nil
}

func newAdapter(b *tele.Bot, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: b}
	b.Handle(tele.OnText, a.onText)
	return a
}

// Supervisor returns the running session's supervisor, or nil.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	if s := a.session.Load(); s != nil {
		return s.sup
	}
	return nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil {
		return nil
	}
	s := a.session.Load()
	if s == nil {
		return nil
	}
	select {
	case s.out <- kit.Update{Message: messageFromTele(m)}:
	default:
		a.dropped.Add(1)
	}
	return nil
}

func messageFromTele(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername, msg.FromIsBot = u.ID, u.Username, u.IsBot
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = &kit.MessageRef{ChatID: msg.ChatID, ThreadID: msg.ThreadID, MessageID: m.ReplyTo.ID}
	}
	return msg
}

// Start begins long polling. Updates are delivered to out without blocking;
// a full channel drops the update and counts it. Starting twice is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.session.Load() != nil {
		return nil
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	a.session.Store(&session{sup: sup, out: out})

	sup.Go0("updates.drop_report", func(c context.Context) { a.reportDrops(c, cap(out)) })
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted.
	sup.GoRestart0("telebot.poll", a.poll,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) poll(context.Context) {
	a.log.Info("polling started")
	a.bot.Start()
	a.log.Info("polling stopped")
}

func (a *Adapter) reportDrops(ctx context.Context, capacity int) {
	t := time.NewTicker(dropReportEvery)
	defer t.Stop()
	for {
		done := false
		select {
		case <-ctx.Done():
			done = true
		case <-t.C:
		}
		if n := a.dropped.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
		}
		if done {
			return
		}
	}
}

// Stop ends polling and waits for the session's goroutines for at most
// stopGrace, or less when ctx expires sooner. A slow poller is logged and
// abandoned.
func (a *Adapter) Stop(ctx context.Context) error {
	a.lifeMu.Lock()
	s := a.session.Swap(nil)
	a.lifeMu.Unlock()
	if s == nil {
		return nil
	}
	a.log.Info("stopping")
	s.sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	switch err := s.sup.Wait(wctx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	default:
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SendText sends text, split into several messages when needed, and returns
// a reference to the first one.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.send(ctx, chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

type sendResult struct {
	msg *tele.Message
	err error
}

// send runs one sendMessage call bounded by ctx. telebot takes no context, so
// a call abandoned at the deadline completes in the background under the
// HTTP client timeout.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, text string, opt *tele.SendOptions) (*tele.Message, error) {
	done := make(chan sendResult, 1)
	go func() {
		msg, err := a.bot.Send(to, text, opt)
		done <- sendResult{msg, err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

// SendLog implements logx.Sender for the operator log chat.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the bot command menu. It only calls Telegram
// when the list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	tcmds := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
		tcmds = append(tcmds, tele.Command{Text: c.Command, Description: c.Description})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(tcmds); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(tcmds)))
	return nil
}
