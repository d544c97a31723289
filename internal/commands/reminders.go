// Package commands implements the chat commands of the reminder bot.
package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
)

// Reminders is the lifecycle surface the handlers need; *reminder.Service
// implements it.
type Reminders interface {
	Create(ctx context.Context, req reminder.CreateRequest) (int64, error)
	Cancel(ctx context.Context, req reminder.CancelRequest) (reminder.Reminder, error)
	List(ctx context.Context, userID string) ([]reminder.Reminder, error)
}

type Deps struct {
	Reminders Reminders
	// Location is consulted on every call so timezone reloads apply at once.
	// nil means UTC.
	Location func() *time.Location
	Clock    func() time.Time
	// Status backs /status; the command is not registered when nil.
	Status StatusSource
}

type Handlers struct {
	d Deps
}

func New(d Deps) *Handlers {
	return &Handlers{d: d}
}

const remindUsage = "/remindme <when> [text]\n" +
	"  when: YYYY-MM-DD-HH-MM, 30m, 2h, 3d, 1w, 1y or 1h30m\n" +
	"/remindme 2h stretch\n" +
	"/remindme 2026-12-24-18-00 wrap presents"

const cancelUsage = "/cancel <id>\n" +
	"or reply /cancel to the message that created the reminder"

// Commands returns the router registrations.
func (h *Handlers) Commands() []router.Command {
	cmds := []router.Command{
		{
			Name:        "remindme",
			Aliases:     []string{"remind", "r"},
			Description: "set a reminder",
			Usage:       remindUsage,
			Timeout:     15 * time.Second,
			Handle:      h.remindMe,
		},
		{
			Name:        "cancel",
			Aliases:     []string{"forget"},
			Description: "cancel one of your reminders",
			Usage:       cancelUsage,
			Timeout:     15 * time.Second,
			Handle:      h.cancel,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"list"},
			Description: "list your pending reminders",
			Usage:       "/reminders",
			Timeout:     15 * time.Second,
			Handle:      h.list,
		},
		{
			Name:   "start",
			Hidden: true,
			Handle: h.start,
		},
	}
	if h.d.Status != nil {
		cmds = append(cmds, router.Command{
			Name:        "status",
			Description: "engine status",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      h.status,
		})
	}
	return cmds
}

func (h *Handlers) now() time.Time {
	if h.d.Clock != nil {
		return h.d.Clock()
	}
	return time.Now()
}

func (h *Handlers) location() *time.Location {
	if h.d.Location != nil {
		if loc := h.d.Location(); loc != nil {
			return loc
		}
	}
	return time.UTC
}

func userID(req *router.Request) string { return strconv.FormatInt(req.FromID, 10) }

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "👋 I send you a message when it is time.\n\n"+
		"<code>/remindme 2h stretch</code>\n"+
		"<code>/reminders</code> lists what is pending, <code>/cancel &lt;id&gt;</code> removes one.\n"+
		"Type <code>/help</code> for everything else.")
}

func (h *Handlers) remindMe(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Usage:\n<code>"+html.EscapeString(remindUsage)+"</code>")
	}
	loc := h.location()
	at, err := ParseWhen(req.Args[0], h.now(), loc)
	if err != nil {
		return req.Reply(ctx, "❌ Invalid date format. Use <code>YYYY-MM-DD-HH-MM</code> or an offset like <code>2h</code>, <code>3d</code>.")
	}
	_, content, _ := strings.Cut(req.Text, req.Args[0])
	content = strings.TrimSpace(content)

	id, err := h.d.Reminders.Create(ctx, reminder.CreateRequest{
		UserID:      userID(req),
		MessageID:   adapter.MessageID(kit.MessageRef{ChatID: req.Message.ChatID, MessageID: req.Message.ID}),
		Content:     content,
		TriggerTime: at,
		ChannelID:   adapter.ChannelID(req.Chat),
	})
	if err != nil {
		var ve *reminder.ValidationError
		if errors.As(err, &ve) {
			if ve.Field == "trigger_time" {
				return req.Reply(ctx, "❌ That time is not in the future.")
			}
			return req.Reply(ctx, "❌ "+html.EscapeString(ve.Error()))
		}
		_ = req.Reply(ctx, "⚠️ Could not save the reminder, please try again later.")
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Reminder <b>#%d</b> set for %s", id, html.EscapeString(formatWhen(at, loc))))
}

func (h *Handlers) cancel(ctx context.Context, req *router.Request) error {
	cr := reminder.CancelRequest{UserID: userID(req)}
	ref := ""
	switch {
	case len(req.Args) > 0:
		id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
		if err != nil || id <= 0 {
			return req.Reply(ctx, "Usage:\n<code>"+html.EscapeString(cancelUsage)+"</code>")
		}
		cr.ID = id
		ref = "#" + strconv.FormatInt(id, 10)
	case req.Message.ReplyTo != nil:
		cr.MessageID = adapter.MessageID(*req.Message.ReplyTo)
		ref = "for that message"
	default:
		return req.Reply(ctx, "Usage:\n<code>"+html.EscapeString(cancelUsage)+"</code>")
	}

	r, err := h.d.Reminders.Cancel(ctx, cr)
	switch {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("🗑 Reminder <b>#%d</b> cancelled.", r.ID))
	case reminder.IsNotFound(err):
		return req.Reply(ctx, "No pending reminder "+html.EscapeString(ref)+".")
	case reminder.IsUnauthorized(err):
		return req.Reply(ctx, "⛔ That reminder belongs to someone else.")
	case reminder.IsValidation(err):
		return req.Reply(ctx, "Usage:\n<code>"+html.EscapeString(cancelUsage)+"</code>")
	default:
		_ = req.Reply(ctx, "⚠️ Could not cancel the reminder, please try again later.")
		return err
	}
}

const listSnippet = 48

func (h *Handlers) list(ctx context.Context, req *router.Request) error {
	rows, err := h.d.Reminders.List(ctx, userID(req))
	if err != nil {
		_ = req.Reply(ctx, "⚠️ Could not load your reminders, please try again later.")
		return err
	}
	// In groups only this chat's reminders are shown; private chats see all.
	if req.Message.IsGroup {
		here := adapter.ChannelID(req.Chat)
		kept := rows[:0]
		for _, r := range rows {
			if r.ChannelID == here {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	if len(rows) == 0 {
		return req.Reply(ctx, "You have no pending reminders.")
	}

	loc := h.location()
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, "📋 <b>Pending reminders</b>")
	for _, r := range rows {
		line := fmt.Sprintf("<b>#%d</b> %s", r.ID, html.EscapeString(formatWhen(r.TriggerTime, loc)))
		if s := snippet(r.MessageContent, listSnippet); s != "" {
			line += " - " + html.EscapeString(s)
		}
		lines = append(lines, line)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func formatWhen(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04 MST")
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}
