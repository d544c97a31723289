package adapter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
)

// Gateway delivers reminders through a Messenger and classifies Telegram
// failures into transient and permanent delivery errors.
type Gateway struct {
	m kit.Messenger
}

func NewGateway(m kit.Messenger) *Gateway {
	return &Gateway{m: m}
}

func (g *Gateway) Send(ctx context.Context, d reminder.Delivery) error {
	to, err := ParseChannelID(d.ChannelID)
	if err != nil {
		return reminder.Permanent(err)
	}
	_, err = g.m.SendText(ctx, to, FormatReminder(d), &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true})
	return classifySendError(err)
}

// FormatReminder renders the user-facing reminder text (HTML).
func FormatReminder(d reminder.Delivery) string {
	var b strings.Builder
	b.WriteString("⏰ Hey ")
	if id, err := strconv.ParseInt(d.UserID, 10, 64); err == nil && id > 0 {
		fmt.Fprintf(&b, `<a href="tg://user?id=%d">there</a>`, id)
	} else {
		b.WriteString("there")
	}
	content := strings.TrimSpace(d.Text)
	if content == "" {
		b.WriteString(", you asked me to remind you about something now.")
	} else {
		b.WriteString(", you asked me to remind you about this:\n")
		b.WriteString(html.EscapeString(content))
	}
	if ref := messageNumber(d.MessageID); ref != "" {
		b.WriteString("\n<i>reminder #")
		b.WriteString(strconv.FormatInt(d.ReminderID, 10))
		b.WriteString(", set by message ")
		b.WriteString(html.EscapeString(ref))
		b.WriteString("</i>")
	}
	return b.String()
}

// messageNumber extracts the per-chat message number from "<chat>:<msg>".
func messageNumber(messageID string) string {
	if i := strings.LastIndexByte(messageID, ':'); i >= 0 {
		return messageID[i+1:]
	}
	return ""
}

// ChannelID encodes a chat target as stored in reminders: "<chat>" or
// "<chat>:<thread>".
func ChannelID(to kit.ChatTarget) string {
	if to.ThreadID != 0 {
		return strconv.FormatInt(to.ChatID, 10) + ":" + strconv.Itoa(to.ThreadID)
	}
	return strconv.FormatInt(to.ChatID, 10)
}

// ParseChannelID is the inverse of ChannelID.
func ParseChannelID(s string) (kit.ChatTarget, error) {
	chatPart, threadPart, hasThread := strings.Cut(strings.TrimSpace(s), ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return kit.ChatTarget{}, fmt.Errorf("malformed channel id %q", s)
	}
	to := kit.ChatTarget{ChatID: chatID}
	if hasThread {
		thread, err := strconv.Atoi(threadPart)
		if err != nil || thread < 0 {
			return kit.ChatTarget{}, fmt.Errorf("malformed channel id %q", s)
		}
		to.ThreadID = thread
	}
	return to, nil
}

// MessageID encodes the originating message as "<chat>:<msg>"; Telegram
// message ids are only unique within a chat.
func MessageID(ref kit.MessageRef) string {
	return strconv.FormatInt(ref.ChatID, 10) + ":" + strconv.Itoa(ref.MessageID)
}

var permanentSendErrors = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrNotStartedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
	tele.ErrChatNotFound,
	tele.ErrNoRightsToSend,
}

// telebot reports API errors it has no sentinel for as "telegram: <desc> (<code>)".
var apiCodeRe = regexp.MustCompile(`\((\d{3})\)$`)

// classifySendError maps a send error onto the reminder delivery taxonomy.
// nil stays nil. Unknown errors are transient so the reminder is kept.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return reminder.TransientAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return reminder.TransientAfter(err, time.Duration(floodPtr.RetryAfter)*time.Second)
	}
	// The chat moved to a supergroup; the stored channel id is dead.
	var migrated tele.GroupError
	var migratedPtr *tele.GroupError
	if errors.As(err, &migrated) || errors.As(err, &migratedPtr) {
		return reminder.Permanent(err)
	}
	for _, p := range permanentSendErrors {
		if errors.Is(err, p) {
			return reminder.Permanent(err)
		}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return classifyCode(apiErr.Code, err)
	}
	if m := apiCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return classifyCode(code, err)
	}
	// Network failures, timeouts and anything unrecognised.
	return reminder.Transient(err)
}

func classifyCode(code int, err error) error {
	switch {
	case code == 429 || code >= 500:
		return reminder.Transient(err)
	case code >= 400:
		return reminder.Permanent(err)
	default:
		return reminder.Transient(err)
	}
}
