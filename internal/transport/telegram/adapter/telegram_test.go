package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// newTestAdapter points an offline bot at srv, so no getMe call is made.
func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Token: "123:test", URL: srv.URL, Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return newAdapter(b, logx.Nop())
}

func writeSent(w http.ResponseWriter, chatID int64) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":41,"date":0,"chat":{"id":%d,"type":"private"}}}`, chatID)
}

func TestSendTextReturnsFirstMessageRef(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeSent(w, 5)
	}))
	t.Cleanup(srv.Close)

	a := newTestAdapter(t, srv)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 5}, "hello", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref != (kit.MessageRef{ChatID: 5, MessageID: 41}) {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestGatewaySendStopsAtDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		writeSent(w, 5)
	}))
	// Cleanups run in reverse: unblock the handler, then close the server.
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	g := NewGateway(newTestAdapter(t, srv))
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.Send(ctx, reminder.Delivery{ReminderID: 1, ChannelID: "5", UserID: "5", Text: "late"})
	took := time.Since(start)

	if took > 2*time.Second {
		t.Fatalf("Send took %v after a 150ms deadline", took)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	var transient *reminder.TransientDeliveryError
	if !errors.As(err, &transient) {
		t.Fatalf("error = %T, want transient", err)
	}
}
