package reminder

import (
	"context"
	"time"
)

// Reminder is a single pending reminder row.
type Reminder struct {
	ID             int64
	UserID         string
	MessageID      string
	MessageContent string
	TriggerTime    time.Time // UTC
	ChannelID      string
}

// Due reports whether r should be dispatched at now.
func (r Reminder) Due(now time.Time) bool { return !r.TriggerTime.After(now) }

// Store is the persistence contract used by the engine.
//
// Every error returned by an implementation should be a *PersistenceError.
// Implementations never retry.
type Store interface {
	// Create inserts r and returns its id. A row that already exists for the same
	// (UserID, MessageID) is not duplicated; its id is returned instead.
	Create(ctx context.Context, r Reminder) (int64, error)
	// FetchDue returns rows with TriggerTime <= now ordered by (TriggerTime, ID).
	FetchDue(ctx context.Context, now time.Time) ([]Reminder, error)
	// Delete removes the row and reports whether one was actually removed.
	Delete(ctx context.Context, id int64) (bool, error)
	// FetchAllPending returns every row ordered by (TriggerTime, ID).
	FetchAllPending(ctx context.Context) ([]Reminder, error)

	Get(ctx context.Context, id int64) (Reminder, bool, error)
	FindByMessageID(ctx context.Context, messageID string) ([]Reminder, error)
	ListByUser(ctx context.Context, userID string) ([]Reminder, error)
}

// Delivery is what the gateway is asked to send for one reminder.
type Delivery struct {
	ReminderID int64
	ChannelID  string
	UserID     string
	MessageID  string
	Text       string
}

// Gateway sends reminder notifications to the chat platform.
//
// A nil error means the platform accepted the message. Failures should be
// classified with Transient or Permanent; anything else is treated as transient.
type Gateway interface {
	Send(ctx context.Context, d Delivery) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, d Delivery) error

func (f GatewayFunc) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func deliveryFor(r Reminder) Delivery {
	return Delivery{
		ReminderID: r.ID,
		ChannelID:  r.ChannelID,
		UserID:     r.UserID,
		MessageID:  r.MessageID,
		Text:       r.MessageContent,
	}
}
