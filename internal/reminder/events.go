package reminder

import (
	"time"

	"remindbot/internal/eventbus"
)

const (
	EventCreated           = "reminder.created"
	EventCancelled         = "reminder.cancelled"
	EventDelivered         = "reminder.delivered"
	EventRedeliveryPending = "reminder.redelivery_pending"
	EventRetry             = "reminder.retry"
	EventDropped           = "reminder.dropped"
	EventSkipped           = "reminder.skipped"
	EventScanCompleted     = "reminder.scan_completed"
)

// Event is the payload published on the bus for reminder lifecycle changes.
type Event struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	TriggerTime time.Time `json:"trigger_time,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func publish(bus eventbus.Bus, typ string, r Reminder, err error) {
	if bus == nil {
		return
	}
	ev := Event{ID: r.ID, UserID: r.UserID, ChannelID: r.ChannelID, TriggerTime: r.TriggerTime}
	if err != nil {
		ev.Error = err.Error()
	}
	bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
