package reminder

import (
	"context"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// CreateRequest is a user's request for a new reminder. TriggerTime must
// already be an absolute instant.
type CreateRequest struct {
	UserID      string
	MessageID   string
	Content     string
	TriggerTime time.Time
	ChannelID   string
}

// CancelRequest identifies a reminder by ID or by the originating MessageID.
// Exactly one of the two must be set.
type CancelRequest struct {
	UserID    string
	ID        int64
	MessageID string
}

// Service is the create/cancel/list surface used by the command layer.
type Service struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock
}

func NewService(store Store, log logx.Logger, bus eventbus.Bus, clock Clock) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, bus: bus, clock: clock}
}

// Create validates req and persists it. Nothing is written when validation fails.
//
// A repeated request for the same (UserID, MessageID) while the first one is
// still pending returns the existing id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (int64, error) {
	r, err := s.validate(req)
	if err != nil {
		return 0, err
	}
	id, err := s.store.Create(ctx, r)
	if err != nil {
		return 0, persistErr("create", err)
	}
	r.ID = id
	s.log.Info("reminder created",
		logx.Int64("id", id),
		logx.String("user", r.UserID),
		logx.String("channel", r.ChannelID),
		logx.Time("trigger_time", r.TriggerTime),
	)
	publish(s.bus, EventCreated, r, nil)
	return id, nil
}

func (s *Service) validate(req CreateRequest) (Reminder, error) {
	r := Reminder{
		UserID:         strings.TrimSpace(req.UserID),
		MessageID:      strings.TrimSpace(req.MessageID),
		MessageContent: req.Content,
		ChannelID:      strings.TrimSpace(req.ChannelID),
		TriggerTime:    req.TriggerTime.UTC().Truncate(time.Millisecond),
	}
	switch {
	case r.UserID == "":
		return Reminder{}, &ValidationError{Field: "user_id", Reason: "is required"}
	case r.MessageID == "":
		return Reminder{}, &ValidationError{Field: "message_id", Reason: "is required"}
	case r.ChannelID == "":
		return Reminder{}, &ValidationError{Field: "channel_id", Reason: "is required"}
	case req.TriggerTime.IsZero():
		return Reminder{}, &ValidationError{Field: "trigger_time", Reason: "is required"}
	}
	if !r.TriggerTime.After(s.clock.now()) {
		return Reminder{}, &ValidationError{Field: "trigger_time", Reason: "must be in the future"}
	}
	return r, nil
}

// Cancel deletes a pending reminder owned by req.UserID and returns it.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (Reminder, error) {
	user := strings.TrimSpace(req.UserID)
	msgID := strings.TrimSpace(req.MessageID)
	if user == "" {
		return Reminder{}, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if (req.ID == 0) == (msgID == "") {
		return Reminder{}, &ValidationError{Field: "id", Reason: "exactly one of id or message_id is required"}
	}

	var (
		target Reminder
		ref    string
	)
	if req.ID != 0 {
		ref = "#" + strconv.FormatInt(req.ID, 10)
		r, ok, err := s.store.Get(ctx, req.ID)
		if err != nil {
			return Reminder{}, persistErr("get", err)
		}
		if !ok {
			return Reminder{}, &NotFoundError{Ref: ref}
		}
		if r.UserID != user {
			return Reminder{}, &AuthorizationError{ID: r.ID, UserID: user}
		}
		target = r
	} else {
		ref = "message " + msgID
		rows, err := s.store.FindByMessageID(ctx, msgID)
		if err != nil {
			return Reminder{}, persistErr("find_by_message_id", err)
		}
		if len(rows) == 0 {
			return Reminder{}, &NotFoundError{Ref: ref}
		}
		found := false
		for _, r := range rows {
			if r.UserID == user {
				target, found = r, true
				break
			}
		}
		if !found {
			return Reminder{}, &AuthorizationError{ID: rows[0].ID, UserID: user}
		}
	}

	removed, err := s.store.Delete(ctx, target.ID)
	if err != nil {
		return Reminder{}, persistErr("delete", err)
	}
	if !removed {
		// Dispatched (or cancelled) between the lookup and the delete.
		return Reminder{}, &NotFoundError{Ref: ref}
	}
	s.log.Info("reminder cancelled", logx.Int64("id", target.ID), logx.String("user", user))
	publish(s.bus, EventCancelled, target, nil)
	return target, nil
}

// List returns the pending reminders of userID in trigger order.
func (s *Service) List(ctx context.Context, userID string) ([]Reminder, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	rows, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, persistErr("list_by_user", err)
	}
	return rows, nil
}
