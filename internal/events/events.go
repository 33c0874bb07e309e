// Package events announces committed trading actions to other systems.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/model"
)

// ActionEvent is published once per committed action.
type ActionEvent struct {
	ID         uuid.UUID        `json:"id"`
	Type       model.ActionType `json:"type"`
	ActionID   uuid.UUID        `json:"action_id"`
	ParentID   *uuid.UUID       `json:"parent_id,omitempty"`
	AuthorID   uuid.UUID        `json:"author_id"`
	UserID     uuid.UUID        `json:"user_id"`
	Devices    []int64          `json:"devices"`
	UserFromID *uuid.UUID       `json:"user_from_id,omitempty"`
	UserToID   *uuid.UUID       `json:"user_to_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// FromAction builds the event for a committed action.
func FromAction(a *model.Action) ActionEvent {
	ev := ActionEvent{
		ID:         uuid.New(),
		Type:       a.Type,
		ActionID:   a.ID,
		ParentID:   a.ParentID,
		AuthorID:   a.AuthorID,
		UserID:     a.UserID,
		Devices:    a.DeviceIDs,
		OccurredAt: a.CreatedAt,
	}
	if a.Trade != nil {
		from, to := a.Trade.UserFromID, a.Trade.UserToID
		ev.UserFromID = &from
		ev.UserToID = &to
	}
	return ev
}

// Publisher delivers action events. Publish must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, ev ActionEvent) error
	Close()
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev ActionEvent) error {
	p.logger.WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"type":      ev.Type,
		"action_id": ev.ActionID,
		"devices":   ev.Devices,
	}).Info("action event")
	return nil
}

func (p *LogPublisher) Close() {}
