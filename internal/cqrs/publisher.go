package cqrs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/internal/domain/proximity"
)

// EventPublisher interface for publishing events
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// SessionEvents stamps and publishes the events of one session
type SessionEvents struct {
	eventPublisher EventPublisher
	mode           string
	sessionID      string
}

// NewSessionEvents creates a publisher helper bound to a session
func NewSessionEvents(eventPublisher EventPublisher, mode, sessionID string) *SessionEvents {
	return &SessionEvents{
		eventPublisher: eventPublisher,
		mode:           mode,
		sessionID:      sessionID,
	}
}

// FrameUpdated publishes a new frame
func (h *SessionEvents) FrameUpdated(ctx context.Context, frame display.Frame) error {
	event := &FrameUpdatedEvent{
		Mode:      h.mode,
		SessionID: h.sessionID,
		Frame:     frame,
		Timestamp: time.Now(),
		RequestID: uuid.New().String(),
	}

	return h.eventPublisher.Publish(ctx, event)
}

// TargetsRefreshed publishes a regenerated target set
func (h *SessionEvents) TargetsRefreshed(ctx context.Context, refresh *proximity.Refresh) error {
	if refresh == nil {
		return nil
	}

	event := &TargetsRefreshedEvent{
		Mode:       h.mode,
		SessionID:  h.sessionID,
		Generation: refresh.Generation,
		Trigger:    string(refresh.Trigger),
		Pivot:      refresh.Pivot,
		Targets:    refresh.Targets,
		Reached:    refresh.Reached,
		Timestamp:  time.Now(),
		RequestID:  uuid.New().String(),
	}

	return h.eventPublisher.Publish(ctx, event)
}
