package websocket

import (
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
)

// EventType represents different WebSocket event types
type EventType string

const (
	// Row-change events
	EventMessageInserted EventType = "message_inserted"
	EventMessageUpdated  EventType = "message_updated"
	EventMessageDeleted  EventType = "message_deleted"
	EventReactionChanged EventType = "reaction_changed"

	// Presence events
	EventPresenceSync EventType = "presence_sync"
	EventUserOnline   EventType = "user_online"
	EventUserOffline  EventType = "user_offline"

	// Notifications
	EventNotification EventType = "notification"

	// Error events
	EventError EventType = "error"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// PresencePayload represents a user presence payload
type PresencePayload struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// NotificationPayload is the fire-and-forget notification body.
type NotificationPayload struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

// ErrorPayload represents an error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncomingFrame represents frames received from clients: conversation
// subscription management and typing signals.
type IncomingFrame struct {
	Type           string    `json:"type"` // subscribe, unsubscribe, typing
	ConversationID uuid.UUID `json:"conversation_id"`
}

func rowEventType(evt *models.RowEvent) EventType {
	if evt.Table == models.TableReactions {
		return EventReactionChanged
	}
	switch evt.Kind {
	case models.EventInsert:
		return EventMessageInserted
	case models.EventUpdate:
		return EventMessageUpdated
	default:
		return EventMessageDeleted
	}
}
