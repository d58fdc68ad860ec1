package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the change class of a realtime row event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// EventTable names the entity an event refers to.
type EventTable string

const (
	TableMessages  EventTable = "messages"
	TableReactions EventTable = "reactions"
)

// RowEvent is the closed tagged variant for realtime change notifications:
// {insert, update, delete} x {messages, reactions}. Payloads are decoded
// exactly once, at the router boundary; everything downstream works with
// the typed entities. Delivery is at-least-once and may be reordered with
// respect to the local optimistic path, so all consumers must be
// idempotent.
type RowEvent struct {
	Kind           EventKind  `json:"kind"`
	Table          EventTable `json:"table"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	At             time.Time  `json:"at"`

	// Message is set for TableMessages insert/update events. Delete events
	// carry only MessageID.
	Message   *Message  `json:"message,omitempty"`
	MessageID uuid.UUID `json:"message_id,omitempty"`

	// Reaction is set for TableReactions events.
	Reaction *Reaction `json:"reaction,omitempty"`
}

// PresenceEvent is a full snapshot of a conversation's presence channel.
// Snapshots replace prior state entirely; a stale typing flag cannot
// survive a resync.
type PresenceEvent struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	Records        []PresenceRecord `json:"records"`
}

// OnlineEvent reports a user joining or leaving the realtime transport,
// independent of any conversation.
type OnlineEvent struct {
	UserID uuid.UUID `json:"user_id"`
	Online bool      `json:"online"`
}

// DecodeRowEvent parses a raw transport payload into a typed RowEvent,
// validating the tag combination.
func DecodeRowEvent(data []byte) (*RowEvent, error) {
	var evt RowEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("malformed row event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Validate checks that the event carries the payload its tags promise.
func (e *RowEvent) Validate() error {
	switch e.Table {
	case TableMessages:
		switch e.Kind {
		case EventInsert, EventUpdate:
			if e.Message == nil {
				return fmt.Errorf("message %s event without message payload", e.Kind)
			}
		case EventDelete:
			if e.MessageID == uuid.Nil {
				return fmt.Errorf("message delete event without message id")
			}
		default:
			return fmt.Errorf("unknown event kind %q", e.Kind)
		}
	case TableReactions:
		switch e.Kind {
		case EventInsert, EventDelete:
			if e.Reaction == nil {
				return fmt.Errorf("reaction %s event without reaction payload", e.Kind)
			}
		default:
			return fmt.Errorf("unsupported reaction event kind %q", e.Kind)
		}
	default:
		return fmt.Errorf("unknown event table %q", e.Table)
	}
	return nil
}
