package models

import (
	"time"

	"github.com/google/uuid"
)

// AttachmentKind distinguishes the media carried by a message.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
	AttachmentVoice AttachmentKind = "voice"
)

// Profile is the identity resolved for a conversation participant.
type Profile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	AvatarURL string    `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PlaceholderProfile stands in for a participant whose profile could not be
// resolved. The directory renders it instead of failing the whole list.
func PlaceholderProfile(id uuid.UUID) *Profile {
	return &Profile{ID: id, Username: "Unknown user"}
}

// Conversation is a direct-message thread between two users. Membership is
// immutable once created and the record is never deleted.
type Conversation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Cached preview of the most recent message, bumped on every send.
	LastMessageText string    `json:"last_message_text,omitempty" db:"last_message_text"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
}

// LastActivity is the sort key for conversation lists: the record's own
// update time, falling back to the last message time when the record is
// stale.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt.After(c.UpdatedAt) {
		return c.LastMessageAt
	}
	return c.UpdatedAt
}

// Message is a single entry in a conversation.
type Message struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	ConversationID uuid.UUID      `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID      `json:"sender_id" db:"sender_id"`
	Content        string         `json:"content" db:"content"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	EditedAt       *time.Time     `json:"edited_at,omitempty" db:"edited_at"`
	IsRead         bool           `json:"is_read" db:"is_read"`
	AttachmentURL  string         `json:"attachment_url,omitempty" db:"attachment_url"`
	AttachmentType AttachmentKind `json:"attachment_type,omitempty" db:"attachment_type"`
	ReplyToID      *uuid.UUID     `json:"reply_to_id,omitempty" db:"reply_to_id"`
}

// HasAttachment reports whether the message carries media.
func (m *Message) HasAttachment() bool {
	return m.AttachmentURL != ""
}

// Clone returns a shallow copy so callers can hand out entries without
// exposing the store's own pointer.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// Reaction is an emoji attached to a message by a user. The composite key
// (message, user, emoji) allows several distinct emoji per user per message
// but at most one of each literal value.
type Reaction struct {
	MessageID uuid.UUID `json:"message_id" db:"message_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Emoji     string    `json:"emoji" db:"emoji"`
}

// PresenceRecord is the ephemeral per-conversation typing state of a user.
// It lives only as long as the presence channel subscription and is
// replaced wholesale by each sync snapshot, never merged.
type PresenceRecord struct {
	UserID         uuid.UUID `json:"user_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
}

// ConversationSummary is a directory row: the conversation joined with the
// participants' identities, the latest message and the unread flag.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	Participants []*Profile    `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	Unread       bool          `json:"unread"`
}
