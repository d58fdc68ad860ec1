package database

import (
	"context"
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
)

// DBAdapter defines the common interface for the remote message store.
// PostgreSQL and MongoDB backends implement it, plus an in-memory variant
// for tests and the simulator. All duplicate-submission rejections are
// reported as an AppError with code PERMISSION_RACE so callers can treat
// them as already-applied writes.
type DBAdapter interface {
	// Connection
	Close(ctx context.Context) error

	// Profile methods
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error

	// Conversation methods
	FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	TouchConversation(ctx context.Context, id uuid.UUID, preview string, at time.Time) error

	// Message methods
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Message, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error
	MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)

	// Reaction methods
	UpsertReaction(ctx context.Context, reaction models.Reaction) error
	DeleteReaction(ctx context.Context, reaction models.Reaction) error
	ListReactions(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID][]models.Reaction, error)
}

// DirectPairKey canonicalizes a participant pair so both sides of a
// conversation compute the same key. Uniqueness on this key is what makes
// FindOrCreateDirect safe under concurrent calls from both participants.
func DirectPairKey(userA, userB uuid.UUID) string {
	a, b := userA.String(), userB.String()
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
