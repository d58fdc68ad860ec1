// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pq error class for unique constraint violations. These are the only
// rejections mapped to PERMISSION_RACE.
const pqUniqueViolation = "23505"

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB *sqlx.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Ping the database to verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL!")

	return &PostgresDB{
		DB: db,
	}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	log.Println("Closing PostgreSQL connection...")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	// Profiles table
	_, err := p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			username VARCHAR(50) NOT NULL,
			avatar_url VARCHAR(255) DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create profiles table: %v", err)
	}

	// Conversations table. pair_key is the canonical participant pair;
	// its uniqueness is what de-duplicates concurrent find-or-create.
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			pair_key TEXT UNIQUE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			last_message_text TEXT DEFAULT '',
			last_message_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create conversations table: %v", err)
	}

	// Conversation participants table
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id UUID REFERENCES conversations(id),
			user_id UUID NOT NULL,
			joined_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (conversation_id, user_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create conversation_participants table: %v", err)
	}

	// Messages table
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID REFERENCES conversations(id) NOT NULL,
			sender_id UUID NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			edited_at TIMESTAMP WITH TIME ZONE,
			is_read BOOLEAN DEFAULT FALSE NOT NULL,
			attachment_url VARCHAR(512) DEFAULT '',
			attachment_type VARCHAR(16) DEFAULT '',
			reply_to_id UUID REFERENCES messages(id) ON DELETE SET NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %v", err)
	}

	// Reactions table. Deleting a message removes its reactions with it.
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reactions (
			message_id UUID REFERENCES messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			emoji TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id, emoji)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create reactions table: %v", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// GetProfile fetches a profile by user id.
func (p *PostgresDB) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	query := `SELECT id, username, avatar_url, created_at FROM profiles WHERE id = $1`
	var profile models.Profile
	err := p.DB.GetContext(ctx, &profile, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrNotFound, "profile not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profile", err)
	}
	return &profile, nil
}

// GetProfiles fetches several profiles at once. Missing ids are simply
// absent from the result; the caller decides whether that is an error.
func (p *PostgresDB) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Profile{}, nil
	}
	query := `SELECT id, username, avatar_url, created_at FROM profiles WHERE id = ANY($1)`
	var profiles []models.Profile
	err := p.DB.SelectContext(ctx, &profiles, query, pq.Array(ids))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profiles", err)
	}
	out := make(map[uuid.UUID]*models.Profile, len(profiles))
	for i := range profiles {
		out[profiles[i].ID] = &profiles[i]
	}
	return out, nil
}

// SaveProfile inserts or updates a profile.
func (p *PostgresDB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, username, avatar_url, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = $2, avatar_url = $3`
	_, err := p.DB.ExecContext(ctx, query, profile.ID, profile.Username, profile.AvatarURL, profile.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to save profile", err)
	}
	return nil
}

// FindOrCreateDirect returns the conversation shared by the pair, creating
// it if none exists. The conditional insert on the unique pair key makes
// concurrent calls from both participants converge on one conversation
// instead of racing a read-then-write.
func (p *PostgresDB) FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error) {
	pairKey := DirectPairKey(userA, userB)
	newID := uuid.New()
	now := time.Now()

	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, updated_at, last_message_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (pair_key) DO NOTHING
	`, newID, pairKey, now)
	if err != nil {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to create conversation", err)
	}

	var conversationID uuid.UUID
	err = p.DB.GetContext(ctx, &conversationID, `SELECT id FROM conversations WHERE pair_key = $1`, pairKey)
	if err != nil {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to resolve conversation by pair", err)
	}

	for _, userID := range []uuid.UUID{userA, userB} {
		_, err = p.DB.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, conversationID, userID)
		if err != nil {
			return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to add participant", err)
		}
	}

	return conversationID, nil
}

// GetConversation fetches a conversation by id.
func (p *PostgresDB) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `SELECT id, created_at, updated_at, last_message_text, last_message_at FROM conversations WHERE id = $1`
	var conv models.Conversation
	err := p.DB.GetContext(ctx, &conv, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrNotFound, "conversation not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query conversation", err)
	}
	return &conv, nil
}

// ListConversations returns the conversations the user participates in,
// most recently updated first.
func (p *PostgresDB) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at, c.last_message_text, c.last_message_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY GREATEST(c.updated_at, c.last_message_at) DESC`
	var conversations []models.Conversation
	err := p.DB.SelectContext(ctx, &conversations, query, userID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list conversations", err)
	}
	out := make([]*models.Conversation, len(conversations))
	for i := range conversations {
		out[i] = &conversations[i]
	}
	return out, nil
}

// GetParticipants returns the participant user ids of a conversation.
func (p *PostgresDB) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM conversation_participants WHERE conversation_id = $1`
	var ids []uuid.UUID
	err := p.DB.SelectContext(ctx, &ids, query, conversationID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query participants", err)
	}
	return ids, nil
}

// TouchConversation bumps updated_at and refreshes the last-message
// preview. Called on every successful send.
func (p *PostgresDB) TouchConversation(ctx context.Context, id uuid.UUID, preview string, at time.Time) error {
	query := `UPDATE conversations SET updated_at = $2, last_message_text = $3, last_message_at = $2 WHERE id = $1`
	_, err := p.DB.ExecContext(ctx, query, id, at, preview)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to touch conversation", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, sender_id, content, created_at, edited_at, is_read, attachment_url, attachment_type, reply_to_id`

// ListMessages returns the full ordered history of a conversation,
// ascending by created_at.
func (p *PostgresDB) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	var messages []models.Message
	err := p.DB.SelectContext(ctx, &messages, query, conversationID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrFetch, "failed to load message history", err)
	}
	out := make([]*models.Message, len(messages))
	for i := range messages {
		out[i] = &messages[i]
	}
	return out, nil
}

// GetMessage fetches a single message by id.
func (p *PostgresDB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	var msg models.Message
	err := p.DB.GetContext(ctx, &msg, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrNotFound, "message not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query message", err)
	}
	return &msg, nil
}

// GetMessages fetches several messages at once, used to hydrate reply
// references alongside a history load.
func (p *PostgresDB) GetMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Message, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Message{}, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ANY($1)`
	var messages []models.Message
	err := p.DB.SelectContext(ctx, &messages, query, pq.Array(ids))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query messages", err)
	}
	out := make(map[uuid.UUID]*models.Message, len(messages))
	for i := range messages {
		out[messages[i].ID] = &messages[i]
	}
	return out, nil
}

// InsertMessage persists a new message. A unique violation means the row
// already exists (a duplicate submission race) and is reported as
// PERMISSION_RACE; callers treat that as success.
func (p *PostgresDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at, is_read, attachment_url, attachment_type, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.DB.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt,
		msg.IsRead, msg.AttachmentURL, msg.AttachmentType, msg.ReplyToID)
	if err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.ErrPermissionRace, "message already delivered", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to insert message", err)
	}
	return nil
}

// UpdateMessageContent applies an edit.
func (p *PostgresDB) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	query := `UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1`
	result, err := p.DB.ExecContext(ctx, query, id, content, editedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update message", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewAppError(utils.ErrNotFound, "message not found", nil)
	}
	return nil
}

// MarkConversationRead flips every inbound message of the conversation to
// read for the given reader.
func (p *PostgresDB) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	query := `UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE`
	_, err := p.DB.ExecContext(ctx, query, conversationID, readerID)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to mark conversation read", err)
	}
	return nil
}

// DeleteMessage removes a message permanently. Reactions cascade. Deleting
// an id that is already gone is not an error.
func (p *PostgresDB) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete message", err)
	}
	return nil
}

// LastMessage returns the most recent message of a conversation, or nil
// if the conversation is still empty.
func (p *PostgresDB) LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT 1`
	var msg models.Message
	err := p.DB.GetContext(ctx, &msg, query, conversationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query last message", err)
	}
	return &msg, nil
}

// UpsertReaction records a reaction. The composite primary key plus
// conflict-ignore makes the call idempotent, not a toggle.
func (p *PostgresDB) UpsertReaction(ctx context.Context, reaction models.Reaction) error {
	query := `
		INSERT INTO reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`
	_, err := p.DB.ExecContext(ctx, query, reaction.MessageID, reaction.UserID, reaction.Emoji)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to upsert reaction", err)
	}
	return nil
}

// DeleteReaction removes a reaction record if present.
func (p *PostgresDB) DeleteReaction(ctx context.Context, reaction models.Reaction) error {
	query := `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`
	_, err := p.DB.ExecContext(ctx, query, reaction.MessageID, reaction.UserID, reaction.Emoji)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete reaction", err)
	}
	return nil
}

// ListReactions returns all reactions of a conversation grouped by
// message, for the coalesced re-fetch path.
func (p *PostgresDB) ListReactions(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID][]models.Reaction, error) {
	query := `
		SELECT r.message_id, r.user_id, r.emoji
		FROM reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = $1`
	var reactions []models.Reaction
	err := p.DB.SelectContext(ctx, &reactions, query, conversationID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list reactions", err)
	}
	out := make(map[uuid.UUID][]models.Reaction)
	for _, r := range reactions {
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, nil
}
