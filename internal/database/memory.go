// internal/database/memory.go
package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
)

// MemoryDB is an in-memory DBAdapter used by tests and the simulator. It
// reproduces the two properties the engine depends on: duplicate message
// inserts fail with PERMISSION_RACE, and find-or-create is keyed by the
// canonical participant pair.
type MemoryDB struct {
	mu sync.RWMutex

	profiles      map[uuid.UUID]*models.Profile
	conversations map[uuid.UUID]*models.Conversation
	participants  map[uuid.UUID][]uuid.UUID // conversation -> user ids
	pairs         map[string]uuid.UUID      // pair key -> conversation
	messages      map[uuid.UUID]*models.Message
	reactions     map[uuid.UUID][]models.Reaction // message -> reactions

	// FailLoads makes history loads fail, to exercise FetchError paths.
	FailLoads bool

	// RaceInserts makes every message insert report a duplicate-key
	// rejection after storing the row, the way a concurrent writer that
	// won the race would leave the database.
	RaceInserts bool

	// FailParticipants makes participant lookups fail, to exercise the
	// directory's degraded rendering.
	FailParticipants bool
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		profiles:      make(map[uuid.UUID]*models.Profile),
		conversations: make(map[uuid.UUID]*models.Conversation),
		participants:  make(map[uuid.UUID][]uuid.UUID),
		pairs:         make(map[string]uuid.UUID),
		messages:      make(map[uuid.UUID]*models.Message),
		reactions:     make(map[uuid.UUID][]models.Reaction),
	}
}

func (db *MemoryDB) Close(ctx context.Context) error { return nil }

func (db *MemoryDB) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if p, ok := db.profiles[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, utils.NewAppError(utils.ErrNotFound, "profile not found", nil)
}

func (db *MemoryDB) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[uuid.UUID]*models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := db.profiles[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (db *MemoryDB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *profile
	db.profiles[profile.ID] = &cp
	return nil
}

func (db *MemoryDB) FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error) {
	pairKey := DirectPairKey(userA, userB)

	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.pairs[pairKey]; ok {
		return existing, nil
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:            uuid.New(),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	db.conversations[conv.ID] = conv
	db.participants[conv.ID] = []uuid.UUID{userA, userB}
	db.pairs[pairKey] = conv.ID
	return conv.ID, nil
}

func (db *MemoryDB) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if c, ok := db.conversations[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, utils.NewAppError(utils.ErrNotFound, "conversation not found", nil)
}

func (db *MemoryDB) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.FailLoads {
		return nil, utils.NewAppError(utils.ErrFetch, "failed to load conversations", nil)
	}
	var out []*models.Conversation
	for convID, members := range db.participants {
		for _, member := range members {
			if member == userID {
				cp := *db.conversations[convID]
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

func (db *MemoryDB) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.FailParticipants {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query participants", nil)
	}
	members, ok := db.participants[conversationID]
	if !ok {
		return nil, utils.NewAppError(utils.ErrNotFound, "conversation not found", nil)
	}
	return append([]uuid.UUID(nil), members...), nil
}

func (db *MemoryDB) TouchConversation(ctx context.Context, id uuid.UUID, preview string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.conversations[id]; ok {
		c.UpdatedAt = at
		c.LastMessageText = preview
		c.LastMessageAt = at
	}
	return nil
}

func (db *MemoryDB) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.FailLoads {
		return nil, utils.NewAppError(utils.ErrFetch, "failed to load message history", nil)
	}
	var out []*models.Message
	for _, m := range db.messages {
		if m.ConversationID == conversationID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (db *MemoryDB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if m, ok := db.messages[id]; ok {
		return m.Clone(), nil
	}
	return nil, utils.NewAppError(utils.ErrNotFound, "message not found", nil)
}

func (db *MemoryDB) GetMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[uuid.UUID]*models.Message, len(ids))
	for _, id := range ids {
		if m, ok := db.messages[id]; ok {
			out[id] = m.Clone()
		}
	}
	return out, nil
}

func (db *MemoryDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.messages[msg.ID]; exists {
		return utils.NewAppError(utils.ErrPermissionRace, "message already delivered", nil)
	}
	db.messages[msg.ID] = msg.Clone()
	if db.RaceInserts {
		return utils.NewAppError(utils.ErrPermissionRace, "message already delivered", nil)
	}
	return nil
}

func (db *MemoryDB) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.messages[id]
	if !ok {
		return utils.NewAppError(utils.ErrNotFound, "message not found", nil)
	}
	m.Content = content
	at := editedAt
	m.EditedAt = &at
	return nil
}

func (db *MemoryDB) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, m := range db.messages {
		if m.ConversationID == conversationID && m.SenderID != readerID {
			m.IsRead = true
		}
	}
	return nil
}

func (db *MemoryDB) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.messages, id)
	delete(db.reactions, id)
	return nil
}

func (db *MemoryDB) LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var last *models.Message
	for _, m := range db.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Clone(), nil
}

func (db *MemoryDB) UpsertReaction(ctx context.Context, reaction models.Reaction) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.reactions[reaction.MessageID] {
		if existing.UserID == reaction.UserID && existing.Emoji == reaction.Emoji {
			return nil
		}
	}
	db.reactions[reaction.MessageID] = append(db.reactions[reaction.MessageID], reaction)
	return nil
}

func (db *MemoryDB) DeleteReaction(ctx context.Context, reaction models.Reaction) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	rs := db.reactions[reaction.MessageID]
	for i, existing := range rs {
		if existing.UserID == reaction.UserID && existing.Emoji == reaction.Emoji {
			db.reactions[reaction.MessageID] = append(rs[:i], rs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (db *MemoryDB) ListReactions(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID][]models.Reaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[uuid.UUID][]models.Reaction)
	for messageID, rs := range db.reactions {
		if m, ok := db.messages[messageID]; ok && m.ConversationID == conversationID {
			out[messageID] = append([]models.Reaction(nil), rs...)
		}
	}
	return out, nil
}
