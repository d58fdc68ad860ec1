package actors

import (
	"log"
	"time"

	"bayou-dm/internal/database"
	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	stdctx "context"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for DirectoryActor
type (
	ListConversationsMsg struct {
		UserID uuid.UUID `json:"userId"`
	}

	FindOrCreateDirectMsg struct {
		UserID  uuid.UUID `json:"userId"`
		OtherID uuid.UUID `json:"otherId"`
	}

	// UpsertDeepLinkMsg resolves a conversation reached through a profile
	// link: the target may not have a stored profile yet, so a stub is
	// written first and the conversation is created on demand.
	UpsertDeepLinkMsg struct {
		UserID   uuid.UUID `json:"userId"`
		OtherID  uuid.UUID `json:"otherId"`
		Username string    `json:"username"`
	}
)

// DirectoryActor serves the conversation list and the direct-conversation
// lookup. It holds no state of its own; every request reads through to the
// adapter so the directory reflects writes made by other nodes.
type DirectoryActor struct {
	db      database.DBAdapter
	metrics *utils.MetricsCollector
}

func NewDirectoryActor(db database.DBAdapter, metrics *utils.MetricsCollector) actor.Actor {
	return &DirectoryActor{db: db, metrics: metrics}
}

func (a *DirectoryActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *ListConversationsMsg:
		a.handleList(context, msg)
	case *FindOrCreateDirectMsg:
		a.handleFindOrCreate(context, msg)
	case *UpsertDeepLinkMsg:
		a.handleDeepLink(context, msg)
	}
}

func (a *DirectoryActor) handleList(context actor.Context, msg *ListConversationsMsg) {
	start := time.Now()
	ctx := stdctx.Background()

	conversations, err := a.db.ListConversations(ctx, msg.UserID)
	if err != nil {
		log.Printf("Failed to list conversations for user %s: %v", msg.UserID, err)
		context.Respond(utils.NewAppError(utils.ErrFetch, "Failed to load conversations", err))
		return
	}

	// Resolve every participant in one batch; a row whose profile is
	// missing gets a placeholder instead of failing the list.
	participants := make(map[uuid.UUID][]uuid.UUID, len(conversations))
	var allIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, conv := range conversations {
		ids, err := a.db.GetParticipants(ctx, conv.ID)
		if err != nil {
			// The row still renders: the requester is always a member and
			// the unresolvable peer degrades to an unknown placeholder.
			log.Printf("Failed to load participants for conversation %s: %v", conv.ID, err)
			ids = []uuid.UUID{msg.UserID, uuid.Nil}
		}
		participants[conv.ID] = ids
		for _, id := range ids {
			if id != uuid.Nil && !seen[id] {
				seen[id] = true
				allIDs = append(allIDs, id)
			}
		}
	}
	profiles, err := a.db.GetProfiles(ctx, allIDs)
	if err != nil {
		log.Printf("Failed to load profiles for directory of user %s: %v", msg.UserID, err)
		profiles = make(map[uuid.UUID]*models.Profile)
	}

	summaries := make([]*models.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summary := &models.ConversationSummary{Conversation: conv}
		for _, id := range participants[conv.ID] {
			if profile, ok := profiles[id]; ok {
				summary.Participants = append(summary.Participants, profile)
			} else {
				summary.Participants = append(summary.Participants, models.PlaceholderProfile(id))
			}
		}
		last, err := a.db.LastMessage(ctx, conv.ID)
		if err == nil && last != nil {
			summary.LastMessage = last
			summary.Unread = last.SenderID != msg.UserID && !last.IsRead
		}
		summaries = append(summaries, summary)
	}

	a.metrics.AddOperationLatency(utils.OpListDirectory, time.Since(start))
	context.Respond(summaries)
}

func (a *DirectoryActor) handleFindOrCreate(context actor.Context, msg *FindOrCreateDirectMsg) {
	if msg.UserID == uuid.Nil || msg.OtherID == uuid.Nil {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, "Both participants are required", nil))
		return
	}
	if msg.UserID == msg.OtherID {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, "Cannot open a conversation with yourself", nil))
		return
	}

	start := time.Now()
	ctx := stdctx.Background()
	id, err := a.db.FindOrCreateDirect(ctx, msg.UserID, msg.OtherID)
	if err != nil {
		log.Printf("FindOrCreateDirect failed for %s and %s: %v", msg.UserID, msg.OtherID, err)
		context.Respond(utils.NewAppError(utils.ErrDatabase, "Failed to open the conversation", err))
		return
	}

	conv, err := a.db.GetConversation(ctx, id)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrFetch, "Failed to load the conversation", err))
		return
	}
	a.metrics.AddOperationLatency(utils.OpFindOrCreate, time.Since(start))
	context.Respond(conv)
}

func (a *DirectoryActor) handleDeepLink(context actor.Context, msg *UpsertDeepLinkMsg) {
	ctx := stdctx.Background()

	if _, err := a.db.GetProfile(ctx, msg.OtherID); err != nil {
		if !utils.IsErrorCode(err, utils.ErrNotFound) {
			context.Respond(utils.NewAppError(utils.ErrFetch, "Failed to resolve the linked profile", err))
			return
		}
		stub := models.PlaceholderProfile(msg.OtherID)
		if msg.Username != "" {
			stub.Username = msg.Username
		}
		stub.CreatedAt = time.Now()
		if err := a.db.SaveProfile(ctx, stub); err != nil && !utils.IsPermissionRace(err) {
			context.Respond(utils.NewAppError(utils.ErrDatabase, "Failed to save the linked profile", err))
			return
		}
		log.Printf("Created stub profile %s from deep link", msg.OtherID)
	}

	a.handleFindOrCreate(context, &FindOrCreateDirectMsg{UserID: msg.UserID, OtherID: msg.OtherID})
}
