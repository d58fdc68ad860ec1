package actors

import (
	"log"
	"time"

	"bayou-dm/internal/database"
	"bayou-dm/internal/models"
	"bayou-dm/internal/notify"
	"bayou-dm/internal/store"
	"bayou-dm/internal/utils"
	"bayou-dm/internal/websocket"

	stdctx "context"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// SessionState is the lifecycle of one open conversation.
type SessionState int

const (
	SessionClosed SessionState = iota
	SessionLoading
	SessionLive
)

func (s SessionState) String() string {
	switch s {
	case SessionLoading:
		return "loading"
	case SessionLive:
		return "live"
	default:
		return "closed"
	}
}

// Message types for SessionActor
type (
	OpenSessionMsg struct {
		UserID         uuid.UUID `json:"userId"`
		ConversationID uuid.UUID `json:"conversationId"`
	}

	CloseSessionMsg struct{}

	GetSessionMsg struct{}

	SendMessageMsg struct {
		Content        string                `json:"content"`
		AttachmentURL  string                `json:"attachmentUrl"`
		AttachmentType models.AttachmentKind `json:"attachmentType"`
		ReplyToID      *uuid.UUID            `json:"replyToId"`
	}

	EditMessageMsg struct {
		MessageID uuid.UUID `json:"messageId"`
		Content   string    `json:"content"`
	}

	RemoveMessageMsg struct {
		MessageID uuid.UUID `json:"messageId"`
	}

	ReactMsg struct {
		MessageID uuid.UUID `json:"messageId"`
		Emoji     string    `json:"emoji"`
	}

	UnreactMsg struct {
		MessageID uuid.UUID `json:"messageId"`
		Emoji     string    `json:"emoji"`
	}

	GetReactionsMsg struct {
		MessageID uuid.UUID `json:"messageId"`
	}

	SearchMessagesMsg struct {
		Query string `json:"query"`
	}

	ReloadSessionMsg struct{}

	// RemoteRowMsg carries a decoded realtime change into the session.
	RemoteRowMsg struct {
		Event *models.RowEvent
	}

	// SessionSnapshot is the reply to open, reload and get requests.
	SessionSnapshot struct {
		State     string                          `json:"state"`
		Messages  []*models.Message               `json:"messages"`
		Reactions map[uuid.UUID][]models.Reaction `json:"reactions"`
	}

	// Internal completions for the optimistic send.
	sendCompletedMsg struct {
		TempID uuid.UUID
		Saved  *models.Message
	}

	sendFailedMsg struct {
		TempID uuid.UUID
		Err    error
	}

	refetchReactionsMsg struct{}
)

// SessionActor owns one user's view of one open conversation: the ordered
// message sequence, its reactions and the optimistic write pipeline. All
// store mutation happens inside Receive, so the optimistic path and the
// realtime feed are serialized through the mailbox and need no locks.
type SessionActor struct {
	db       database.DBAdapter
	hub      *websocket.Hub
	metrics  *utils.MetricsCollector
	notifier *notify.Notifier

	userID         uuid.UUID
	conversationID uuid.UUID
	peerID         uuid.UUID

	state SessionState
	store *store.Store

	// True while a coalesced reaction refetch is queued in the mailbox.
	reactionsDirty bool
}

func NewSessionActor(db database.DBAdapter, hub *websocket.Hub, metrics *utils.MetricsCollector) actor.Actor {
	return &SessionActor{
		db:       db,
		hub:      hub,
		metrics:  metrics,
		notifier: notify.NewNotifier(hub),
		state:    SessionClosed,
	}
}

func (a *SessionActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *OpenSessionMsg:
		a.handleOpen(context, msg)
	case *CloseSessionMsg:
		a.handleClose(context)
	case *GetSessionMsg:
		if a.state != SessionLive {
			context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
			return
		}
		context.Respond(a.snapshot())
	case *SendMessageMsg:
		a.handleSend(context, msg)
	case *sendCompletedMsg:
		a.handleSendCompleted(msg)
	case *sendFailedMsg:
		a.handleSendFailed(msg)
	case *EditMessageMsg:
		a.handleEdit(context, msg)
	case *RemoveMessageMsg:
		a.handleRemove(context, msg)
	case *ReactMsg:
		a.handleReact(context, msg)
	case *UnreactMsg:
		a.handleUnreact(context, msg)
	case *GetReactionsMsg:
		if a.state != SessionLive {
			context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
			return
		}
		context.Respond(a.store.Reactions(msg.MessageID))
	case *SearchMessagesMsg:
		if a.state != SessionLive {
			context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
			return
		}
		context.Respond(a.store.Search(msg.Query))
	case *ReloadSessionMsg:
		a.handleReload(context)
	case *RemoteRowMsg:
		a.handleRemoteRow(context, msg.Event)
	case *refetchReactionsMsg:
		a.handleRefetchReactions()
	}
}

func (a *SessionActor) handleOpen(context actor.Context, msg *OpenSessionMsg) {
	start := time.Now()
	if a.state == SessionLive && a.conversationID == msg.ConversationID {
		context.Respond(a.snapshot())
		return
	}

	a.userID = msg.UserID
	a.conversationID = msg.ConversationID
	a.state = SessionLoading
	a.store = store.New(msg.UserID, msg.ConversationID)

	if err := a.loadHistory(); err != nil {
		a.state = SessionClosed
		log.Printf("Failed to load conversation %s for user %s: %v", msg.ConversationID, msg.UserID, err)
		context.Respond(utils.NewAppError(utils.ErrFetch, "Failed to load conversation history", err))
		return
	}

	a.state = SessionLive
	a.metrics.AddOperationLatency(utils.OpLoadHistory, time.Since(start))
	log.Printf("Session live: user %s, conversation %s, %d messages", a.userID, a.conversationID, a.store.Len())
	context.Respond(a.snapshot())
}

// loadHistory fetches the full message sequence, hydrates reply targets
// that fell outside it, pulls the reaction snapshot and persists the read
// flag for inbound messages.
func (a *SessionActor) loadHistory() error {
	ctx := stdctx.Background()

	messages, err := a.db.ListMessages(ctx, a.conversationID)
	if err != nil {
		return err
	}

	present := make(map[uuid.UUID]bool, len(messages))
	for _, m := range messages {
		present[m.ID] = true
	}
	var missing []uuid.UUID
	for _, m := range messages {
		if m.ReplyToID != nil && !present[*m.ReplyToID] {
			missing = append(missing, *m.ReplyToID)
		}
	}
	replies := make(map[uuid.UUID]*models.Message)
	if len(missing) > 0 {
		// Reply targets may have been deleted; resolve what still exists.
		replies, err = a.db.GetMessages(ctx, missing)
		if err != nil {
			log.Printf("Failed to hydrate %d reply targets in conversation %s: %v", len(missing), a.conversationID, err)
			replies = make(map[uuid.UUID]*models.Message)
		}
	}

	reactions, err := a.db.ListReactions(ctx, a.conversationID)
	if err != nil {
		return err
	}

	if err := a.db.MarkConversationRead(ctx, a.conversationID, a.userID); err != nil {
		log.Printf("Failed to persist read flags for conversation %s: %v", a.conversationID, err)
	}

	a.peerID = uuid.Nil
	if participants, err := a.db.GetParticipants(ctx, a.conversationID); err == nil {
		for _, id := range participants {
			if id != a.userID {
				a.peerID = id
				break
			}
		}
	} else {
		log.Printf("Failed to resolve participants of conversation %s: %v", a.conversationID, err)
	}

	a.store.Load(messages, replies, reactions)
	return nil
}

func (a *SessionActor) handleClose(context actor.Context) {
	if a.state != SessionClosed {
		log.Printf("Session closed: user %s, conversation %s", a.userID, a.conversationID)
	}
	a.state = SessionClosed
	a.store = nil
	a.reactionsDirty = false
	context.Respond(true)
}

func (a *SessionActor) handleSend(context actor.Context, msg *SendMessageMsg) {
	if a.state != SessionLive {
		context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
		return
	}
	if msg.Content == "" && msg.AttachmentURL == "" {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, "Message needs content or an attachment", nil))
		return
	}

	content := msg.Content
	if content == "" && msg.AttachmentType == models.AttachmentVoice {
		content = "Voice message"
	}

	now := time.Now()
	pending := &models.Message{
		ID:             uuid.New(),
		ConversationID: a.conversationID,
		SenderID:       a.userID,
		Content:        content,
		CreatedAt:      now,
		AttachmentURL:  msg.AttachmentURL,
		AttachmentType: msg.AttachmentType,
		ReplyToID:      msg.ReplyToID,
	}
	a.store.AppendPending(pending)
	a.metrics.AddOperationLatency(utils.OpSendMessage, time.Since(now))
	context.Respond(pending.Clone())

	// The remote write runs off the mailbox; its completion races the
	// transport's INSERT event and either order confirms the entry once.
	confirmed := pending.Clone()
	confirmed.ID = uuid.New()
	self := context.Self()
	system := context.ActorSystem()
	db := a.db
	go func() {
		ctx := stdctx.Background()
		err := db.InsertMessage(ctx, confirmed)
		if err != nil && !utils.IsPermissionRace(err) {
			system.Root.Send(self, &sendFailedMsg{TempID: pending.ID, Err: err})
			return
		}
		if err != nil {
			log.Printf("Duplicate send tolerated for message %s: %v", confirmed.ID, err)
		}
		preview := confirmed.Content
		if preview == "" {
			preview = "Attachment"
		}
		if err := db.TouchConversation(ctx, confirmed.ConversationID, preview, confirmed.CreatedAt); err != nil {
			log.Printf("Failed to bump conversation %s preview: %v", confirmed.ConversationID, err)
		}
		system.Root.Send(self, &sendCompletedMsg{TempID: pending.ID, Saved: confirmed})
	}()
}

func (a *SessionActor) handleSendCompleted(msg *sendCompletedMsg) {
	if a.state != SessionLive {
		return
	}
	a.store.ConfirmSend(msg.TempID, msg.Saved)
	a.hub.PublishRow(&models.RowEvent{
		Kind:           models.EventInsert,
		Table:          models.TableMessages,
		ConversationID: msg.Saved.ConversationID,
		At:             msg.Saved.CreatedAt,
		Message:        msg.Saved,
	})
	if a.peerID != uuid.Nil {
		a.notifier.MessageReceived(a.peerID, msg.Saved)
	}
}

func (a *SessionActor) handleSendFailed(msg *sendFailedMsg) {
	if a.state != SessionLive {
		return
	}
	content, ok := a.store.FailSend(msg.TempID)
	if !ok {
		return
	}
	log.Printf("Send failed for user %s in conversation %s: %v", a.userID, a.conversationID, msg.Err)
	a.metrics.IncrementErrors()
	// Hand the content back so the client can restore its compose field.
	a.hub.NotifyUser(a.userID, "send_failed", map[string]interface{}{
		"conversation_id": a.conversationID,
		"content":         content,
	})
}

func (a *SessionActor) handleEdit(context actor.Context, msg *EditMessageMsg) {
	if a.state != SessionLive {
		context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
		return
	}
	now := time.Now()
	if !a.store.CanEdit(msg.MessageID, now) {
		context.Respond(utils.NewAppError(utils.ErrEditDenied, "Message can no longer be edited", nil))
		return
	}

	prev := a.store.Get(msg.MessageID)
	prevContent, prevEditedAt := prev.Content, prev.EditedAt
	a.store.ApplyEdit(msg.MessageID, msg.Content, now)

	if err := a.db.UpdateMessageContent(stdctx.Background(), msg.MessageID, msg.Content, now); err != nil {
		a.store.RevertEdit(msg.MessageID, prevContent, prevEditedAt)
		log.Printf("Edit failed for message %s: %v", msg.MessageID, err)
		context.Respond(utils.NewAppError(utils.ErrDatabase, "Failed to save the edit", err))
		return
	}

	updated := a.store.Get(msg.MessageID).Clone()
	a.metrics.AddOperationLatency(utils.OpEditMessage, time.Since(now))
	a.hub.PublishRow(&models.RowEvent{
		Kind:           models.EventUpdate,
		Table:          models.TableMessages,
		ConversationID: a.conversationID,
		At:             now,
		Message:        updated,
	})
	context.Respond(updated)
}

func (a *SessionActor) handleRemove(context actor.Context, msg *RemoveMessageMsg) {
	if a.state != SessionLive {
		context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
		return
	}
	entry := a.store.Get(msg.MessageID)
	if entry == nil {
		context.Respond(utils.NewAppError(utils.ErrNotFound, "Message not found", nil))
		return
	}
	if entry.SenderID != a.userID {
		context.Respond(utils.NewAppError(utils.ErrForbidden, "Only the sender can delete a message", nil))
		return
	}

	start := time.Now()
	if err := a.db.DeleteMessage(stdctx.Background(), msg.MessageID); err != nil {
		log.Printf("Delete failed for message %s: %v", msg.MessageID, err)
		context.Respond(utils.NewAppError(utils.ErrDatabase, "Failed to delete the message", err))
		return
	}

	a.store.Remove(msg.MessageID)
	a.metrics.AddOperationLatency(utils.OpDeleteMessage, time.Since(start))
	a.hub.PublishRow(&models.RowEvent{
		Kind:           models.EventDelete,
		Table:          models.TableMessages,
		ConversationID: a.conversationID,
		At:             time.Now(),
		MessageID:      msg.MessageID,
	})
	context.Respond(true)
}

func (a *SessionActor) handleReact(context actor.Context, msg *ReactMsg) {
	if a.state != SessionLive {
		context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
		return
	}
	if a.store.Get(msg.MessageID) == nil {
		context.Respond(utils.NewAppError(utils.ErrNotFound, "Message not found", nil))
		return
	}

	start := time.Now()
	reaction := models.Reaction{MessageID: msg.MessageID, UserID: a.userID, Emoji: msg.Emoji}
	if err := a.db.UpsertReaction(stdctx.Background(), reaction); err != nil && !utils.IsPermissionRace(err) {
		context.Respond(utils.NewAppError(utils.ErrDatabase, "Failed to save the reaction", err))
		return
	}

	a.store.UpsertReaction(reaction)
	a.metrics.AddOperationLatency(utils.OpReact, time.Since(start))
	a.hub.PublishRow(&models.RowEvent{
		Kind:           models.EventInsert,
		Table:          models.TableReactions,
		ConversationID: a.conversationID,
		At:             time.Now(),
		Reaction:       &reaction,
	})
	context.Respond(true)
}

func (a *SessionActor) handleUnreact(context actor.Context, msg *UnreactMsg) {
	if a.state != SessionLive {
		context.Respond(utils.NewAppError(utils.ErrNotReady, "Conversation is not loaded yet", nil))
		return
	}

	reaction := models.Reaction{MessageID: msg.MessageID, UserID: a.userID, Emoji: msg.Emoji}
	if err := a.db.DeleteReaction(stdctx.Background(), reaction); err != nil {
		context.Respond(utils.NewAppError(utils.ErrDatabase, "Failed to remove the reaction", err))
		return
	}

	a.store.RemoveReaction(reaction)
	a.hub.PublishRow(&models.RowEvent{
		Kind:           models.EventDelete,
		Table:          models.TableReactions,
		ConversationID: a.conversationID,
		At:             time.Now(),
		Reaction:       &reaction,
	})
	context.Respond(true)
}

// handleReload rebuilds the whole sequence from the remote store. The
// transport calls this after a reconnect, when any number of events may
// have been missed.
func (a *SessionActor) handleReload(context actor.Context) {
	if a.state == SessionClosed {
		return
	}
	if err := a.loadHistory(); err != nil {
		log.Printf("Reload failed for conversation %s: %v", a.conversationID, err)
		a.metrics.IncrementErrors()
		return
	}
	a.state = SessionLive
	log.Printf("Session reloaded: conversation %s, %d messages", a.conversationID, a.store.Len())
}

func (a *SessionActor) handleRemoteRow(context actor.Context, evt *models.RowEvent) {
	if a.state != SessionLive || evt == nil || evt.ConversationID != a.conversationID {
		return
	}

	switch evt.Table {
	case models.TableMessages:
		switch evt.Kind {
		case models.EventInsert:
			a.store.ApplyRemoteInsert(evt.Message)
		case models.EventUpdate:
			a.store.ApplyRemoteUpdate(evt.Message)
		case models.EventDelete:
			a.store.ApplyRemoteDelete(evt.MessageID)
		}
	case models.TableReactions:
		// Reaction events only flag the snapshot stale; any number of them
		// collapse into one refetch because the mailbox already holds the
		// marker message.
		if !a.reactionsDirty {
			a.reactionsDirty = true
			context.Send(context.Self(), &refetchReactionsMsg{})
		}
	}
}

func (a *SessionActor) handleRefetchReactions() {
	a.reactionsDirty = false
	if a.state != SessionLive {
		return
	}
	start := time.Now()
	snapshot, err := a.db.ListReactions(stdctx.Background(), a.conversationID)
	if err != nil {
		log.Printf("Reaction refetch failed for conversation %s: %v", a.conversationID, err)
		a.metrics.IncrementErrors()
		return
	}
	a.store.ReplaceReactions(snapshot)
	a.metrics.AddOperationLatency(utils.OpReactionRefetch, time.Since(start))
}

func (a *SessionActor) snapshot() *SessionSnapshot {
	snap := &SessionSnapshot{
		State:     a.state.String(),
		Reactions: make(map[uuid.UUID][]models.Reaction),
	}
	if a.store == nil {
		return snap
	}
	snap.Messages = a.store.Snapshot()
	for _, m := range snap.Messages {
		if rs := a.store.Reactions(m.ID); len(rs) > 0 {
			snap.Reactions[m.ID] = rs
		}
	}
	return snap
}
