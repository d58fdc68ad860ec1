package actors

import (
	"context"
	"testing"
	"time"

	"bayou-dm/internal/database"
	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type sessionFixture struct {
	system *actor.ActorSystem
	db     *database.MemoryDB
	pid    *actor.PID
	selfID uuid.UUID
	peerID uuid.UUID
	convID uuid.UUID
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	system := actor.NewActorSystem()
	db := database.NewMemoryDB()
	hub := websocket.NewHub()
	go hub.Run()

	selfID := uuid.New()
	peerID := uuid.New()
	convID, err := db.FindOrCreateDirect(context.Background(), selfID, peerID)
	require.NoError(t, err)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewSessionActor(db, hub, utils.NewMetricsCollector())
	})

	return &sessionFixture{
		system: system,
		db:     db,
		pid:    system.Root.Spawn(props),
		selfID: selfID,
		peerID: peerID,
		convID: convID,
	}
}

func (f *sessionFixture) request(t *testing.T, msg interface{}) interface{} {
	t.Helper()
	future := f.system.Root.RequestFuture(f.pid, msg, testTimeout)
	result, err := future.Result()
	require.NoError(t, err)
	return result
}

func (f *sessionFixture) open(t *testing.T) *SessionSnapshot {
	t.Helper()
	result := f.request(t, &OpenSessionMsg{UserID: f.selfID, ConversationID: f.convID})
	snapshot, ok := result.(*SessionSnapshot)
	require.True(t, ok, "expected snapshot, got %T: %v", result, result)
	return snapshot
}

func (f *sessionFixture) seedMessage(t *testing.T, senderID uuid.UUID, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: f.convID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	}
	require.NoError(t, f.db.InsertMessage(context.Background(), msg))
	return msg
}

func TestOpenLoadsHistoryAndMarksInboundRead(t *testing.T) {
	f := newSessionFixture(t)
	f.seedMessage(t, f.selfID, "hi", time.Now().Add(-2*time.Minute))
	inbound := f.seedMessage(t, f.peerID, "hello back", time.Now().Add(-time.Minute))

	snapshot := f.open(t)

	assert.Equal(t, "live", snapshot.State)
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "hi", snapshot.Messages[0].Content)
	for _, m := range snapshot.Messages {
		if m.ID == inbound.ID {
			assert.True(t, m.IsRead, "inbound message should be read on open")
		}
	}
}

func TestOpenFailsWithFetchError(t *testing.T) {
	f := newSessionFixture(t)
	f.db.FailLoads = true

	result := f.request(t, &OpenSessionMsg{UserID: f.selfID, ConversationID: f.convID})

	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrFetch, appErr.Code)

	// The failed open leaves the session closed.
	result = f.request(t, &GetSessionMsg{})
	appErr, ok = result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrNotReady, appErr.Code)
}

func TestCommandsBeforeOpenReturnNotReady(t *testing.T) {
	f := newSessionFixture(t)

	for _, msg := range []interface{}{
		&SendMessageMsg{Content: "early"},
		&EditMessageMsg{MessageID: uuid.New(), Content: "x"},
		&RemoveMessageMsg{MessageID: uuid.New()},
		&ReactMsg{MessageID: uuid.New(), Emoji: "👍"},
		&SearchMessagesMsg{Query: "x"},
	} {
		result := f.request(t, msg)
		appErr, ok := result.(*utils.AppError)
		require.True(t, ok, "expected error for %T, got %T", msg, result)
		assert.Equal(t, utils.ErrNotReady, appErr.Code)
	}
}

func TestSendConfirmsWithoutMoving(t *testing.T) {
	f := newSessionFixture(t)
	f.seedMessage(t, f.peerID, "first", time.Now().Add(-time.Minute))
	f.open(t)

	result := f.request(t, &SendMessageMsg{Content: "optimistic"})
	pending, ok := result.(*models.Message)
	require.True(t, ok)
	assert.Equal(t, "optimistic", pending.Content)
	assert.Equal(t, f.selfID, pending.SenderID)

	// The remote write completes off the mailbox; the entry keeps its
	// position and swaps to the confirmed id.
	assert.Eventually(t, func() bool {
		messages, err := f.db.ListMessages(context.Background(), f.convID)
		return err == nil && len(messages) == 2
	}, testTimeout, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		result := f.request(t, &GetSessionMsg{})
		snapshot, ok := result.(*SessionSnapshot)
		if !ok || len(snapshot.Messages) != 2 {
			return false
		}
		last := snapshot.Messages[1]
		return last.Content == "optimistic" && last.ID != pending.ID
	}, testTimeout, 10*time.Millisecond)
}

func TestSendSurvivesDuplicateKeyRejection(t *testing.T) {
	f := newSessionFixture(t)
	f.open(t)
	f.db.RaceInserts = true

	result := f.request(t, &SendMessageMsg{Content: "raced"})
	pending, ok := result.(*models.Message)
	require.True(t, ok)

	// A duplicate-key rejection means the row already landed, so the
	// optimistic entry is confirmed rather than reverted.
	assert.Eventually(t, func() bool {
		result := f.request(t, &GetSessionMsg{})
		snapshot, ok := result.(*SessionSnapshot)
		if !ok || len(snapshot.Messages) != 1 {
			return false
		}
		only := snapshot.Messages[0]
		return only.Content == "raced" && only.ID != pending.ID
	}, testTimeout, 10*time.Millisecond)

	// Still exactly one entry once the dust settles, and no failure was
	// surfaced for it.
	result = f.request(t, &GetSessionMsg{})
	snapshot, ok := result.(*SessionSnapshot)
	require.True(t, ok)
	assert.Len(t, snapshot.Messages, 1)
}

func TestEditInsideWindow(t *testing.T) {
	f := newSessionFixture(t)
	own := f.seedMessage(t, f.selfID, "tpyo", time.Now().Add(-time.Minute))
	f.open(t)

	result := f.request(t, &EditMessageMsg{MessageID: own.ID, Content: "typo"})
	updated, ok := result.(*models.Message)
	require.True(t, ok, "expected message, got %T: %v", result, result)
	assert.Equal(t, "typo", updated.Content)
	require.NotNil(t, updated.EditedAt)

	stored, err := f.db.GetMessage(context.Background(), own.ID)
	require.NoError(t, err)
	assert.Equal(t, "typo", stored.Content)
}

func TestEditDeniedAfterWindow(t *testing.T) {
	f := newSessionFixture(t)
	stale := f.seedMessage(t, f.selfID, "old", time.Now().Add(-16*time.Minute))
	f.open(t)

	result := f.request(t, &EditMessageMsg{MessageID: stale.ID, Content: "new"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrEditDenied, appErr.Code)
}

func TestEditDeniedForInboundMessage(t *testing.T) {
	f := newSessionFixture(t)
	theirs := f.seedMessage(t, f.peerID, "theirs", time.Now())
	f.open(t)

	result := f.request(t, &EditMessageMsg{MessageID: theirs.ID, Content: "mine now"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrEditDenied, appErr.Code)
}

func TestRemoveOnlyOwnMessages(t *testing.T) {
	f := newSessionFixture(t)
	own := f.seedMessage(t, f.selfID, "mine", time.Now().Add(-time.Hour))
	theirs := f.seedMessage(t, f.peerID, "theirs", time.Now())
	f.open(t)

	result := f.request(t, &RemoveMessageMsg{MessageID: theirs.ID})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrForbidden, appErr.Code)

	// Deletes have no time window.
	result = f.request(t, &RemoveMessageMsg{MessageID: own.ID})
	assert.Equal(t, true, result)

	_, err := f.db.GetMessage(context.Background(), own.ID)
	assert.Error(t, err)
}

func TestReactionsRoundTrip(t *testing.T) {
	f := newSessionFixture(t)
	msg := f.seedMessage(t, f.peerID, "react to me", time.Now())
	f.open(t)

	assert.Equal(t, true, f.request(t, &ReactMsg{MessageID: msg.ID, Emoji: "👍"}))
	// Idempotent: same reaction twice stays a single record.
	assert.Equal(t, true, f.request(t, &ReactMsg{MessageID: msg.ID, Emoji: "👍"}))

	reactions, ok := f.request(t, &GetReactionsMsg{MessageID: msg.ID}).([]models.Reaction)
	require.True(t, ok)
	require.Len(t, reactions, 1)
	assert.Equal(t, "👍", reactions[0].Emoji)

	assert.Equal(t, true, f.request(t, &UnreactMsg{MessageID: msg.ID, Emoji: "👍"}))
	reactions, _ = f.request(t, &GetReactionsMsg{MessageID: msg.ID}).([]models.Reaction)
	assert.Empty(t, reactions)
}

func TestRemoteReactionEventTriggersRefetch(t *testing.T) {
	f := newSessionFixture(t)
	msg := f.seedMessage(t, f.peerID, "popular", time.Now())
	f.open(t)

	// The peer reacts on another node: the row lands in the store and only
	// an event reaches this session.
	peerReaction := models.Reaction{MessageID: msg.ID, UserID: f.peerID, Emoji: "😂"}
	require.NoError(t, f.db.UpsertReaction(context.Background(), peerReaction))

	evt := &models.RowEvent{
		Kind:           models.EventInsert,
		Table:          models.TableReactions,
		ConversationID: f.convID,
		At:             time.Now(),
		Reaction:       &peerReaction,
	}
	// At-least-once delivery: duplicates collapse into one refetch.
	f.system.Root.Send(f.pid, &RemoteRowMsg{Event: evt})
	f.system.Root.Send(f.pid, &RemoteRowMsg{Event: evt})

	assert.Eventually(t, func() bool {
		reactions, ok := f.request(t, &GetReactionsMsg{MessageID: msg.ID}).([]models.Reaction)
		return ok && len(reactions) == 1 && reactions[0].Emoji == "😂"
	}, testTimeout, 10*time.Millisecond)
}

func TestRemoteEventsForOtherConversationsAreDropped(t *testing.T) {
	f := newSessionFixture(t)
	f.open(t)

	stray := &models.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       f.peerID,
		Content:        "wrong room",
		CreatedAt:      time.Now(),
	}
	f.system.Root.Send(f.pid, &RemoteRowMsg{Event: &models.RowEvent{
		Kind:           models.EventInsert,
		Table:          models.TableMessages,
		ConversationID: stray.ConversationID,
		Message:        stray,
	}})

	snapshot, ok := f.request(t, &GetSessionMsg{}).(*SessionSnapshot)
	require.True(t, ok)
	assert.Empty(t, snapshot.Messages)
}

func TestRemoteInsertIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	f.open(t)

	incoming := &models.Message{
		ID:             uuid.New(),
		ConversationID: f.convID,
		SenderID:       f.peerID,
		Content:        "delivered twice",
		CreatedAt:      time.Now(),
	}
	evt := &RemoteRowMsg{Event: &models.RowEvent{
		Kind:           models.EventInsert,
		Table:          models.TableMessages,
		ConversationID: f.convID,
		Message:        incoming,
	}}
	f.system.Root.Send(f.pid, evt)
	f.system.Root.Send(f.pid, evt)

	assert.Eventually(t, func() bool {
		snapshot, ok := f.request(t, &GetSessionMsg{}).(*SessionSnapshot)
		return ok && len(snapshot.Messages) == 1 && snapshot.Messages[0].IsRead
	}, testTimeout, 10*time.Millisecond)
}

func TestSearchFiltersLoadedSequence(t *testing.T) {
	f := newSessionFixture(t)
	f.seedMessage(t, f.selfID, "Fishing on Saturday?", time.Now().Add(-3*time.Minute))
	f.seedMessage(t, f.peerID, "only if the weather holds", time.Now().Add(-2*time.Minute))
	f.seedMessage(t, f.peerID, "FISHING it is", time.Now().Add(-time.Minute))
	f.open(t)

	results, ok := f.request(t, &SearchMessagesMsg{Query: "fishing"}).([]*models.Message)
	require.True(t, ok)
	assert.Len(t, results, 2)

	// Search never touches the live sequence.
	snapshot, _ := f.request(t, &GetSessionMsg{}).(*SessionSnapshot)
	assert.Len(t, snapshot.Messages, 3)
}

func TestCloseThenCommandReturnsNotReady(t *testing.T) {
	f := newSessionFixture(t)
	f.open(t)

	assert.Equal(t, true, f.request(t, &CloseSessionMsg{}))

	result := f.request(t, &SendMessageMsg{Content: "too late"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrNotReady, appErr.Code)
}

func TestReloadPicksUpMissedMessages(t *testing.T) {
	f := newSessionFixture(t)
	f.open(t)

	// A message written while the transport was down never produced an
	// event; only a reload can recover it.
	f.seedMessage(t, f.peerID, "missed you", time.Now())
	f.system.Root.Send(f.pid, &ReloadSessionMsg{})

	assert.Eventually(t, func() bool {
		snapshot, ok := f.request(t, &GetSessionMsg{}).(*SessionSnapshot)
		return ok && len(snapshot.Messages) == 1
	}, testTimeout, 10*time.Millisecond)
}
