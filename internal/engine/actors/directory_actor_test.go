package actors

import (
	"context"
	"testing"
	"time"

	"bayou-dm/internal/database"
	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnDirectory(t *testing.T) (*actor.ActorSystem, *database.MemoryDB, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	db := database.NewMemoryDB()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewDirectoryActor(db, utils.NewMetricsCollector())
	})
	return system, db, system.Root.Spawn(props)
}

func requestDirectory(t *testing.T, system *actor.ActorSystem, pid *actor.PID, msg interface{}) interface{} {
	t.Helper()
	future := system.Root.RequestFuture(pid, msg, testTimeout)
	result, err := future.Result()
	require.NoError(t, err)
	return result
}

func TestFindOrCreateDirectReturnsOneConversation(t *testing.T) {
	system, _, pid := spawnDirectory(t)
	alice := uuid.New()
	bob := uuid.New()

	first, ok := requestDirectory(t, system, pid, &FindOrCreateDirectMsg{UserID: alice, OtherID: bob}).(*models.Conversation)
	require.True(t, ok)

	// Both orderings resolve to the same row.
	second, ok := requestDirectory(t, system, pid, &FindOrCreateDirectMsg{UserID: bob, OtherID: alice}).(*models.Conversation)
	require.True(t, ok)
	assert.Equal(t, first.ID, second.ID)
}

func TestFindOrCreateDirectRejectsSelfAndNil(t *testing.T) {
	system, _, pid := spawnDirectory(t)
	alice := uuid.New()

	result := requestDirectory(t, system, pid, &FindOrCreateDirectMsg{UserID: alice, OtherID: alice})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrInvalidInput, appErr.Code)

	result = requestDirectory(t, system, pid, &FindOrCreateDirectMsg{UserID: alice, OtherID: uuid.Nil})
	appErr, ok = result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrInvalidInput, appErr.Code)
}

func TestListConversationsUsesPlaceholderProfiles(t *testing.T) {
	system, db, pid := spawnDirectory(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	require.NoError(t, db.SaveProfile(ctx, &models.Profile{ID: alice, Username: "alice"}))
	// Bob has no stored profile.

	convID, err := db.FindOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	require.NoError(t, db.InsertMessage(ctx, &models.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       bob,
		Content:        "unseen",
		CreatedAt:      time.Now(),
	}))

	summaries, ok := requestDirectory(t, system, pid, &ListConversationsMsg{UserID: alice}).([]*models.ConversationSummary)
	require.True(t, ok)
	require.Len(t, summaries, 1)

	summary := summaries[0]
	assert.Equal(t, convID, summary.Conversation.ID)
	assert.True(t, summary.Unread)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, "unseen", summary.LastMessage.Content)

	names := map[uuid.UUID]string{}
	for _, p := range summary.Participants {
		names[p.ID] = p.Username
	}
	assert.Equal(t, "alice", names[alice])
	assert.Equal(t, "Unknown user", names[bob])
}

func TestListRendersRowWhenParticipantsFail(t *testing.T) {
	system, db, pid := spawnDirectory(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	require.NoError(t, db.SaveProfile(ctx, &models.Profile{ID: alice, Username: "alice"}))
	convID, err := db.FindOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	db.FailParticipants = true
	summaries, ok := requestDirectory(t, system, pid, &ListConversationsMsg{UserID: alice}).([]*models.ConversationSummary)
	require.True(t, ok)
	require.Len(t, summaries, 1)

	// The row degrades but is not dropped: the requester keeps their
	// identity and the unresolvable peer renders as a placeholder.
	summary := summaries[0]
	assert.Equal(t, convID, summary.Conversation.ID)
	require.Len(t, summary.Participants, 2)
	names := map[uuid.UUID]string{}
	for _, p := range summary.Participants {
		names[p.ID] = p.Username
	}
	assert.Equal(t, "alice", names[alice])
	assert.Equal(t, "Unknown user", names[uuid.Nil])
}

func TestListConversationsFailureIsFetchError(t *testing.T) {
	system, db, pid := spawnDirectory(t)
	db.FailLoads = true

	result := requestDirectory(t, system, pid, &ListConversationsMsg{UserID: uuid.New()})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrFetch, appErr.Code)
}

func TestDeepLinkCreatesStubProfile(t *testing.T) {
	system, db, pid := spawnDirectory(t)
	alice := uuid.New()
	linked := uuid.New()

	conv, ok := requestDirectory(t, system, pid, &UpsertDeepLinkMsg{
		UserID:   alice,
		OtherID:  linked,
		Username: "from_link",
	}).(*models.Conversation)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, conv.ID)

	profile, err := db.GetProfile(context.Background(), linked)
	require.NoError(t, err)
	assert.Equal(t, "from_link", profile.Username)

	// A second deep link reuses both the profile and the conversation.
	again, ok := requestDirectory(t, system, pid, &UpsertDeepLinkMsg{
		UserID:   alice,
		OtherID:  linked,
		Username: "renamed",
	}).(*models.Conversation)
	require.True(t, ok)
	assert.Equal(t, conv.ID, again.ID)

	profile, err = db.GetProfile(context.Background(), linked)
	require.NoError(t, err)
	assert.Equal(t, "from_link", profile.Username, "existing profile is not overwritten")
}
