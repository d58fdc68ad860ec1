package database

import (
	"context"
	"testing"
	"time"

	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListConversationsFallsBackToLastMessageTime(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := uuid.New()

	convA, err := db.FindOrCreateDirect(ctx, alice, uuid.New())
	require.NoError(t, err)
	convB, err := db.FindOrCreateDirect(ctx, alice, uuid.New())
	require.NoError(t, err)

	// A's record was bumped recently; B's record is stale but a fresher
	// message landed in it, so B must sort first.
	now := time.Now()
	db.conversations[convA].UpdatedAt = now.Add(-time.Minute)
	db.conversations[convA].LastMessageAt = now.Add(-time.Minute)
	db.conversations[convB].UpdatedAt = now.Add(-time.Hour)
	db.conversations[convB].LastMessageAt = now

	out, err := db.ListConversations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, convB, out[0].ID)
	assert.Equal(t, convA, out[1].ID)
}

func TestRaceInsertStoresRowAndReportsDuplicate(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	db.RaceInserts = true

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		Content:        "raced",
		CreatedAt:      time.Now(),
	}
	err := db.InsertMessage(ctx, msg)
	require.Error(t, err)
	assert.True(t, utils.IsPermissionRace(err))

	stored, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "raced", stored.Content)
}
