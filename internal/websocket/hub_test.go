package websocket

import (
	"testing"
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFanOutSurvivesClientTeardown(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	userID := uuid.New()
	convID := uuid.New()
	client := NewClient(hub, userID, nil)

	hub.Register <- client
	hub.Subscribe(convID, client)
	require.Eventually(t, func() bool {
		return hub.IsUserOnline(userID)
	}, time.Second, 5*time.Millisecond)

	// Tear the connection down while the room subscription is still
	// attached; the unsubscribe happens on another goroutine in practice,
	// so fan-out can see the client after its buffer closed.
	hub.Unregister <- client
	require.Eventually(t, func() bool {
		return !hub.IsUserOnline(userID)
	}, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() {
		hub.PublishRow(&models.RowEvent{
			Kind:           models.EventInsert,
			Table:          models.TableMessages,
			ConversationID: convID,
			At:             time.Now(),
			Message:        &models.Message{ID: uuid.New(), ConversationID: convID},
		})
	})
	assert.NotPanics(t, func() {
		hub.Track(models.PresenceRecord{UserID: userID, ConversationID: convID, IsTyping: true})
	})
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	client := NewClient(NewHub(), uuid.New(), nil)

	assert.True(t, client.enqueue([]byte("a")))
	client.closeSend()
	assert.False(t, client.enqueue([]byte("b")))

	// Closing twice must stay a no-op.
	assert.NotPanics(t, client.closeSend)
}
