package actors

import (
	"testing"
	"time"

	"bayou-dm/internal/models"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnPresence(t *testing.T, debounce time.Duration) (*actor.ActorSystem, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	hub := websocket.NewHub()
	go hub.Run()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPresenceActor(hub, debounce)
	})
	return system, system.Root.Spawn(props)
}

func typingUsers(t *testing.T, system *actor.ActorSystem, pid *actor.PID, convID uuid.UUID) []models.PresenceRecord {
	t.Helper()
	future := system.Root.RequestFuture(pid, &GetPresenceMsg{ConversationID: convID}, testTimeout)
	result, err := future.Result()
	require.NoError(t, err)
	evt, ok := result.(*models.PresenceEvent)
	require.True(t, ok)
	return evt.Records
}

func TestTypingFlagExpiresAfterDebounce(t *testing.T) {
	system, pid := spawnPresence(t, 50*time.Millisecond)
	userID := uuid.New()
	convID := uuid.New()

	system.Root.Send(pid, &TypingMsg{UserID: userID, ConversationID: convID})

	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 1
	}, testTimeout, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 0
	}, testTimeout, 5*time.Millisecond)
}

func TestTypingSignalRefreshesTheTimer(t *testing.T) {
	system, pid := spawnPresence(t, 80*time.Millisecond)
	userID := uuid.New()
	convID := uuid.New()

	// Keep typing faster than the debounce; the flag must survive well
	// past the first expiry slot.
	for i := 0; i < 4; i++ {
		system.Root.Send(pid, &TypingMsg{UserID: userID, ConversationID: convID})
		time.Sleep(40 * time.Millisecond)
	}
	assert.Len(t, typingUsers(t, system, pid, convID), 1)

	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 0
	}, testTimeout, 5*time.Millisecond)
}

func TestStaleExpiryDoesNotClearRefreshedFlag(t *testing.T) {
	system, pid := spawnPresence(t, time.Minute)
	userID := uuid.New()
	convID := uuid.New()

	// Two keystrokes: the second replaces the first timer, so an expiry
	// the first timer queued before it was replaced is stale.
	system.Root.Send(pid, &TypingMsg{UserID: userID, ConversationID: convID})
	system.Root.Send(pid, &TypingMsg{UserID: userID, ConversationID: convID})
	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 1
	}, testTimeout, 5*time.Millisecond)

	system.Root.Send(pid, &typingExpiredMsg{UserID: userID, ConversationID: convID, Gen: 1})

	// The stale expiry must not touch the flag held by the live timer.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, typingUsers(t, system, pid, convID), 1)

	// A matching expiry still clears it.
	system.Root.Send(pid, &typingExpiredMsg{UserID: userID, ConversationID: convID, Gen: 2})
	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 0
	}, testTimeout, 5*time.Millisecond)
}

func TestGoingOfflineClearsTypingFlags(t *testing.T) {
	system, pid := spawnPresence(t, time.Minute)
	userID := uuid.New()
	convID := uuid.New()

	system.Root.Send(pid, &TypingMsg{UserID: userID, ConversationID: convID})
	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 1
	}, testTimeout, 5*time.Millisecond)

	system.Root.Send(pid, &UserConnectionMsg{UserID: userID, Online: false})
	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convID)) == 0
	}, testTimeout, 5*time.Millisecond)
}

func TestTypingIsScopedPerConversation(t *testing.T) {
	system, pid := spawnPresence(t, time.Minute)
	userID := uuid.New()
	convA := uuid.New()
	convB := uuid.New()

	system.Root.Send(pid, &TypingMsg{UserID: userID, ConversationID: convA})

	assert.Eventually(t, func() bool {
		return len(typingUsers(t, system, pid, convA)) == 1
	}, testTimeout, 5*time.Millisecond)
	assert.Empty(t, typingUsers(t, system, pid, convB))
}
