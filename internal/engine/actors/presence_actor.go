package actors

import (
	"log"
	"time"

	"bayou-dm/internal/models"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// DefaultTypingDebounce is how long a typing flag survives without a fresh
// signal before it is cleared.
const DefaultTypingDebounce = 2 * time.Second

// Message types for PresenceActor
type (
	UserConnectionMsg struct {
		UserID uuid.UUID `json:"userId"`
		Online bool      `json:"online"`
	}

	TypingMsg struct {
		UserID         uuid.UUID `json:"userId"`
		ConversationID uuid.UUID `json:"conversationId"`
	}

	GetPresenceMsg struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}

	GetOnlineUsersMsg struct{}

	typingExpiredMsg struct {
		UserID         uuid.UUID
		ConversationID uuid.UUID
		Gen            uint64
	}
)

type typingKey struct {
	userID         uuid.UUID
	conversationID uuid.UUID
}

// typingSlot is one armed debounce timer. The generation lets the expiry
// handler recognize a message queued by a timer that has since been
// replaced: a fired timer can race a fresh keystroke through the mailbox,
// and only the generation tells the two apart.
type typingSlot struct {
	timer *time.Timer
	gen   uint64
}

// PresenceActor owns the ephemeral presence layer: the online set and the
// per-conversation typing flags. Typing uses a single-slot timer per
// (user, conversation) pair; every fresh signal replaces the pending
// expiry, so the flag clears one debounce interval after the last
// keystroke rather than after the first.
type PresenceActor struct {
	hub      *websocket.Hub
	debounce time.Duration

	online    map[uuid.UUID]bool
	typing    map[typingKey]typingSlot
	typingGen uint64
}

func NewPresenceActor(hub *websocket.Hub, debounce time.Duration) actor.Actor {
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	return &PresenceActor{
		hub:      hub,
		debounce: debounce,
		online:   make(map[uuid.UUID]bool),
		typing:   make(map[typingKey]typingSlot),
	}
}

func (a *PresenceActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *UserConnectionMsg:
		a.handleConnection(msg)
	case *TypingMsg:
		a.handleTyping(context, msg)
	case *typingExpiredMsg:
		a.handleTypingExpired(msg)
	case *GetPresenceMsg:
		a.handleGetPresence(context, msg)
	case *GetOnlineUsersMsg:
		context.Respond(a.hub.GetOnlineUsers())
	}
}

func (a *PresenceActor) handleConnection(msg *UserConnectionMsg) {
	if msg.Online {
		a.online[msg.UserID] = true
		return
	}
	delete(a.online, msg.UserID)
	// Going offline drops every typing flag the user held.
	for key, slot := range a.typing {
		if key.userID == msg.UserID {
			slot.timer.Stop()
			delete(a.typing, key)
		}
	}
}

func (a *PresenceActor) handleTyping(context actor.Context, msg *TypingMsg) {
	key := typingKey{userID: msg.UserID, conversationID: msg.ConversationID}
	if slot, exists := a.typing[key]; exists {
		// Stop may return false when the old timer already fired and its
		// expiry is sitting in the mailbox; the generation bump below
		// makes that expiry a no-op.
		slot.timer.Stop()
	} else {
		a.hub.Track(models.PresenceRecord{
			UserID:         msg.UserID,
			ConversationID: msg.ConversationID,
			IsTyping:       true,
		})
	}

	a.typingGen++
	gen := a.typingGen
	self := context.Self()
	system := context.ActorSystem()
	a.typing[key] = typingSlot{
		gen: gen,
		timer: time.AfterFunc(a.debounce, func() {
			system.Root.Send(self, &typingExpiredMsg{
				UserID:         msg.UserID,
				ConversationID: msg.ConversationID,
				Gen:            gen,
			})
		}),
	}
}

func (a *PresenceActor) handleTypingExpired(msg *typingExpiredMsg) {
	key := typingKey{userID: msg.UserID, conversationID: msg.ConversationID}
	slot, exists := a.typing[key]
	if !exists || slot.gen != msg.Gen {
		return
	}
	delete(a.typing, key)
	a.hub.Track(models.PresenceRecord{
		UserID:         msg.UserID,
		ConversationID: msg.ConversationID,
		IsTyping:       false,
	})
	log.Printf("Typing flag expired for user %s in conversation %s", msg.UserID, msg.ConversationID)
}

func (a *PresenceActor) handleGetPresence(context actor.Context, msg *GetPresenceMsg) {
	var records []models.PresenceRecord
	for key := range a.typing {
		if key.conversationID == msg.ConversationID {
			records = append(records, models.PresenceRecord{
				UserID:         key.userID,
				ConversationID: key.conversationID,
				IsTyping:       true,
			})
		}
	}
	context.Respond(&models.PresenceEvent{
		ConversationID: msg.ConversationID,
		Records:        records,
	})
}
