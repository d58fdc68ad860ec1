package notify

import (
	"log"

	"bayou-dm/internal/models"
	"bayou-dm/internal/websocket"

	"github.com/google/uuid"
)

// Notifier pushes fire-and-forget notifications over the realtime hub.
// Delivery is best effort: an offline recipient or a full send buffer
// drops the notification without affecting the operation that raised it.
type Notifier struct {
	hub *websocket.Hub
}

func NewNotifier(hub *websocket.Hub) *Notifier {
	return &Notifier{hub: hub}
}

// MessageReceived tells a recipient that a new message landed in one of
// their conversations, for badge counts and previews outside the open
// conversation.
func (n *Notifier) MessageReceived(recipientID uuid.UUID, msg *models.Message) {
	if n.hub.IsUserOnline(recipientID) {
		n.hub.NotifyUser(recipientID, "message_received", msg)
		return
	}
	log.Printf("Recipient %s offline, notification for message %s dropped", recipientID, msg.ID)
}

// ConversationStarted tells a user that someone opened a new conversation
// with them.
func (n *Notifier) ConversationStarted(recipientID uuid.UUID, conv *models.Conversation) {
	n.hub.NotifyUser(recipientID, "conversation_started", conv)
}
