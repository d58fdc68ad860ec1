package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
)

// Subscriber receives the typed realtime feed for one conversation.
// Both websocket clients (marshaling to the wire) and in-process event
// routers implement it.
type Subscriber interface {
	// SubscriberID distinguishes subscribers within a room.
	SubscriberID() string
	DeliverRow(evt *models.RowEvent)
	DeliverPresence(evt *models.PresenceEvent)
}

// OnlineListener is notified of users joining and leaving the transport,
// independent of any conversation.
type OnlineListener interface {
	DeliverOnline(evt models.OnlineEvent)
}

// MessageToSend defines the structure for sending a message to a specific user.
type MessageToSend struct {
	TargetUserID uuid.UUID
	Payload      []byte
}

// Hub is the realtime transport: it tracks connected clients, fans
// row-change events out to per-conversation rooms, and runs the ephemeral
// presence channel with track/sync semantics (every change re-broadcasts a
// full snapshot, never a delta).
type Hub struct {
	// Registered clients. Maps user ID to a set of active client connections.
	Clients map[uuid.UUID]map[*Client]bool

	// Channel for sending messages to specific users.
	SendDirect chan *MessageToSend

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// OnReconnect is invoked (on its own goroutine) when a user that had
	// no connection registers one. The engine uses it to trigger the
	// fresh reload of any open session.
	OnReconnect func(userID uuid.UUID)

	// OnTyping forwards typing frames from websocket clients into the
	// presence tracker.
	OnTyping func(userID, conversationID uuid.UUID)

	// Mutex to protect concurrent access to the maps below.
	mu sync.RWMutex

	rooms    map[uuid.UUID]map[string]Subscriber              // conversation -> subscriber id -> subscriber
	presence map[uuid.UUID]map[uuid.UUID]models.PresenceRecord // conversation -> user -> record

	onlineListeners []OnlineListener
}

func NewHub() *Hub {
	return &Hub{
		Clients:    make(map[uuid.UUID]map[*Client]bool),
		SendDirect: make(chan *MessageToSend),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		rooms:      make(map[uuid.UUID]map[string]Subscriber),
		presence:   make(map[uuid.UUID]map[uuid.UUID]models.PresenceRecord),
	}
}

// Run starts the hub's processing loop.
func (h *Hub) Run() {
	log.Println("WebSocket Hub started.")
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case msg := <-h.SendDirect:
			h.sendToUser(msg.TargetUserID, msg.Payload)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	wasOffline := len(h.Clients[client.UserID]) == 0
	if _, ok := h.Clients[client.UserID]; !ok {
		h.Clients[client.UserID] = make(map[*Client]bool)
	}
	h.Clients[client.UserID][client] = true
	reconnect := h.OnReconnect
	h.mu.Unlock()

	log.Printf("WebSocket Client registered for User %s", client.UserID)

	if wasOffline {
		h.notifyOnline(models.OnlineEvent{UserID: client.UserID, Online: true})
		h.broadcastPresence(client.UserID, true)
		if reconnect != nil {
			go reconnect(client.UserID)
		}
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	offline := false
	if userClients, ok := h.Clients[client.UserID]; ok {
		if _, clientOk := userClients[client]; clientOk {
			delete(userClients, client)
			client.closeSend()
			if len(userClients) == 0 {
				delete(h.Clients, client.UserID)
				offline = true
			}
		}
	}
	h.mu.Unlock()

	if offline {
		log.Printf("WebSocket Client unregistered. User %s has no more connections.", client.UserID)
		h.notifyOnline(models.OnlineEvent{UserID: client.UserID, Online: false})
		h.broadcastPresence(client.UserID, false)
		// A vanished user stops typing everywhere.
		h.dropPresence(client.UserID)
	}
}

// broadcastPresence sends a user's online/offline status to every
// connected client.
func (h *Hub) broadcastPresence(userID uuid.UUID, isOnline bool) {
	eventType := EventUserOnline
	if !isOnline {
		eventType = EventUserOffline
	}
	data, err := json.Marshal(WSMessage{
		Type:      eventType,
		Payload:   PresencePayload{UserID: userID, IsOnline: isOnline, LastSeen: time.Now()},
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("Failed to marshal presence message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.Clients {
		for client := range clients {
			if !client.enqueue(data) {
				log.Printf("Failed to send presence to client of User %s", client.UserID)
			}
		}
	}
}

// Subscribe attaches a subscriber to a conversation room.
func (h *Hub) Subscribe(conversationID uuid.UUID, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]Subscriber)
		h.rooms[conversationID] = room
	}
	room[sub.SubscriberID()] = sub
}

// Unsubscribe detaches a subscriber from a conversation room. Safe to call
// for rooms the subscriber never joined.
func (h *Hub) Unsubscribe(conversationID uuid.UUID, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, sub.SubscriberID())
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// AddOnlineListener registers a listener for transport join/leave events.
func (h *Hub) AddOnlineListener(l OnlineListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onlineListeners = append(h.onlineListeners, l)
}

func (h *Hub) notifyOnline(evt models.OnlineEvent) {
	h.mu.RLock()
	listeners := append([]OnlineListener(nil), h.onlineListeners...)
	h.mu.RUnlock()
	for _, l := range listeners {
		l.DeliverOnline(evt)
	}
}

// PublishRow fans a row-change event out to every subscriber of its
// conversation. Delivery is at-least-once from the consumer's point of
// view; subscribers must be idempotent.
func (h *Hub) PublishRow(evt *models.RowEvent) {
	h.mu.RLock()
	room := h.rooms[evt.ConversationID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.DeliverRow(evt)
	}
}

// Track updates a presence record on the conversation's ephemeral channel
// and re-broadcasts the full snapshot to the room. Records are
// overwritten, never appended.
func (h *Hub) Track(record models.PresenceRecord) {
	h.mu.Lock()
	channel := h.presence[record.ConversationID]
	if channel == nil {
		channel = make(map[uuid.UUID]models.PresenceRecord)
		h.presence[record.ConversationID] = channel
	}
	channel[record.UserID] = record
	h.mu.Unlock()

	h.syncPresence(record.ConversationID)
}

// Leave removes a user from a conversation's presence channel and
// re-broadcasts the snapshot.
func (h *Hub) Leave(conversationID, userID uuid.UUID) {
	h.mu.Lock()
	if channel, ok := h.presence[conversationID]; ok {
		delete(channel, userID)
		if len(channel) == 0 {
			delete(h.presence, conversationID)
		}
	}
	h.mu.Unlock()

	h.syncPresence(conversationID)
}

func (h *Hub) dropPresence(userID uuid.UUID) {
	h.mu.Lock()
	var touched []uuid.UUID
	for conversationID, channel := range h.presence {
		if _, ok := channel[userID]; ok {
			delete(channel, userID)
			touched = append(touched, conversationID)
		}
	}
	h.mu.Unlock()

	for _, conversationID := range touched {
		h.syncPresence(conversationID)
	}
}

func (h *Hub) syncPresence(conversationID uuid.UUID) {
	h.mu.RLock()
	snapshot := &models.PresenceEvent{ConversationID: conversationID}
	for _, record := range h.presence[conversationID] {
		snapshot.Records = append(snapshot.Records, record)
	}
	room := h.rooms[conversationID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.DeliverPresence(snapshot)
	}
}

// sendToUser delivers a payload to every active connection of a user.
func (h *Hub) sendToUser(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.Clients[userID] {
		if !client.enqueue(payload) {
			log.Printf("Failed to send message to client of User %s", userID)
		}
	}
}

// NotifyUser marshals and delivers a notification event to a user.
// Fire-and-forget: delivery failure is logged, never propagated.
func (h *Hub) NotifyUser(userID uuid.UUID, kind string, payload interface{}) {
	data, err := json.Marshal(WSMessage{
		Type:      EventNotification,
		Payload:   NotificationPayload{Kind: kind, Payload: payload},
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("Failed to marshal notification: %v", err)
		return
	}
	h.sendToUser(userID, data)
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[userID]) > 0
}

// GetOnlineUsers returns a list of currently online user IDs
func (h *Hub) GetOnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	userIDs := make([]uuid.UUID, 0, len(h.Clients))
	for userID := range h.Clients {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}

// GetOnlineCount returns the number of currently connected users
func (h *Hub) GetOnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}
