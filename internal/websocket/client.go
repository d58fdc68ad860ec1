package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// Client is a middleman between the websocket connection and the hub. It
// doubles as a room Subscriber so the wire connection receives the same
// typed feed as in-process routers.
type Client struct {
	Hub *Hub

	// Connection-unique id used as the subscriber key.
	ID string

	// The user ID this client represents.
	UserID uuid.UUID

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// Rooms joined via subscribe frames. Touched only by the ReadPump
	// goroutine.
	joined map[uuid.UUID]bool

	// Guards Send against enqueue racing the hub's close: room fan-out
	// runs outside the hub lock, so without this a subscriber could send
	// on the channel after unregistration closed it.
	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, userID uuid.UUID, conn *websocket.Conn) *Client {
	return &Client{
		Hub:    hub,
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		joined: make(map[uuid.UUID]bool),
	}
}

func (c *Client) SubscriberID() string { return c.ID }

// DeliverRow forwards a row event to the wire.
func (c *Client) DeliverRow(evt *models.RowEvent) {
	c.deliver(WSMessage{Type: rowEventType(evt), Payload: evt, Timestamp: time.Now()})
}

// DeliverPresence forwards a presence snapshot to the wire.
func (c *Client) DeliverPresence(evt *models.PresenceEvent) {
	c.deliver(WSMessage{Type: EventPresenceSync, Payload: evt, Timestamp: time.Now()})
}

func (c *Client) deliver(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal event for User %s: %v", c.UserID, err)
		return
	}
	if !c.enqueue(data) {
		log.Printf("Dropping event for gone or slow client of User %s", c.UserID)
	}
}

// enqueue places a payload on the outbound buffer. It reports false for a
// full buffer or a connection that has already been torn down.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound buffer exactly once. Later enqueues become
// no-ops instead of sends on a closed channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		for conversationID := range c.joined {
			c.Hub.Unsubscribe(conversationID, c)
			c.Hub.Leave(conversationID, c.UserID)
		}
		c.Hub.Unregister <- c
		c.Conn.Close()
		log.Printf("WebSocket Client ReadPump stopped for User %s", c.UserID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for User %s: %v", c.UserID, err)
			}
			break
		}
		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(message []byte) {
	var frame IncomingFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("Malformed frame from User %s: %v", c.UserID, err)
		return
	}

	switch frame.Type {
	case "subscribe":
		if frame.ConversationID == uuid.Nil {
			return
		}
		c.joined[frame.ConversationID] = true
		c.Hub.Subscribe(frame.ConversationID, c)
		c.Hub.Track(models.PresenceRecord{
			UserID:         c.UserID,
			ConversationID: frame.ConversationID,
			IsTyping:       false,
		})
	case "unsubscribe":
		delete(c.joined, frame.ConversationID)
		c.Hub.Unsubscribe(frame.ConversationID, c)
		c.Hub.Leave(frame.ConversationID, c.UserID)
	case "typing":
		if c.Hub.OnTyping != nil {
			c.Hub.OnTyping(c.UserID, frame.ConversationID)
		}
	default:
		log.Printf("Unknown frame type %q from User %s", frame.Type, c.UserID)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		log.Printf("WebSocket Client WritePump stopped for User %s", c.UserID)
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Printf("WebSocket write error (NextWriter) for User %s: %v", c.UserID, err)
				return
			}
			w.Write(message)

			// Add queued events to the current websocket message.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				log.Printf("WebSocket write error (Close) for User %s: %v", c.UserID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket write error (Ping) for User %s: %v", c.UserID, err)
				return
			}
		}
	}
}
