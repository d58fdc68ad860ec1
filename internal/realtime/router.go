package realtime

import (
	"log"
	"sync"

	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/models"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Router fans realtime change events out to the session actors that hold
// the affected conversation open. Each attached session gets its own hub
// subscription; events for conversations nobody holds open are dropped at
// the hub, not here. Delivery into a mailbox is at-least-once from the
// session's point of view, which the store's idempotent apply methods
// absorb.
type Router struct {
	system *actor.ActorSystem
	hub    *websocket.Hub

	mu   sync.RWMutex
	subs map[sessionKey]*sessionSub
}

type sessionKey struct {
	userID         uuid.UUID
	conversationID uuid.UUID
}

// sessionSub adapts one session actor to the hub's subscriber contract.
type sessionSub struct {
	id     string
	pid    *actor.PID
	system *actor.ActorSystem
}

func (s *sessionSub) SubscriberID() string { return s.id }

func (s *sessionSub) DeliverRow(evt *models.RowEvent) {
	s.system.Root.Send(s.pid, &actors.RemoteRowMsg{Event: evt})
}

func (s *sessionSub) DeliverPresence(evt *models.PresenceEvent) {
	// Presence snapshots go to wire clients directly; sessions hold no
	// presence state.
}

func NewRouter(system *actor.ActorSystem, hub *websocket.Hub) *Router {
	r := &Router{
		system: system,
		hub:    hub,
		subs:   make(map[sessionKey]*sessionSub),
	}
	hub.OnReconnect = r.reloadSessions
	return r
}

// Attach subscribes a live session to its conversation's event feed.
// Attaching the same pair twice replaces the previous subscription.
func (r *Router) Attach(userID, conversationID uuid.UUID, pid *actor.PID) {
	sub := &sessionSub{
		id:     "session:" + userID.String() + ":" + conversationID.String(),
		pid:    pid,
		system: r.system,
	}

	r.mu.Lock()
	key := sessionKey{userID: userID, conversationID: conversationID}
	if prev, exists := r.subs[key]; exists {
		r.hub.Unsubscribe(conversationID, prev)
	}
	r.subs[key] = sub
	r.mu.Unlock()

	r.hub.Subscribe(conversationID, sub)
}

// Detach removes the session's subscription. Safe to call when never
// attached; teardown must not fail.
func (r *Router) Detach(userID, conversationID uuid.UUID) {
	r.mu.Lock()
	key := sessionKey{userID: userID, conversationID: conversationID}
	sub, exists := r.subs[key]
	delete(r.subs, key)
	r.mu.Unlock()

	if exists {
		r.hub.Unsubscribe(conversationID, sub)
	}
}

// Ingest decodes a raw transport payload and publishes it to the hub. Used
// by transports that deliver change feeds as opaque frames.
func (r *Router) Ingest(raw []byte) error {
	evt, err := models.DecodeRowEvent(raw)
	if err != nil {
		log.Printf("Dropping malformed row event: %v", err)
		return err
	}
	r.hub.PublishRow(evt)
	return nil
}

// reloadSessions runs when a user's transport comes back after a gap. Any
// events missed while offline are unrecoverable, so every session the user
// holds open rebuilds from the authoritative store.
func (r *Router) reloadSessions(userID uuid.UUID) {
	r.mu.RLock()
	var pids []*actor.PID
	for key, sub := range r.subs {
		if key.userID == userID {
			pids = append(pids, sub.pid)
		}
	}
	r.mu.RUnlock()

	for _, pid := range pids {
		r.system.Root.Send(pid, &actors.ReloadSessionMsg{})
	}
	if len(pids) > 0 {
		log.Printf("Reconnect for user %s: reloading %d open sessions", userID, len(pids))
	}
}
