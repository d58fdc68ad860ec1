package engine

import (
	"log"
	"sync"
	"time"

	"bayou-dm/internal/database"
	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/models"
	"bayou-dm/internal/realtime"
	"bayou-dm/internal/utils"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// RequestTimeout bounds every actor request issued by the engine and the
// HTTP handlers.
const RequestTimeout = 5 * time.Second

type sessionKey struct {
	userID         uuid.UUID
	conversationID uuid.UUID
}

// Engine coordinates communication between actors. It spawns the directory
// and presence actors once and a session actor per open (user,
// conversation) pair, and wires the realtime router between the hub and
// the sessions.
type Engine struct {
	system  *actor.ActorSystem
	db      database.DBAdapter
	hub     *websocket.Hub
	metrics *utils.MetricsCollector
	router  *realtime.Router

	directoryActor *actor.PID
	presenceActor  *actor.PID

	mu       sync.Mutex
	sessions map[sessionKey]*actor.PID
}

func NewEngine(system *actor.ActorSystem, db database.DBAdapter, hub *websocket.Hub, metrics *utils.MetricsCollector, typingDebounce time.Duration) *Engine {
	context := system.Root

	directoryProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewDirectoryActor(db, metrics)
	})
	directoryPID := context.Spawn(directoryProps)

	presenceProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewPresenceActor(hub, typingDebounce)
	})
	presencePID := context.Spawn(presenceProps)

	e := &Engine{
		system:         system,
		db:             db,
		hub:            hub,
		metrics:        metrics,
		router:         realtime.NewRouter(system, hub),
		directoryActor: directoryPID,
		presenceActor:  presencePID,
		sessions:       make(map[sessionKey]*actor.PID),
	}

	hub.OnTyping = func(userID, conversationID uuid.UUID) {
		system.Root.Send(presencePID, &actors.TypingMsg{UserID: userID, ConversationID: conversationID})
	}
	hub.AddOnlineListener(e)

	return e
}

// DeliverOnline feeds transport connect and disconnect transitions into
// the presence actor.
func (e *Engine) DeliverOnline(evt models.OnlineEvent) {
	e.system.Root.Send(e.presenceActor, &actors.UserConnectionMsg{UserID: evt.UserID, Online: evt.Online})
}

// OpenSession spawns (or reuses) the session actor for the pair, loads the
// conversation and attaches it to the realtime feed. The returned snapshot
// reflects the state after the initial load.
func (e *Engine) OpenSession(userID, conversationID uuid.UUID) (*actors.SessionSnapshot, error) {
	pid := e.sessionPID(userID, conversationID, true)

	future := e.system.Root.RequestFuture(pid, &actors.OpenSessionMsg{
		UserID:         userID,
		ConversationID: conversationID,
	}, RequestTimeout)
	result, err := future.Result()
	if err != nil {
		return nil, utils.NewActorTimeoutError("SessionActor")
	}
	if appErr, ok := result.(*utils.AppError); ok {
		return nil, appErr
	}

	e.router.Attach(userID, conversationID, pid)
	return result.(*actors.SessionSnapshot), nil
}

// CloseSession tears a session down synchronously: it is detached from the
// feed and stopped before the call returns, so no event can land on a
// closed conversation.
func (e *Engine) CloseSession(userID, conversationID uuid.UUID) error {
	e.mu.Lock()
	key := sessionKey{userID: userID, conversationID: conversationID}
	pid, exists := e.sessions[key]
	delete(e.sessions, key)
	e.mu.Unlock()

	if !exists {
		return nil
	}

	e.router.Detach(userID, conversationID)
	future := e.system.Root.RequestFuture(pid, &actors.CloseSessionMsg{}, RequestTimeout)
	if _, err := future.Result(); err != nil {
		log.Printf("Session for user %s, conversation %s did not acknowledge close: %v", userID, conversationID, err)
	}
	e.system.Root.Stop(pid)
	return nil
}

// SessionPID returns the live session actor for the pair.
func (e *Engine) SessionPID(userID, conversationID uuid.UUID) (*actor.PID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pid, exists := e.sessions[sessionKey{userID: userID, conversationID: conversationID}]
	return pid, exists
}

func (e *Engine) sessionPID(userID, conversationID uuid.UUID, create bool) *actor.PID {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sessionKey{userID: userID, conversationID: conversationID}
	if pid, exists := e.sessions[key]; exists {
		return pid
	}
	if !create {
		return nil
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewSessionActor(e.db, e.hub, e.metrics)
	})
	pid := e.system.Root.Spawn(props)
	e.sessions[key] = pid
	return pid
}

// GetDirectoryActor returns the PID of the directory actor
func (e *Engine) GetDirectoryActor() *actor.PID {
	return e.directoryActor
}

// GetPresenceActor returns the PID of the presence actor
func (e *Engine) GetPresenceActor() *actor.PID {
	return e.presenceActor
}

// Router exposes the realtime router, mainly for transports that ingest
// raw change feeds.
func (e *Engine) Router() *realtime.Router {
	return e.router
}

// OpenSessionCount reports how many sessions are currently held open.
func (e *Engine) OpenSessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
