package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"bayou-dm/internal/engine"
	"bayou-dm/internal/notify"
	"bayou-dm/internal/storage"
	"bayou-dm/internal/utils"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
)

// Server holds all server dependencies, including the actor system and engine
type Server struct {
	System         *actor.ActorSystem
	Context        *actor.RootContext
	Engine         *engine.Engine
	Metrics        *utils.MetricsCollector
	Hub            *websocket.Hub
	Uploader       *storage.Uploader
	Notifier       *notify.Notifier
	RequestTimeout time.Duration
}

// NewServer creates a new Server instance with the given components
func NewServer(
	system *actor.ActorSystem,
	eng *engine.Engine,
	metrics *utils.MetricsCollector,
	hub *websocket.Hub,
	uploader *storage.Uploader,
	notifier *notify.Notifier,
) *Server {
	return &Server{
		System:         system,
		Context:        system.Root,
		Engine:         eng,
		Metrics:        metrics,
		Hub:            hub,
		Uploader:       uploader,
		Notifier:       notifier,
		RequestTimeout: engine.RequestTimeout,
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// respondResult writes an actor reply: AppErrors become their HTTP status,
// anything else is encoded as the success body.
func (s *Server) respondResult(w http.ResponseWriter, result interface{}) {
	if appErr, ok := result.(*utils.AppError); ok {
		s.respondAppError(w, appErr)
		return
	}
	s.respondJSON(w, result)
}

func (s *Server) respondAppError(w http.ResponseWriter, appErr *utils.AppError) {
	s.Metrics.IncrementErrors()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(utils.AppErrorToHTTPStatus(appErr.Code))
	json.NewEncoder(w).Encode(map[string]string{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}
