package handlers

import (
	"net/http"

	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/middleware"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
)

// HandleSession opens, reads and closes the caller's session on one
// conversation. Opening loads the full history and attaches the session to
// the realtime feed; closing detaches it synchronously.
func (s *Server) HandleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		conversationID, err := uuid.Parse(r.URL.Query().Get("conversationId"))
		if err != nil {
			http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodPost:
			snapshot, err := s.Engine.OpenSession(userID, conversationID)
			if err != nil {
				if appErr, ok := err.(*utils.AppError); ok {
					s.respondAppError(w, appErr)
					return
				}
				http.Error(w, "Failed to open session", http.StatusInternalServerError)
				return
			}
			s.respondJSON(w, snapshot)

		case http.MethodGet:
			pid, exists := s.Engine.SessionPID(userID, conversationID)
			if !exists {
				s.respondAppError(w, utils.NewAppError(utils.ErrSessionClosed, "Conversation is not open", nil))
				return
			}
			future := s.Context.RequestFuture(pid, &actors.GetSessionMsg{}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
				return
			}
			s.respondResult(w, result)

		case http.MethodDelete:
			if err := s.Engine.CloseSession(userID, conversationID); err != nil {
				http.Error(w, "Failed to close session", http.StatusInternalServerError)
				return
			}
			s.respondJSON(w, map[string]bool{"closed": true})

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleSearch runs the client-side search over the loaded sequence.
func (s *Server) HandleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		conversationID, err := uuid.Parse(r.URL.Query().Get("conversationId"))
		if err != nil {
			http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "Search query required", http.StatusBadRequest)
			return
		}

		pid, exists := s.Engine.SessionPID(userID, conversationID)
		if !exists {
			s.respondAppError(w, utils.NewAppError(utils.ErrSessionClosed, "Conversation is not open", nil))
			return
		}
		future := s.Context.RequestFuture(pid, &actors.SearchMessagesMsg{Query: query}, s.RequestTimeout)
		result, err := future.Result()
		if err != nil {
			s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
			return
		}
		s.respondResult(w, result)
	}
}
