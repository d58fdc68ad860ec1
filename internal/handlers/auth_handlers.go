package handlers

import (
	"encoding/json"
	"net/http"

	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/middleware"

	"github.com/google/uuid"
)

// TokenRequest exchanges an externally-authenticated user id for an API
// token. Identity verification happens upstream; this endpoint only mints
// the session token the engine checks.
type TokenRequest struct {
	UserID string `json:"userId"`
}

// HandleToken issues a JWT for an authenticated user
func (s *Server) HandleToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		userID, err := uuid.Parse(req.UserID)
		if err != nil || userID == uuid.Nil {
			http.Error(w, "Invalid user ID", http.StatusBadRequest)
			return
		}

		token, err := middleware.GenerateToken(userID)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		s.respondJSON(w, map[string]string{"token": token})
	}
}

// HandlePresence reports who is typing in a conversation
func (s *Server) HandlePresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		conversationID, err := uuid.Parse(r.URL.Query().Get("conversationId"))
		if err != nil {
			http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(s.Engine.GetPresenceActor(), &actors.GetPresenceMsg{ConversationID: conversationID}, s.RequestTimeout)
		result, err := future.Result()
		if err != nil {
			http.Error(w, "Failed to load presence", http.StatusInternalServerError)
			return
		}
		s.respondResult(w, result)
	}
}
