package handlers

import (
	"encoding/json"
	"net/http"

	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/middleware"
	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
)

// StartConversationRequest asks for the direct conversation with another
// user, creating it if neither side has messaged yet.
type StartConversationRequest struct {
	OtherID string `json:"otherId"`
}

// DeepLinkRequest resolves a conversation reached through a profile link.
type DeepLinkRequest struct {
	OtherID  string `json:"otherId"`
	Username string `json:"username"`
}

// HandleConversations lists the caller's conversations and opens new ones
func (s *Server) HandleConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodGet:
			future := s.Context.RequestFuture(s.Engine.GetDirectoryActor(), &actors.ListConversationsMsg{UserID: userID}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
				return
			}
			s.respondResult(w, result)

		case http.MethodPost:
			var req StartConversationRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			otherID, err := uuid.Parse(req.OtherID)
			if err != nil {
				http.Error(w, "Invalid user ID", http.StatusBadRequest)
				return
			}

			future := s.Context.RequestFuture(s.Engine.GetDirectoryActor(), &actors.FindOrCreateDirectMsg{
				UserID:  userID,
				OtherID: otherID,
			}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				http.Error(w, "Failed to open conversation", http.StatusInternalServerError)
				return
			}
			if conv, ok := result.(*models.Conversation); ok {
				s.Notifier.ConversationStarted(otherID, conv)
			}
			s.respondResult(w, result)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleDeepLink opens a conversation from a profile link, creating a stub
// profile for the target when none is stored yet.
func (s *Server) HandleDeepLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		var req DeepLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		otherID, err := uuid.Parse(req.OtherID)
		if err != nil {
			http.Error(w, "Invalid user ID", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(s.Engine.GetDirectoryActor(), &actors.UpsertDeepLinkMsg{
			UserID:   userID,
			OtherID:  otherID,
			Username: req.Username,
		}, s.RequestTimeout)
		result, err := future.Result()
		if err != nil {
			s.respondAppError(w, utils.NewActorTimeoutError("DirectoryActor"))
			return
		}
		s.respondResult(w, result)
	}
}
