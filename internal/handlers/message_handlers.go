package handlers

import (
	"encoding/json"
	"net/http"

	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/middleware"
	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// SendMessageRequest represents a request to send a message
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachmentUrl"`
	AttachmentType string `json:"attachmentType"`
	ReplyToID      string `json:"replyToId"`
}

// EditMessageRequest represents an edit to an existing message
type EditMessageRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
}

// ReactionRequest adds or removes an emoji reaction
type ReactionRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

// sessionFor resolves the caller's live session actor or writes the error.
func (s *Server) sessionFor(w http.ResponseWriter, userID uuid.UUID, conversationID string) (*actor.PID, bool) {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return nil, false
	}
	pid, exists := s.Engine.SessionPID(userID, convID)
	if !exists {
		s.respondAppError(w, utils.NewAppError(utils.ErrSessionClosed, "Conversation is not open", nil))
		return nil, false
	}
	return pid, true
}

// HandleMessages sends, edits and deletes messages in an open conversation
func (s *Server) HandleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req SendMessageRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			pid, ok := s.sessionFor(w, userID, req.ConversationID)
			if !ok {
				return
			}

			msg := &actors.SendMessageMsg{
				Content:        req.Content,
				AttachmentURL:  req.AttachmentURL,
				AttachmentType: models.AttachmentKind(req.AttachmentType),
			}
			if req.ReplyToID != "" {
				replyTo, err := uuid.Parse(req.ReplyToID)
				if err != nil {
					http.Error(w, "Invalid reply target ID", http.StatusBadRequest)
					return
				}
				msg.ReplyToID = &replyTo
			}

			future := s.Context.RequestFuture(pid, msg, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
				return
			}
			s.respondResult(w, result)

		case http.MethodPut:
			var req EditMessageRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			pid, ok := s.sessionFor(w, userID, req.ConversationID)
			if !ok {
				return
			}
			messageID, err := uuid.Parse(req.MessageID)
			if err != nil {
				http.Error(w, "Invalid message ID", http.StatusBadRequest)
				return
			}

			future := s.Context.RequestFuture(pid, &actors.EditMessageMsg{
				MessageID: messageID,
				Content:   req.Content,
			}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
				return
			}
			s.respondResult(w, result)

		case http.MethodDelete:
			pid, ok := s.sessionFor(w, userID, r.URL.Query().Get("conversationId"))
			if !ok {
				return
			}
			messageID, err := uuid.Parse(r.URL.Query().Get("messageId"))
			if err != nil {
				http.Error(w, "Invalid message ID", http.StatusBadRequest)
				return
			}

			future := s.Context.RequestFuture(pid, &actors.RemoveMessageMsg{MessageID: messageID}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
				return
			}
			if ok, isBool := result.(bool); isBool {
				s.respondJSON(w, map[string]bool{"success": ok})
				return
			}
			s.respondResult(w, result)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// HandleReactions adds and removes emoji reactions
func (s *Server) HandleReactions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodGet:
			pid, ok := s.sessionFor(w, userID, r.URL.Query().Get("conversationId"))
			if !ok {
				return
			}
			messageID, err := uuid.Parse(r.URL.Query().Get("messageId"))
			if err != nil {
				http.Error(w, "Invalid message ID", http.StatusBadRequest)
				return
			}
			future := s.Context.RequestFuture(pid, &actors.GetReactionsMsg{MessageID: messageID}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
				return
			}
			s.respondResult(w, result)

		case http.MethodPost, http.MethodDelete:
			var req ReactionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			pid, ok := s.sessionFor(w, userID, req.ConversationID)
			if !ok {
				return
			}
			messageID, err := uuid.Parse(req.MessageID)
			if err != nil {
				http.Error(w, "Invalid message ID", http.StatusBadRequest)
				return
			}
			if req.Emoji == "" {
				http.Error(w, "Emoji required", http.StatusBadRequest)
				return
			}

			var msg interface{}
			if r.Method == http.MethodPost {
				msg = &actors.ReactMsg{MessageID: messageID, Emoji: req.Emoji}
			} else {
				msg = &actors.UnreactMsg{MessageID: messageID, Emoji: req.Emoji}
			}
			future := s.Context.RequestFuture(pid, msg, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.respondAppError(w, utils.NewActorTimeoutError("SessionActor"))
				return
			}
			if ok, isBool := result.(bool); isBool {
				s.respondJSON(w, map[string]bool{"success": ok})
				return
			}
			s.respondResult(w, result)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
