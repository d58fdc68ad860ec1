package handlers

import (
	"net/http"

	"bayou-dm/internal/middleware"
	"bayou-dm/internal/utils"
)

// HandleUpload stores a message attachment and returns the URL to embed in
// the send request. The upload happens before the message exists; a
// failure here aborts the send without creating a row.
func (s *Server) HandleUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Multipart file field required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		url, kind, err := s.Uploader.Save(file, header)
		if err != nil {
			if appErr, ok := err.(*utils.AppError); ok {
				s.respondAppError(w, appErr)
				return
			}
			http.Error(w, "Upload failed", http.StatusBadGateway)
			return
		}

		s.respondJSON(w, map[string]string{
			"url":  url,
			"type": string(kind),
		})
	}
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.respondJSON(w, map[string]interface{}{
			"status":        "healthy",
			"open_sessions": s.Engine.OpenSessionCount(),
			"online_users":  s.Hub.GetOnlineCount(),
		})
	}
}

// HandleMetrics exposes the operation latency counters
func (s *Server) HandleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.respondJSON(w, s.Metrics.Snapshot())
	}
}
