package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bayou-dm/internal/database"
	"bayou-dm/internal/engine"
	"bayou-dm/internal/engine/actors"
	"bayou-dm/internal/handlers"
	"bayou-dm/internal/middleware"
	"bayou-dm/internal/models"
	"bayou-dm/internal/notify"
	"bayou-dm/internal/storage"
	"bayou-dm/internal/utils"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStack struct {
	server *handlers.Server
	db     *database.MemoryDB
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := database.NewMemoryDB()
	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	hub := websocket.NewHub()
	go hub.Run()

	eng := engine.NewEngine(system, db, hub, metrics, 50*time.Millisecond)
	uploader, err := storage.NewUploader(t.TempDir(), 1<<20)
	require.NoError(t, err)

	return &testStack{
		server: handlers.NewServer(system, eng, metrics, hub, uploader, notify.NewNotifier(hub)),
		db:     db,
	}
}

func (ts *testStack) call(t *testing.T, handler http.HandlerFunc, method, target, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	middleware.ApplyJWTMiddleware(handler, req.URL.Path)(w, req)
	return w
}

func mintToken(t *testing.T, ts *testStack, userID uuid.UUID) string {
	t.Helper()
	w := ts.call(t, ts.server.HandleToken(), http.MethodPost, "/token", "", map[string]string{
		"userId": userID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func TestMessagingFlow(t *testing.T) {
	ts := newTestStack(t)

	aliceID := uuid.New()
	bobID := uuid.New()
	aliceToken := mintToken(t, ts, aliceID)
	bobToken := mintToken(t, ts, bobID)

	// Alice opens the conversation with Bob.
	w := ts.call(t, ts.server.HandleConversations(), http.MethodPost, "/conversations", aliceToken, map[string]string{
		"otherId": bobID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	require.NotEqual(t, uuid.Nil, conv.ID)

	sessionURL := fmt.Sprintf("/session?conversationId=%s", conv.ID)

	// Commands against a conversation that was never opened are refused.
	w = ts.call(t, ts.server.HandleMessages(), http.MethodPost, "/messages", aliceToken, map[string]string{
		"conversationId": conv.ID.String(),
		"content":        "too early",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Open the session; history is empty.
	w = ts.call(t, ts.server.HandleSession(), http.MethodPost, sessionURL, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot actors.SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, "live", snapshot.State)
	assert.Empty(t, snapshot.Messages)

	// Send a message; the reply is the optimistic entry.
	w = ts.call(t, ts.server.HandleMessages(), http.MethodPost, "/messages", aliceToken, map[string]string{
		"conversationId": conv.ID.String(),
		"content":        "hello bob",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var sent models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, "hello bob", sent.Content)
	assert.Equal(t, aliceID, sent.SenderID)

	// The remote write lands asynchronously.
	var confirmedID uuid.UUID
	require.Eventually(t, func() bool {
		w := ts.call(t, ts.server.HandleSession(), http.MethodGet, sessionURL, aliceToken, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var snap actors.SessionSnapshot
		if json.Unmarshal(w.Body.Bytes(), &snap) != nil || len(snap.Messages) != 1 {
			return false
		}
		confirmedID = snap.Messages[0].ID
		return confirmedID != sent.ID
	}, 5*time.Second, 10*time.Millisecond, "optimistic entry never confirmed")

	// Bob opens his side and sees the message.
	w = ts.call(t, ts.server.HandleSession(), http.MethodPost, sessionURL, bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bobSnapshot actors.SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bobSnapshot))
	require.Len(t, bobSnapshot.Messages, 1)
	assert.Equal(t, "hello bob", bobSnapshot.Messages[0].Content)
	assert.True(t, bobSnapshot.Messages[0].IsRead)

	// Alice edits inside the window.
	w = ts.call(t, ts.server.HandleMessages(), http.MethodPut, "/messages", aliceToken, map[string]string{
		"conversationId": conv.ID.String(),
		"messageId":      confirmedID.String(),
		"content":        "hello bob!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Bob must not be able to edit Alice's message.
	w = ts.call(t, ts.server.HandleMessages(), http.MethodPut, "/messages", bobToken, map[string]string{
		"conversationId": conv.ID.String(),
		"messageId":      confirmedID.String(),
		"content":        "hijacked",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Bob reacts.
	w = ts.call(t, ts.server.HandleReactions(), http.MethodPost, "/reactions", bobToken, map[string]string{
		"conversationId": conv.ID.String(),
		"messageId":      confirmedID.String(),
		"emoji":          "👍",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Search is client-side over the loaded history.
	searchURL := fmt.Sprintf("/session/search?conversationId=%s&q=HELLO", conv.ID)
	w = ts.call(t, ts.server.HandleSearch(), http.MethodGet, searchURL, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found []*models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	assert.Len(t, found, 1)

	// Closing tears the session down; further commands are refused.
	w = ts.call(t, ts.server.HandleSession(), http.MethodDelete, sessionURL, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.call(t, ts.server.HandleMessages(), http.MethodPost, "/messages", aliceToken, map[string]string{
		"conversationId": conv.ID.String(),
		"content":        "after close",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDirectoryListsUnreadConversations(t *testing.T) {
	ts := newTestStack(t)

	aliceID := uuid.New()
	bobID := uuid.New()
	aliceToken := mintToken(t, ts, aliceID)
	bobToken := mintToken(t, ts, bobID)

	w := ts.call(t, ts.server.HandleConversations(), http.MethodPost, "/conversations", bobToken, map[string]string{
		"otherId": aliceID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	w = ts.call(t, ts.server.HandleSession(), http.MethodPost, fmt.Sprintf("/session?conversationId=%s", conv.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.call(t, ts.server.HandleMessages(), http.MethodPost, "/messages", bobToken, map[string]string{
		"conversationId": conv.ID.String(),
		"content":        "are you there?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w := ts.call(t, ts.server.HandleConversations(), http.MethodGet, "/conversations", aliceToken, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var summaries []*models.ConversationSummary
		if json.Unmarshal(w.Body.Bytes(), &summaries) != nil || len(summaries) != 1 {
			return false
		}
		return summaries[0].Unread && summaries[0].LastMessage != nil
	}, 5*time.Second, 10*time.Millisecond, "directory never showed the unread conversation")
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	ts := newTestStack(t)

	w := ts.call(t, ts.server.HandleConversations(), http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
