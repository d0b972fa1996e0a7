package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/chat"
	"github.com/strengthclub/concierge/internal/escalation"
	"github.com/strengthclub/concierge/internal/llm"
	"github.com/strengthclub/concierge/internal/models"
	"github.com/strengthclub/concierge/internal/session"
	"github.com/strengthclub/concierge/internal/storage"
)

type scriptedCompleter struct {
	reply string
	err   error
}

func (s *scriptedCompleter) Respond(context.Context, []models.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type nopConfirmer struct{}

func (nopConfirmer) ConfirmEscalation(context.Context, *models.EscalationRecord) bool { return true }

type testServer struct {
	mux   *http.ServeMux
	store *storage.Store
}

func newTestServer(t *testing.T, completer chat.Completer, providerConfigured bool) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store, err := storage.New(t.TempDir(), logger)
	require.NoError(t, err)
	engine := escalation.NewEngine(store, nopConfirmer{}, logger)
	svc := chat.NewService(store, completer, engine, "system prompt", 10000, logger)
	sessions := session.NewManager(time.Hour, logger)
	handler := NewHandler(svc, store, engine, sessions, "Strength Club", providerConfigured, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	return &testServer{mux: mux, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestStartSession_Fresh(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	rec, body := ts.do(t, http.MethodPost, "/api/session/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["loaded"])
	assert.Contains(t, body["welcome_message"], "Strength Club")

	convID, _ := body["conversation_id"].(string)
	require.NotEmpty(t, convID)
	conv, err := ts.store.Load(convID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)

	sessionCookieFrom(t, rec)
}

func TestStartSession_LoadExisting(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	rec, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	convID := started["conversation_id"].(string)
	cookie := sessionCookieFrom(t, rec)

	_, err := ts.store.Save(convID, []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
		{Role: models.RoleUser, Content: "What plans do you offer?"},
	}, false)
	require.NoError(t, err)

	rec2, body := ts.do(t, http.MethodPost, "/api/session/start",
		map[string]any{"load_existing": true, "conversation_id": convID}, cookie)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, true, body["loaded"])
	assert.Equal(t, convID, body["conversation_id"])
	assert.Equal(t, "What plans do you offer?", body["title"])
	messages := body["messages"].([]any)
	assert.Len(t, messages, 1, "system message never leaves the server")
}

func TestStartSession_InvalidAndUnknownConversation(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	rec, body := ts.do(t, http.MethodPost, "/api/session/start",
		map[string]any{"load_existing": true, "conversation_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid conversation ID", body["error"])

	rec, body = ts.do(t, http.MethodPost, "/api/session/start",
		map[string]any{"load_existing": true, "conversation_id": "3f2c8f4e-9a1b-4d6c-8e5f-0a1b2c3d4e5f"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Conversation not found", body["error"])
}

func TestSendMessage_NormalTurn(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "We open at 6am."}, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	sessionID := started["session_id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/api/message",
		map[string]any{"message": "When do you open?", "session_id": sessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "We open at 6am.", body["response"])
	assert.Equal(t, false, body["escalation_needed"])
}

func TestSendMessage_NoActiveConversation(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	rec, body := ts.do(t, http.MethodPost, "/api/message",
		map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No active conversation", body["error"])
}

func TestSendMessage_ValidationError(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	sessionID := started["session_id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/api/message",
		map[string]any{"message": "   ", "session_id": sessionID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message cannot be empty", body["error"])
}

func TestSendMessage_RetryableProviderFailure(t *testing.T) {
	completer := &scriptedCompleter{err: fmt.Errorf("%w: 429", llm.ErrRateLimited)}
	ts := newTestServer(t, completer, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	sessionID := started["session_id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/api/message",
		map[string]any{"message": "hello", "session_id": sessionID})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, "The assistant is temporarily unavailable. Please try again.", body["error"])
}

func TestSendMessage_NonRetryableProviderFailure(t *testing.T) {
	completer := &scriptedCompleter{err: fmt.Errorf("%w: bad request", llm.ErrProvider)}
	ts := newTestServer(t, completer, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	sessionID := started["session_id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/api/message",
		map[string]any{"message": "hello", "session_id": sessionID})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Failed to get response. Please try again.", body["error"])
}

func TestEscalate(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	convID := started["conversation_id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/api/escalate", map[string]any{
		"conversation_id": convID,
		"reason":          "needs a coach",
		"contact_info": map[string]any{
			"name": "Jo", "mobile": "0400000000", "email": "jo@example.com",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	saved, err := ts.store.LoadEscalation(convID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, saved.Priority)

	conv, err := ts.store.Load(convID)
	require.NoError(t, err)
	assert.True(t, conv.Escalated)
}

func TestEscalate_MissingContactFields(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	convID := started["conversation_id"].(string)

	rec, body := ts.do(t, http.MethodPost, "/api/escalate", map[string]any{
		"conversation_id": convID,
		"contact_info":    map[string]any{"mobile": "0400000000", "email": "jo@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Name is required", body["error"])
}

func TestConversations_ListAndDelete(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	_, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	convID := started["conversation_id"].(string)

	rec, body := ts.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["conversations"], 1)

	rec, _ = ts.do(t, http.MethodDelete, "/api/conversations?conversation_id="+convID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = ts.do(t, http.MethodDelete, "/api/conversations?conversation_id="+convID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Conversation not found", body["error"])

	rec, body = ts.do(t, http.MethodDelete, "/api/conversations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No conversation ID provided", body["error"])
}

func TestGetHistory(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "We open at 6am."}, true)

	rec, started := ts.do(t, http.MethodPost, "/api/session/start", nil)
	sessionID := started["session_id"].(string)
	cookie := sessionCookieFrom(t, rec)

	_, _ = ts.do(t, http.MethodPost, "/api/message",
		map[string]any{"message": "When do you open?", "session_id": sessionID})

	rec2, body := ts.do(t, http.MethodGet, "/api/history", nil, cookie)
	require.Equal(t, http.StatusOK, rec2.Code)
	messages := body["messages"].([]any)
	assert.Len(t, messages, 2)
	assert.Equal(t, false, body["escalated"])
}

func TestGetHistory_NoConversation(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	rec, body := ts.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, body["messages"])
}

func TestEndSession(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	rec, _ := ts.do(t, http.MethodPost, "/api/session/start", nil)
	cookie := sessionCookieFrom(t, rec)

	rec2, body := ts.do(t, http.MethodPost, "/api/session/end", nil, cookie)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, true, body["success"])

	// The conversation binding is gone with the session.
	_, history := ts.do(t, http.MethodGet, "/api/history", nil, cookie)
	assert.Empty(t, history["messages"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)
	rec, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	degraded := newTestServer(t, llm.Disabled{}, false)
	rec, body = degraded.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, false, deps["provider"])
	assert.Equal(t, true, deps["storage"])
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &scriptedCompleter{reply: "hi"}, true)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/session/start"},
		{http.MethodGet, "/api/message"},
		{http.MethodGet, "/api/escalate"},
		{http.MethodPost, "/api/history"},
		{http.MethodPost, "/api/session"},
		{http.MethodGet, "/api/session/end"},
	} {
		rec, _ := ts.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
	}
}
