// Package api is the thin HTTP layer over the turn pipeline. Wire format
// lives here; the semantics live in chat, escalation, and storage.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/chat"
	"github.com/strengthclub/concierge/internal/escalation"
	"github.com/strengthclub/concierge/internal/llm"
	"github.com/strengthclub/concierge/internal/models"
	"github.com/strengthclub/concierge/internal/session"
	"github.com/strengthclub/concierge/internal/storage"
	"github.com/strengthclub/concierge/internal/validate"
)

const sessionCookie = "concierge_session"

type Handler struct {
	chat     *chat.Service
	store    *storage.Store
	engine   *escalation.Engine
	sessions *session.Manager
	logger   *zap.Logger

	brand              string
	providerConfigured bool
}

func NewHandler(chatSvc *chat.Service, store *storage.Store, engine *escalation.Engine, sessions *session.Manager, brand string, providerConfigured bool, logger *zap.Logger) *Handler {
	return &Handler{
		chat:               chatSvc,
		store:              store,
		engine:             engine,
		sessions:           sessions,
		logger:             logger,
		brand:              brand,
		providerConfigured: providerConfigured,
	}
}

// Register attaches all routes to the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/session/start", h.StartSession)
	mux.HandleFunc("/api/message", h.SendMessage)
	mux.HandleFunc("/api/escalate", h.Escalate)
	mux.HandleFunc("/api/history", h.GetHistory)
	mux.HandleFunc("/api/conversations", h.Conversations)
	mux.HandleFunc("/api/session", h.SessionInfo)
	mux.HandleFunc("/api/session/end", h.EndSession)
	mux.HandleFunc("/health", h.Health)
}

// resolveSession validates/refreshes the inbound session before any
// conversation logic runs, and sets the cookie for fresh sessions.
func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request, explicitID string) models.Session {
	id := explicitID
	if id == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = c.Value
		}
	}
	s := h.sessions.Init(id)
	if s.SessionID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    s.SessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s
}

type startSessionRequest struct {
	LoadExisting   bool   `json:"load_existing"`
	ConversationID string `json:"conversation_id"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startSessionRequest
	if r.Body != nil {
		// An empty body means "start fresh".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess := h.resolveSession(w, r, "")

	if req.LoadExisting && req.ConversationID != "" {
		if !validate.ConversationID(req.ConversationID) {
			h.fail(w, http.StatusBadRequest, "Invalid conversation ID")
			return
		}
		conv, err := h.store.Load(req.ConversationID)
		if err != nil {
			h.fail(w, http.StatusNotFound, "Conversation not found")
			return
		}
		h.sessions.BindConversation(sess.SessionID, conv.ID)
		h.writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"session_id":      sess.SessionID,
			"conversation_id": conv.ID,
			"loaded":          true,
			"title":           conv.Title,
			"messages":        conv.VisibleMessages(),
			"escalated":       conv.Escalated,
		})
		return
	}

	conv, err := h.chat.StartConversation()
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "Failed to start conversation")
		return
	}
	h.sessions.BindConversation(sess.SessionID, conv.ID)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"session_id":      sess.SessionID,
		"conversation_id": conv.ID,
		"loaded":          false,
		"welcome_message": "Hello! I'm here to help you with any questions about " + h.brand + ". How can I assist you today?",
	})
}

type sendMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess := h.resolveSession(w, r, req.SessionID)
	if sess.ConversationID == "" {
		h.fail(w, http.StatusBadRequest, "No active conversation")
		return
	}

	result, err := h.chat.HandleTurn(r.Context(), sess.ConversationID, req.Message)
	if err != nil {
		h.turnError(w, sess.ConversationID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"response":          result.Reply,
		"escalation_needed": result.Escalated,
		"session_id":        sess.SessionID,
	})
}

// turnError maps pipeline failures onto caller-facing responses. Internal
// detail is logged, never returned.
func (h *Handler) turnError(w http.ResponseWriter, conversationID string, err error) {
	var verr *escalation.ValidationError
	if errors.As(err, &verr) {
		h.fail(w, http.StatusBadRequest, verr.Message)
		return
	}

	h.logger.Error("turn failed",
		zap.String("conversation_id", conversationID), zap.Error(err))

	if llm.IsRetryable(err) {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":   false,
			"error":     "The assistant is temporarily unavailable. Please try again.",
			"retryable": true,
		})
		return
	}
	h.fail(w, http.StatusBadGateway, "Failed to get response. Please try again.")
}

type escalateRequest struct {
	ConversationID string                       `json:"conversation_id"`
	Reason         string                       `json:"reason"`
	ContactInfo    escalation.ContactSubmission `json:"contact_info"`
}

func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess := h.resolveSession(w, r, "")
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = sess.ConversationID
	}
	if conversationID == "" {
		h.fail(w, http.StatusBadRequest, "No active conversation")
		return
	}

	if _, err := h.engine.EscalateExplicit(r.Context(), conversationID, req.Reason, req.ContactInfo); err != nil {
		var verr *escalation.ValidationError
		if errors.As(err, &verr) {
			h.fail(w, http.StatusBadRequest, verr.Message)
			return
		}
		h.logger.Error("explicit escalation failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "Failed to escalate conversation")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Your conversation has been escalated to our support team. A representative will contact you within 24 hours.",
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := h.resolveSession(w, r, "")
	if sess.ConversationID == "" {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "messages": []models.Message{}, "escalated": false,
		})
		return
	}

	conv, err := h.store.Load(sess.ConversationID)
	if err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "messages": []models.Message{}, "escalated": false,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messages":  conv.VisibleMessages(),
		"escalated": conv.Escalated,
	})
}

// Conversations lists on GET and deletes on DELETE (id in query, teacher
// style).
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		summaries, err := h.store.List()
		if err != nil {
			h.logger.Error("failed to list conversations", zap.Error(err))
			h.fail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"conversations": summaries,
		})

	case http.MethodDelete:
		id := r.URL.Query().Get("conversation_id")
		if id == "" {
			h.fail(w, http.StatusBadRequest, "No conversation ID provided")
			return
		}
		if !h.store.Delete(id) {
			h.fail(w, http.StatusNotFound, "Conversation not found")
			return
		}
		sess := h.resolveSession(w, r, "")
		if sess.ConversationID == id {
			h.sessions.UnbindConversation(sess.SessionID)
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Conversation deleted",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := h.resolveSession(w, r, "")
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": sess,
	})
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		h.sessions.End(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	storageOK := h.store.Writable()

	status := "healthy"
	code := http.StatusOK
	switch {
	case !storageOK:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case !h.providerConfigured:
		status = "degraded"
	}

	h.writeJSON(w, code, map[string]any{
		"status": status,
		"dependencies": map[string]bool{
			"provider": h.providerConfigured,
			"storage":  storageOK,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
