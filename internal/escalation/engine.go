package escalation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/models"
	"github.com/strengthclub/concierge/internal/storage"
	"github.com/strengthclub/concierge/internal/validate"
)

// Confirmer dispatches a best-effort confirmation for an escalation record.
type Confirmer interface {
	ConfirmEscalation(ctx context.Context, rec *models.EscalationRecord) bool
}

// ValidationError is a caller-facing rejection issued before any state
// mutation. The message is safe to surface.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ContactSubmission is the contact payload of the explicit escalation
// action. Phone is accepted as an alias for Mobile.
type ContactSubmission struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Goal   string `json:"goal"`
	Plan   string `json:"plan"`
	Issue  string `json:"issue"`
}

// Engine owns escalation record creation and the conversation's
// escalated-state transition for both the handover path and the explicit
// high-priority action.
type Engine struct {
	store    *storage.Store
	notifier Confirmer
	logger   *zap.Logger
}

func NewEngine(store *storage.Store, notifier Confirmer, logger *zap.Logger) *Engine {
	return &Engine{store: store, notifier: notifier, logger: logger}
}

// RecordHandover creates the low-priority escalation record for a handover
// confirmation the assistant emitted. When the extracted contact has no
// email, the transcript's user messages are scraped for one. Record write
// and confirmation email are both best-effort: failures are logged and the
// turn proceeds.
func (e *Engine) RecordHandover(ctx context.Context, conversationID string, contact *models.ContactInfo, transcript []models.Message) *models.EscalationRecord {
	if contact.Email == "" {
		if addr := EmailFromTranscript(transcript); addr != "" {
			contact.Email = addr
			e.logger.Info("scraped contact email from transcript",
				zap.String("conversation_id", conversationID))
		}
	}

	rec := &models.EscalationRecord{
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Reason:         "Handover confirmation received",
		ContactInfo:    contact,
		Status:         models.EscalationPending,
		Priority:       models.PriorityLow,
	}

	if err := e.store.SaveEscalation(rec); err != nil {
		e.logger.Error("failed to save handover escalation record",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}

	e.notifier.ConfirmEscalation(ctx, rec)
	return rec
}

// EscalateExplicit handles the explicit high-priority escalation action.
// Name, mobile (or phone), and a well-formed email are all required; the
// submission is rejected before any record is written otherwise. On success
// it overwrites any prior record for the conversation id, flips the
// conversation's escalated flag if not already set, and sends a best-effort
// confirmation. Not replay-safe: a repeated call overwrites the record and
// re-sends the confirmation.
func (e *Engine) EscalateExplicit(ctx context.Context, conversationID, reason string, contact ContactSubmission) (*models.EscalationRecord, error) {
	mobile := strings.TrimSpace(contact.Mobile)
	if mobile == "" {
		mobile = strings.TrimSpace(contact.Phone)
	}

	if strings.TrimSpace(contact.Name) == "" {
		return nil, &ValidationError{Message: "Name is required"}
	}
	if mobile == "" {
		return nil, &ValidationError{Message: "Mobile number is required"}
	}
	if !validate.Email(contact.Email) {
		return nil, &ValidationError{Message: "A valid email address is required"}
	}

	if reason == "" {
		reason = "Customer requested human assistance"
	}

	rec := &models.EscalationRecord{
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Reason:         reason,
		ContactInfo: &models.ContactInfo{
			Name:   strings.TrimSpace(contact.Name),
			Mobile: mobile,
			Email:  strings.TrimSpace(contact.Email),
			Goal:   strings.TrimSpace(contact.Goal),
			Plan:   strings.TrimSpace(contact.Plan),
			Issue:  strings.TrimSpace(contact.Issue),
		},
		Status:   models.EscalationPending,
		Priority: models.PriorityHigh,
	}

	if err := e.store.SaveEscalation(rec); err != nil {
		e.logger.Error("failed to save escalation record",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}

	e.markEscalated(conversationID)
	e.notifier.ConfirmEscalation(ctx, rec)

	e.logger.Info("conversation escalated",
		zap.String("conversation_id", conversationID),
		zap.String("priority", models.PriorityHigh),
		zap.String("reason", reason))
	return rec, nil
}

// markEscalated flips the durable escalated flag under the conversation's
// write lock. A missing conversation is not an error: the record stands on
// its own and the flag applies when the document exists.
func (e *Engine) markEscalated(conversationID string) {
	lock := e.store.KeyLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := e.store.Load(conversationID)
	if err != nil {
		return
	}
	if conv.Escalated {
		return
	}
	if _, err := e.store.Save(conversationID, conv.Messages, true); err != nil {
		e.logger.Error("failed to persist escalated flag",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
