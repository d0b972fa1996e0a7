// Package chat runs the per-turn pipeline: resolve the conversation, apply
// the escalation triggers in priority order, call the completion gateway
// when no trigger short-circuits, and persist the updated transcript.
package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/escalation"
	"github.com/strengthclub/concierge/internal/models"
	"github.com/strengthclub/concierge/internal/storage"
	"github.com/strengthclub/concierge/internal/validate"
)

// Completer is the opaque completion capability behind the gateway.
type Completer interface {
	Respond(ctx context.Context, transcript []models.Message) (string, error)
}

// Fixed replies. EscalatedNotice is returned for every turn after a
// conversation has escalated; IntentAck acknowledges an explicit request for
// a human without calling the provider.
const (
	EscalatedNotice = "Your request has been escalated to our team. A representative will contact you shortly."
	IntentAck       = "I'd be happy to connect you with our team. So a coach can reach out, could you share your name, mobile number, and email?"
)

// Service orchestrates one conversation turn end to end.
type Service struct {
	store        *storage.Store
	completer    Completer
	engine       *escalation.Engine
	systemPrompt string
	maxMessage   int
	logger       *zap.Logger
}

func NewService(store *storage.Store, completer Completer, engine *escalation.Engine, systemPrompt string, maxMessage int, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		completer:    completer,
		engine:       engine,
		systemPrompt: systemPrompt,
		maxMessage:   maxMessage,
		logger:       logger,
	}
}

// TurnResult is what the caller surfaces for one processed turn.
type TurnResult struct {
	Reply     string
	Escalated bool
}

// StartConversation creates a new conversation holding only the system
// message and returns it.
func (s *Service) StartConversation() (*models.Conversation, error) {
	id := uuid.NewString()
	lock := s.store.KeyLock(id)
	lock.Lock()
	defer lock.Unlock()
	return s.store.Create(id, s.systemPrompt)
}

// HandleTurn processes one user message for a conversation. Turns for the
// same conversation are serialized on the conversation's lock, held across
// the provider call, so concurrent submissions append in arrival order and
// never clobber each other.
//
// Trigger order per turn: user intent (short-circuits the provider call),
// then model-reply intent, then handover confirmation. Once a conversation
// is escalated every later turn returns the fixed notice without touching
// the provider or the transcript.
func (s *Service) HandleTurn(ctx context.Context, conversationID, message string) (*TurnResult, error) {
	if err := validate.Message(message, s.maxMessage); err != nil {
		return nil, &escalation.ValidationError{Message: err.Error()}
	}

	lock := s.store.KeyLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.store.Load(conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		conv, err = s.store.Create(conversationID, s.systemPrompt)
	}
	if err != nil {
		return nil, err
	}

	if conv.Escalated {
		return &TurnResult{Reply: EscalatedNotice, Escalated: true}, nil
	}

	// Trigger 1: the user asked for a human. No provider call; the record is
	// deferred until contact details arrive through the explicit action.
	if escalation.DetectIntent(message) {
		s.logger.Info("user requested escalation",
			zap.String("conversation_id", conversationID))
		transcript := append(conv.Messages,
			models.Message{Role: models.RoleUser, Content: message},
			models.Message{Role: models.RoleAssistant, Content: IntentAck},
		)
		s.save(conversationID, transcript, true)
		return &TurnResult{Reply: IntentAck, Escalated: true}, nil
	}

	transcript := append(conv.Messages, models.Message{Role: models.RoleUser, Content: message})

	reply, err := s.completer.Respond(ctx, transcript)
	if err != nil {
		// The user's message is never silently lost: persist the user turn
		// alone, escalated flag unchanged, and surface the failure.
		s.save(conversationID, transcript, conv.Escalated)
		return nil, err
	}

	escalated := false
	if escalation.DetectIntent(reply) {
		// Trigger 2: the model says it cannot help. Flag flip only.
		s.logger.Info("model reply indicates escalation",
			zap.String("conversation_id", conversationID))
		escalated = true
	} else if contact := escalation.ExtractContact(reply); contact != nil {
		// Trigger 3: handover confirmation with contact details.
		s.engine.RecordHandover(ctx, conversationID, contact, transcript)
		escalated = true
	}

	transcript = append(transcript, models.Message{Role: models.RoleAssistant, Content: reply})
	s.save(conversationID, transcript, escalated)

	return &TurnResult{Reply: reply, Escalated: escalated}, nil
}

// save persists the transcript. A write failure degrades to an unsaved turn;
// it is logged and never fails the pipeline.
func (s *Service) save(conversationID string, transcript []models.Message, escalated bool) {
	if _, err := s.store.Save(conversationID, transcript, escalated); err != nil {
		s.logger.Error("failed to save conversation",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
