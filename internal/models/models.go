package models

import "time"

// Message roles. A system message, when present, is always first in a
// transcript and is never shown to the end user.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"` // system, user, or assistant
	Content string `json:"content"`
}

// Conversation is the durable per-conversation document. Escalated is
// monotonic: once true it never reverts within the document's lifetime.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Escalated bool      `json:"escalated"`
}

// DefaultTitle is the placeholder a conversation carries until a title is
// derived from its first user message.
const DefaultTitle = "New Chat"

// Summary is the listing view of a conversation. MessageCount excludes
// system messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Escalated    bool      `json:"escalated"`
	MessageCount int       `json:"message_count"`
}

// VisibleMessages returns the transcript without system messages.
func (c *Conversation) VisibleMessages() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// ContactInfo is a partially populated contact record attached to an
// escalation. Values are stored verbatim as extracted or submitted.
type ContactInfo struct {
	Name   string `json:"name,omitempty"`
	Mobile string `json:"mobile,omitempty"`
	Email  string `json:"email,omitempty"`
	Goal   string `json:"goal,omitempty"`
	Plan   string `json:"plan,omitempty"`
	Issue  string `json:"issue,omitempty"`
}

// Escalation record status and priority values.
const (
	EscalationPending  = "pending"
	EscalationResolved = "resolved"

	PriorityLow  = "low"
	PriorityHigh = "high"
)

// EscalationRecord captures one escalation event for a conversation. The
// store keeps at most one record per conversation id; a later record
// overwrites an earlier one (last write wins).
type EscalationRecord struct {
	ConversationID string       `json:"conversation_id"`
	Timestamp      time.Time    `json:"timestamp"`
	Reason         string       `json:"reason"`
	ContactInfo    *ContactInfo `json:"contact_info,omitempty"`
	Status         string       `json:"status"`
	Priority       string       `json:"priority"`
}

// Session binds an opaque client session to a conversation id. It is never
// persisted; its lifetime is bounded by a TTL measured from LastActivity.
type Session struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}
