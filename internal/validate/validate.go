// Package validate holds input validation for caller-supplied values.
// Failures here are rejected before any state mutation.
package validate

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
)

var emailRe = regexp2.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`, regexp2.None)

// Email reports whether s has a plausible local@domain.tld shape.
func Email(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	ok, err := emailRe.MatchString(s)
	return err == nil && ok
}

// ConversationID reports whether s is a well-formed conversation id (UUID).
func ConversationID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Message checks a chat message before it enters the turn pipeline. The
// returned error text is safe to show to the caller.
func Message(msg string, maxLength int) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("Message cannot be empty")
	}
	if len(msg) > maxLength {
		return fmt.Errorf("Message is too long. Please keep it under %d characters.", maxLength)
	}
	return nil
}
