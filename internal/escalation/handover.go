package escalation

import (
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/strengthclub/concierge/internal/models"
)

// Handover label grammar. Each field's value runs until the next recognized
// label or end of text; labels are case-insensitive and line-oriented.
var (
	nameRe   = regexp2.MustCompile(`Name:\s*(.+?)(?:\n|Mobile:|$)`, regexp2.IgnoreCase|regexp2.Multiline)
	mobileRe = regexp2.MustCompile(`Mobile:\s*(.+?)(?:\n|Email:|Goal:|$)`, regexp2.IgnoreCase|regexp2.Multiline)
	emailRe  = regexp2.MustCompile(`Email:\s*(.+?)(?:\n|Goal:|$)`, regexp2.IgnoreCase|regexp2.Multiline)
	goalRe   = regexp2.MustCompile(`Goal:\s*(.+?)(?:\n|Plan:|$)`, regexp2.IgnoreCase|regexp2.Multiline)
	planRe   = regexp2.MustCompile(`Plan:\s*(.+?)(?:\n|$)`, regexp2.IgnoreCase|regexp2.Multiline)

	hasNameRe   = regexp2.MustCompile(`Name:\s*\S`, regexp2.IgnoreCase)
	hasMobileRe = regexp2.MustCompile(`Mobile:\s*\S`, regexp2.IgnoreCase)

	addressRe = regexp2.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, regexp2.None)
)

// IsHandoverConfirmation reports whether text looks like the assistant's
// fixed handover confirmation format. Name: and Mobile: labels are required;
// the rest are optional.
func IsHandoverConfirmation(text string) bool {
	if text == "" {
		return false
	}
	return matches(hasNameRe, text) && matches(hasMobileRe, text)
}

// ExtractContact parses a handover confirmation into a contact record with
// whichever fields were present, values trimmed and otherwise verbatim.
// Returns nil when either name or mobile is absent; callers must not create
// an escalation from a nil result.
func ExtractContact(text string) *models.ContactInfo {
	if text == "" {
		return nil
	}

	info := &models.ContactInfo{
		Name:   firstGroup(nameRe, text),
		Mobile: firstGroup(mobileRe, text),
		Email:  firstGroup(emailRe, text),
		Goal:   firstGroup(goalRe, text),
		Plan:   firstGroup(planRe, text),
	}

	if info.Name == "" || info.Mobile == "" {
		return nil
	}
	return info
}

// ScrapeEmail returns the first email address found in text, or "".
func ScrapeEmail(text string) string {
	if text == "" {
		return ""
	}
	m, err := addressRe.FindStringMatch(text)
	if err != nil || m == nil {
		return ""
	}
	return m.String()
}

// EmailFromTranscript scans user messages, newest first, for an email
// address. Best-effort fallback when a handover reply omitted the email.
func EmailFromTranscript(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleUser {
			continue
		}
		if addr := ScrapeEmail(messages[i].Content); addr != "" {
			return addr
		}
	}
	return ""
}

func matches(re *regexp2.Regexp, text string) bool {
	ok, err := re.MatchString(text)
	return err == nil && ok
}

func firstGroup(re *regexp2.Regexp, text string) string {
	m, err := re.FindStringMatch(text)
	if err != nil || m == nil {
		return ""
	}
	groups := m.Groups()
	if len(groups) < 2 {
		return ""
	}
	return strings.TrimSpace(groups[1].String())
}
