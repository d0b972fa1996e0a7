// Package escalation decides when a conversation must move from bot-handled
// to needs-human, and extracts structured contact data from handover replies.
package escalation

import "github.com/dlclark/regexp2"

// Phrase list, revision 2. Matching is case-insensitive and substring-based;
// the list is deliberately conservative-recall — misses are backstopped by
// the handover-confirmation path.
var intentPatterns = compileAll([]string{
	`i cannot help with`,
	`i can't help with`,
	`i'm unable to help`,
	`escalate`,
	`human assistance needed`,
	`speak to a (?:human|person|representative|agent|support)`,
	`transfer to (?:human|person|representative|agent|support)`,
	`connect me with (?:a )?(?:human|person|representative|agent|support)`,
	`talk to (?:a )?(?:human|person|representative|agent|support)`,
	`need (?:a )?(?:human|person|representative|agent|support)`,
	`want (?:to )?speak (?:to|with) (?:a )?(?:human|person|representative|agent|support)`,
})

func compileAll(patterns []string) []*regexp2.Regexp {
	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp2.MustCompile(p, regexp2.IgnoreCase))
	}
	return out
}

// DetectIntent reports whether text contains an explicit request for human
// assistance. False on empty input. Pure function, no state.
func DetectIntent(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range intentPatterns {
		if ok, err := re.MatchString(text); err == nil && ok {
			return true
		}
	}
	return false
}
