package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strengthclub/concierge/internal/models"
)

func TestIsHandoverConfirmation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"name and mobile", "Name: Jo\nMobile: 0400000000", true},
		{"all fields", "Name: Jo\nMobile: 0400000000\nEmail: jo@example.com\nGoal: strength\nPlan: 12-week", true},
		{"lowercase labels", "name: Jo\nmobile: 0400000000", true},
		{"missing mobile", "Name: Jo\nEmail: jo@example.com", false},
		{"missing name", "Mobile: 0400000000", false},
		{"empty", "", false},
		{"plain reply", "Happy to help with your training!", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHandoverConfirmation(tt.text))
		})
	}
}

func TestExtractContact_FullRecord(t *testing.T) {
	text := "Name: Jo Smith\nMobile: 0400 000 000\nEmail: jo@example.com\nGoal: strength\nPlan: 12-week coaching"
	info := ExtractContact(text)
	require.NotNil(t, info)
	assert.Equal(t, "Jo Smith", info.Name)
	assert.Equal(t, "0400 000 000", info.Mobile)
	assert.Equal(t, "jo@example.com", info.Email)
	assert.Equal(t, "strength", info.Goal)
	assert.Equal(t, "12-week coaching", info.Plan)
}

func TestExtractContact_NoEmail(t *testing.T) {
	info := ExtractContact("Name: Jo\nMobile: 0400000000\nGoal: strength\nPlan: 12-week")
	require.NotNil(t, info)
	assert.Equal(t, "Jo", info.Name)
	assert.Equal(t, "0400000000", info.Mobile)
	assert.Empty(t, info.Email)
	assert.Equal(t, "strength", info.Goal)
	assert.Equal(t, "12-week", info.Plan)
}

func TestExtractContact_RequiredFieldsMissing(t *testing.T) {
	assert.Nil(t, ExtractContact("Name: Jo\nEmail: jo@example.com\nGoal: strength"))
	assert.Nil(t, ExtractContact("Mobile: 0400000000\nEmail: jo@example.com"))
	assert.Nil(t, ExtractContact(""))
}

func TestExtractContact_TrimsValues(t *testing.T) {
	info := ExtractContact("Name:   Jo  \nMobile:  0400000000  ")
	require.NotNil(t, info)
	assert.Equal(t, "Jo", info.Name)
	assert.Equal(t, "0400000000", info.Mobile)
}

func TestScrapeEmail(t *testing.T) {
	assert.Equal(t, "jo@example.com", ScrapeEmail("you can reach me at jo@example.com any time"))
	assert.Empty(t, ScrapeEmail("no address here"))
	assert.Empty(t, ScrapeEmail(""))
}

func TestEmailFromTranscript_NewestUserMessageFirst(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "prompt with admin@internal.example"},
		{Role: models.RoleUser, Content: "old address old@example.com"},
		{Role: models.RoleAssistant, Content: "noted, reachable at bot@example.com"},
		{Role: models.RoleUser, Content: "actually use new@example.com"},
	}
	assert.Equal(t, "new@example.com", EmailFromTranscript(messages))
}

func TestEmailFromTranscript_NoUserEmail(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, Content: "contact me at bot@example.com"},
		{Role: models.RoleUser, Content: "no address from me"},
	}
	assert.Empty(t, EmailFromTranscript(messages))
}
