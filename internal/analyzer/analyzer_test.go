package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSolutionQuestion(t *testing.T) {
	raw := `{
		"classification": "question",
		"answer": {
			"type": "boolean",
			"selected": [],
			"numeric_answer": null,
			"boolean_answer": true,
			"short_answer": null,
			"confidence": 0.9
		},
		"justification": "The statement follows from the definition."
	}`

	sol, err := parseSolution(raw)
	require.NoError(t, err)
	assert.Equal(t, ClassificationQuestion, sol.Classification)
	assert.Equal(t, "boolean", sol.Answer.Type)
	require.NotNil(t, sol.Answer.BooleanAnswer)
	assert.True(t, *sol.Answer.BooleanAnswer)
	assert.InDelta(t, 0.9, sol.Answer.Confidence, 1e-9)
}

func TestParseSolutionNotAQuestion(t *testing.T) {
	sol, err := parseSolution(`{"classification": "not_a_question", "answer": {"type": "", "confidence": 0}, "justification": ""}`)
	require.NoError(t, err)
	assert.Equal(t, ClassificationNotAQuestion, sol.Classification)
}

func TestParseSolutionRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `answer: true`},
		{"unknown classification", `{"classification": "maybe", "answer": {"type": "boolean", "confidence": 0.5}}`},
		{"unknown answer type", `{"classification": "question", "answer": {"type": "essay", "confidence": 0.5}}`},
		{"confidence out of range", `{"classification": "question", "answer": {"type": "boolean", "confidence": 1.5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSolution(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParseSuggestions(t *testing.T) {
	raw := `{"suggestions": [
		{"line": "Is that the lavender latte cafe?", "rationale": "references the photo setting"},
		{"response": "I'd love that!", "rationale": "agreeable tone"}
	]}`

	suggestions, err := parseSuggestions(raw)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "Is that the lavender latte cafe?", suggestions[0].Text)
	assert.Equal(t, "I'd love that!", suggestions[1].Text)
}

func TestParseSuggestionsRejectsEmpty(t *testing.T) {
	_, err := parseSuggestions(`{"suggestions": []}`)
	assert.Error(t, err)

	_, err = parseSuggestions(`{"suggestions": [{"rationale": "no text"}]}`)
	assert.Error(t, err)
}

func TestParseDateIdeas(t *testing.T) {
	raw := `{"ideas": [{
		"title": "Jazz at The Green Mill",
		"category": "Live Music",
		"vibe": "Romantic",
		"description": "Historic jazz lounge.",
		"details": {"location_name": "The Green Mill", "location_info": "4802 N Broadway", "notes": "cash only"}
	}]}`

	ideas, err := parseDateIdeas(raw)
	require.NoError(t, err)
	require.Len(t, ideas, 1)
	assert.Equal(t, "Jazz at The Green Mill", ideas[0].Title)
	assert.Equal(t, "cash only", ideas[0].Details.Notes)
}

func TestParseDateIdeasRejectsIncomplete(t *testing.T) {
	_, err := parseDateIdeas(`{"ideas": [{"category": "Dining"}]}`)
	assert.Error(t, err)
}

func TestInputValidate(t *testing.T) {
	assert.Error(t, Input{}.validate())
	assert.NoError(t, Input{Text: "hello"}.validate())
	assert.NoError(t, Input{ImageDataURI: "data:image/jpeg;base64,xxx"}.validate())
}
