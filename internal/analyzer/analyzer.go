// Package analyzer wraps the external LLM capability: solving a photographed
// test question, or generating dating suggestions from a profile/conversation
// screenshot. The model is a black box; this package's obligations are to
// encode the input, pick the right prompt variant, and validate the returned
// shape before anyone uses it.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linecraftx/linecraft-bot/internal/models"
)

type Classification string

const (
	ClassificationQuestion     Classification = "question"
	ClassificationNotAQuestion Classification = "not_a_question"
)

// Answer is the structured result of solving a question.
type Answer struct {
	Type          string   `json:"type"`
	Selected      []string `json:"selected"`
	NumericAnswer *float64 `json:"numeric_answer"`
	BooleanAnswer *bool    `json:"boolean_answer"`
	ShortAnswer   *string  `json:"short_answer"`
	Confidence    float64  `json:"confidence"`
}

var answerTypes = map[string]bool{
	"boolean":      true,
	"single":       true,
	"multi":        true,
	"numeric":      true,
	"short_answer": true,
	"abstain":      true,
}

type Solution struct {
	Classification Classification `json:"classification"`
	Answer         Answer         `json:"answer"`
	Justification  string         `json:"justification"`
}

// Suggestion is one generated line (pickup line, conversation starter or
// reply) with the model's reasoning.
type Suggestion struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

type DateIdeaDetails struct {
	LocationName string `json:"location_name"`
	LocationInfo string `json:"location_info"`
	Notes        string `json:"notes"`
}

type DateIdea struct {
	Title         string          `json:"title"`
	Category      string          `json:"category"`
	Vibe          string          `json:"vibe"`
	EventDatetime string          `json:"event_datetime,omitempty"`
	Description   string          `json:"description"`
	Details       DateIdeaDetails `json:"details"`
}

// Usage carries the token counts reported by the capability endpoint.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Input is either an encoded image or plain text, never both empty.
type Input struct {
	// ImageDataURI is a data:image/jpeg;base64,... URI.
	ImageDataURI string
	Text         string
}

func (in Input) validate() error {
	if in.ImageDataURI == "" && in.Text == "" {
		return fmt.Errorf("analyzer input is empty")
	}
	return nil
}

type Analyzer interface {
	// SolveQuestion classifies the input and, when it is a question,
	// answers it with a structured result.
	SolveQuestion(ctx context.Context, input Input) (*Solution, Usage, error)
	// GenerateSuggestions produces the multi-output dating capabilities
	// (pickup lines, conversation starters, conversation replies).
	GenerateSuggestions(ctx context.Context, action models.Action, input Input, refine models.RefineType) ([]Suggestion, Usage, error)
	// GenerateDateIdeas produces the richer date-idea items.
	GenerateDateIdeas(ctx context.Context, input Input, refine models.RefineType) ([]DateIdea, Usage, error)
}

// parseSolution validates the declared solve-question schema. Malformed
// output is an error for the caller to fail the task on, never a silent
// fallback.
func parseSolution(raw string) (*Solution, error) {
	var sol Solution
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &sol); err != nil {
		return nil, fmt.Errorf("malformed solution payload: %w", err)
	}

	switch sol.Classification {
	case ClassificationQuestion:
		if !answerTypes[sol.Answer.Type] {
			return nil, fmt.Errorf("solution has unknown answer type %q", sol.Answer.Type)
		}
		if sol.Answer.Confidence < 0 || sol.Answer.Confidence > 1 {
			return nil, fmt.Errorf("solution confidence %v out of range", sol.Answer.Confidence)
		}
	case ClassificationNotAQuestion:
		// nothing further to check; the answer block is ignored
	default:
		return nil, fmt.Errorf("solution has unknown classification %q", sol.Classification)
	}

	return &sol, nil
}

// suggestionWire tolerates both output keys the prompt variants use
// ("line" for openers, "response" for replies).
type suggestionWire struct {
	Line      string `json:"line"`
	Response  string `json:"response"`
	Rationale string `json:"rationale"`
}

func parseSuggestions(raw string) ([]Suggestion, error) {
	var wire struct {
		Suggestions []suggestionWire `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil {
		return nil, fmt.Errorf("malformed suggestions payload: %w", err)
	}
	if len(wire.Suggestions) == 0 {
		return nil, fmt.Errorf("suggestions payload is empty")
	}

	out := make([]Suggestion, 0, len(wire.Suggestions))
	for i, s := range wire.Suggestions {
		text := s.Line
		if text == "" {
			text = s.Response
		}
		if text == "" {
			return nil, fmt.Errorf("suggestion %d has no text", i)
		}
		out = append(out, Suggestion{Text: text, Rationale: s.Rationale})
	}
	return out, nil
}

func parseDateIdeas(raw string) ([]DateIdea, error) {
	var wire struct {
		Ideas []DateIdea `json:"ideas"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil {
		return nil, fmt.Errorf("malformed date ideas payload: %w", err)
	}
	if len(wire.Ideas) == 0 {
		return nil, fmt.Errorf("date ideas payload is empty")
	}
	for i, idea := range wire.Ideas {
		if idea.Title == "" || idea.Description == "" {
			return nil, fmt.Errorf("date idea %d is missing title or description", i)
		}
	}
	return wire.Ideas, nil
}
