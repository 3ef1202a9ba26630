package analyzer

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/linecraftx/linecraft-bot/internal/models"
)

// OpenAIAnalyzer calls the capability endpoint through the OpenAI-compatible
// chat API (OpenRouter in production).
type OpenAIAnalyzer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewOpenAIAnalyzer(opts Options, logger *zap.Logger) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIAnalyzer{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      logger,
	}
}

func (a *OpenAIAnalyzer) SolveQuestion(ctx context.Context, input Input) (*Solution, Usage, error) {
	raw, usage, err := a.complete(ctx, solveQuestionSystemPrompt, "Please analyze the attached question and solve it.", input)
	if err != nil {
		return nil, usage, err
	}

	sol, err := parseSolution(raw)
	if err != nil {
		a.logger.Error("Capability returned malformed solution",
			zap.Error(err),
			zap.String("response", raw))
		return nil, usage, err
	}
	return sol, usage, nil
}

func (a *OpenAIAnalyzer) GenerateSuggestions(ctx context.Context, action models.Action, input Input, refine models.RefineType) ([]Suggestion, Usage, error) {
	var system, noun string
	switch action {
	case models.ActionPickupLines:
		system, noun = pickupLinesSystemPrompt, "pickup lines"
	case models.ActionConvoStarters:
		system, noun = convoStartersSystemPrompt, "conversation starters"
	case models.ActionConvoReplies:
		system, noun = convoRepliesSystemPrompt, "conversation replies"
	default:
		return nil, Usage{}, fmt.Errorf("action %q has no suggestion prompt", action)
	}

	userText := fmt.Sprintf("Please analyze the attachment and generate 4 %s%s.", refineQualifier(refine), noun)
	raw, usage, err := a.complete(ctx, system, userText, input)
	if err != nil {
		return nil, usage, err
	}

	suggestions, err := parseSuggestions(raw)
	if err != nil {
		a.logger.Error("Capability returned malformed suggestions",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("response", raw))
		return nil, usage, err
	}
	return suggestions, usage, nil
}

func (a *OpenAIAnalyzer) GenerateDateIdeas(ctx context.Context, input Input, refine models.RefineType) ([]DateIdea, Usage, error) {
	userText := fmt.Sprintf("Please analyze the attachment and suggest %sdate ideas.", refineQualifier(refine))
	raw, usage, err := a.complete(ctx, dateIdeasSystemPrompt, userText, input)
	if err != nil {
		return nil, usage, err
	}

	ideas, err := parseDateIdeas(raw)
	if err != nil {
		a.logger.Error("Capability returned malformed date ideas",
			zap.Error(err),
			zap.String("response", raw))
		return nil, usage, err
	}
	return ideas, usage, nil
}

// refineQualifier turns a refine tag into a prompt adjective ("longer ",
// "more spicy ", ...), empty when no refinement is requested.
func refineQualifier(refine models.RefineType) string {
	switch refine {
	case models.RefineLonger:
		return "longer "
	case models.RefineShorter:
		return "shorter "
	case models.RefineMoreSpicy:
		return "more spicy "
	case models.RefineLessSpicy:
		return "less spicy "
	default:
		return ""
	}
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, system, userText string, input Input) (string, Usage, error) {
	if err := input.validate(); err != nil {
		return "", Usage{}, err
	}

	userMessage := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if input.ImageDataURI != "" {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: userText},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: input.ImageDataURI},
			},
		}
		userMessage.MultiContent = parts
	} else {
		userMessage.Content = userText + "\n\n" + input.Text
	}

	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				userMessage,
			},
			MaxTokens:   a.maxTokens,
			Temperature: float32(a.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", Usage{}, fmt.Errorf("capability call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("capability returned no choices")
	}

	usage := Usage{
		Model:        a.model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

var _ Analyzer = (*OpenAIAnalyzer)(nil)
