package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vietddude/txclassifier/internal/processing/classify"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	openAIModel   = "gpt-4o"
)

// OpenAI classifies with the OpenAI chat API.
type OpenAI struct {
	client     *chatClient
	model      string
	confidence float64
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(s Settings) *OpenAI {
	if s.BaseURL == "" {
		s.BaseURL = openAIBaseURL
	}
	if s.Model == "" {
		s.Model = openAIModel
	}
	if s.Confidence == 0 {
		s.Confidence = 0.8
	}
	return &OpenAI{
		client:     newChatClient(NameOpenAI, strings.TrimRight(s.BaseURL, "/"), s.APIKey, s.Timeout),
		model:      s.Model,
		confidence: s.Confidence,
	}
}

func (o *OpenAI) Name() string { return NameOpenAI }

func (o *OpenAI) Classify(
	ctx context.Context,
	categories []string,
	merchant, description string,
) (*classify.Suggestion, error) {
	prompt := consistentPrompt(categories, merchant, description)

	content, err := o.client.complete(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: userMessage(prompt),
	})
	if err != nil {
		return nil, err
	}

	guess := normalize(content)
	if !slices.Contains(categories, guess) {
		slog.Warn("OpenAI could not classify the transaction", "merchant", merchant, "guess", guess)
		return nil, nil
	}

	return &classify.Suggestion{
		Category:   guess,
		Confidence: o.confidence,
		Prompt:     prompt,
		Response:   content,
	}, nil
}

func consistentPrompt(categories []string, merchant, description string) string {
	return fmt.Sprintf(`I want to categorize transactions on my bank account into the following categories: %s.
Please provide a consistent categorization. Just output the name of the category.
Transaction details:
- Destination: "%s"
- Description: "%s"
`, strings.Join(categories, ", "), merchant, description)
}
