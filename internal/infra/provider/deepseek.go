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
	deepSeekBaseURL = "https://api.deepseek.com/v1"
	deepSeekModel   = "deepseek-chat"
)

// DeepSeek classifies with the DeepSeek chat API.
type DeepSeek struct {
	client     *chatClient
	model      string
	confidence float64
}

// NewDeepSeek creates a DeepSeek provider.
func NewDeepSeek(s Settings) *DeepSeek {
	if s.BaseURL == "" {
		s.BaseURL = deepSeekBaseURL
	}
	if s.Model == "" {
		s.Model = deepSeekModel
	}
	if s.Confidence == 0 {
		s.Confidence = 0.8
	}
	return &DeepSeek{
		client:     newChatClient(NameDeepSeek, strings.TrimRight(s.BaseURL, "/"), s.APIKey, s.Timeout),
		model:      s.Model,
		confidence: s.Confidence,
	}
}

func (d *DeepSeek) Name() string { return NameDeepSeek }

func (d *DeepSeek) Classify(
	ctx context.Context,
	categories []string,
	merchant, description string,
) (*classify.Suggestion, error) {
	prompt := strictPrompt(categories, merchant, description)
	content, err := d.client.complete(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		Messages:    userMessage(prompt),
		Temperature: 0.7,
		MaxTokens:   64,
	})
	if err != nil {
		return nil, err
	}

	guess := normalize(content)
	if !slices.Contains(categories, guess) {
		slog.Warn("DeepSeek could not classify the transaction", "merchant", merchant, "guess", guess)
		return nil, nil
	}

	return &classify.Suggestion{
		Category:   guess,
		Confidence: d.confidence,
		Prompt:     prompt,
		Response:   content,
	}, nil
}

func strictPrompt(categories []string, merchant, description string) string {
	return fmt.Sprintf(`IMPORTANT: Your response must be EXACTLY one of these categories: %s.

Categorize this bank transaction:
Merchant: "%s"
Description: "%s"

Rules:
1. Output ONLY the category name
2. Category must match EXACTLY one from the list
3. No explanations or additional text
4. No punctuation or formatting

Category:`, strings.Join(categories, ", "), merchant, description)
}
