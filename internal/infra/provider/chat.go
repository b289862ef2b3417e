package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vietddude/txclassifier/internal/processing/classify"
)

// chatClient talks to any OpenAI-compatible chat-completions API.
type chatClient struct {
	name   string
	client *openai.Client
}

func newChatClient(name, baseURL, apiKey string, timeout time.Duration) *chatClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &chatClient{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
	}
}

func userMessage(content string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: content}}
}

// complete returns the first choice's content. Every failure is a *classify.Error.
func (c *chatClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", c.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", &classify.Error{Provider: c.name, Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *chatClient) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &classify.Error{
			Provider:   c.name,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &classify.Error{
			Provider:   c.name,
			StatusCode: reqErr.HTTPStatusCode,
			Body:       body,
			Err:        err,
		}
	}
	return &classify.Error{Provider: c.name, Err: err}
}
