// Package provider implements the classification providers. Both speak the
// OpenAI chat-completions protocol; they differ in endpoint, model, prompt and
// request tuning.
package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/txclassifier/internal/processing/classify"
)

const (
	NameOpenAI   = "openai"
	NameDeepSeek = "deepseek"
)

// Settings configures one provider.
type Settings struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// Confidence is reported with every answer; the APIs don't return one.
	Confidence float64       `yaml:"confidence"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Config selects a provider and holds per-provider settings.
type Config struct {
	Provider string   `yaml:"provider"`
	OpenAI   Settings `yaml:"openai"`
	DeepSeek Settings `yaml:"deepseek"`
}

// New builds the configured provider.
func New(cfg Config) (classify.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case NameDeepSeek, "":
		return NewDeepSeek(cfg.DeepSeek), nil
	case NameOpenAI:
		return NewOpenAI(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf(
			"unknown classifier provider %q, supported providers are: %s, %s",
			cfg.Provider, NameOpenAI, NameDeepSeek,
		)
	}
}

// normalize turns a raw completion into a category guess.
func normalize(content string) string {
	return strings.TrimSpace(strings.Replace(content, "\n", "", 1))
}
