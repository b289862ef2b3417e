// Package classify resolves a transaction's category, preferring a confident
// majority from past classifications over a provider call.
package classify

import (
	"context"
	"fmt"
)

// ConfidenceThreshold is the average confidence a historical majority must
// exceed to be reused without asking a provider.
const ConfidenceThreshold = 0.8

// Suggestion is a provider's answer.
type Suggestion struct {
	Category   string
	Confidence float64
	Prompt     string
	Response   string
}

// Provider is a classification backend. Classify returns nil, nil when the
// provider has no confident match among categories.
type Provider interface {
	Name() string
	Classify(ctx context.Context, categories []string, merchant, description string) (*Suggestion, error)
}

// Error is a failed provider call.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: classification failed", e.Provider)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
