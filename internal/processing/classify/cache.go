package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
	"github.com/vietddude/txclassifier/internal/processing/metrics"
)

// Cache answers from classification history when it is confident enough and
// falls back to the provider otherwise. Every provider answer is appended to
// history so frequent payees turn into cache hits.
type Cache struct {
	history  storage.HistoryRepository
	provider Provider
	now      func() time.Time
}

// NewCache creates a cache over history, falling back to provider.
func NewCache(history storage.HistoryRepository, provider Provider) *Cache {
	return &Cache{
		history:  history,
		provider: provider,
		now:      time.Now,
	}
}

// Classify returns the category for merchant/description, or nil when the
// provider declines or answers outside categories.
func (c *Cache) Classify(
	ctx context.Context,
	categories []string,
	merchant, description string,
) (*domain.Classification, error) {
	majority, err := c.history.FindMajority(ctx, merchant, description)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to query classification history: %w", err)
	}

	switch {
	case majority == nil:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	case majority.AvgConfidence > ConfidenceThreshold:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		slog.Debug("Classification served from history",
			"merchant", merchant,
			"category", majority.Category,
			"count", majority.Count,
			"confidence", majority.AvgConfidence,
		)
		return &domain.Classification{
			Category:   majority.Category,
			Confidence: majority.AvgConfidence,
			Source:     domain.SourceDatabase,
		}, nil
	default:
		metrics.CacheLookups.WithLabelValues("below_threshold").Inc()
	}

	suggestion, err := c.ask(ctx, categories, merchant, description)
	if err != nil {
		return nil, err
	}
	if suggestion == nil {
		return nil, nil
	}
	if !slices.Contains(categories, suggestion.Category) {
		slog.Warn("Provider answered outside the candidate categories",
			"provider", c.provider.Name(),
			"merchant", merchant,
			"answer", suggestion.Category,
		)
		return nil, nil
	}

	entry := &domain.HistoryEntry{
		Merchant:    merchant,
		Description: description,
		Category:    suggestion.Category,
		Confidence:  suggestion.Confidence,
		CreatedAt:   c.now(),
	}
	if err := c.history.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record classification: %w", err)
	}

	return &domain.Classification{
		Category:   suggestion.Category,
		Confidence: suggestion.Confidence,
		Source:     c.provider.Name(),
		Prompt:     suggestion.Prompt,
		Response:   suggestion.Response,
	}, nil
}

func (c *Cache) ask(
	ctx context.Context,
	categories []string,
	merchant, description string,
) (*Suggestion, error) {
	name := c.provider.Name()
	start := time.Now()
	suggestion, err := c.provider.Classify(ctx, categories, merchant, description)
	metrics.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.ProviderCalls.WithLabelValues(name, "error").Inc()
		var perr *Error
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &Error{Provider: name, Err: err}
	case suggestion == nil:
		metrics.ProviderCalls.WithLabelValues(name, "no_match").Inc()
	default:
		metrics.ProviderCalls.WithLabelValues(name, "match").Inc()
	}
	return suggestion, nil
}
