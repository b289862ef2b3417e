// Package firefly is a client for the Firefly III REST API, limited to what
// categorization needs: listing categories and assigning one to a
// transaction group.
package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

// Config holds Firefly III connection settings.
type Config struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Tag        string        `yaml:"tag"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Error is a non-2xx answer from Firefly III.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("firefly: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one Firefly III instance.
type Client struct {
	baseURL    string
	token      string
	tag        string
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a Firefly III client.
func NewClient(cfg Config) *Client {
	if cfg.Tag == "" {
		cfg.Tag = "AI categorized"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		tag:        cfg.Tag,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        slog.Default().With("component", "firefly"),
	}
}

type categoryPage struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Name string `json:"name"`
		} `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Pagination struct {
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// Categories returns every category as name -> id.
func (c *Client) Categories(ctx context.Context) (map[string]string, error) {
	categories := make(map[string]string)
	for page := 1; ; page++ {
		var resp categoryPage
		url := fmt.Sprintf("%s/api/v1/categories?page=%d", c.baseURL, page)
		if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}
		for _, cat := range resp.Data {
			categories[cat.Attributes.Name] = cat.ID
		}
		if len(resp.Data) == 0 || page >= resp.Meta.Pagination.TotalPages {
			return categories, nil
		}
	}
}

type journalUpdate struct {
	JournalID  string   `json:"transaction_journal_id"`
	CategoryID string   `json:"category_id"`
	Tags       []string `json:"tags"`
}

type groupUpdate struct {
	ApplyRules   bool            `json:"apply_rules"`
	FireWebhooks bool            `json:"fire_webhooks"`
	Transactions []journalUpdate `json:"transactions"`
}

// SetCategory assigns categoryID to every journal of a transaction group and
// tags them. Journals are sent in batches; each batch is retried on transport
// errors, 429 and 5xx.
func (c *Client) SetCategory(
	ctx context.Context,
	groupID string,
	txs []domain.LedgerTransaction,
	categoryID string,
) error {
	url := fmt.Sprintf("%s/api/v1/transactions/%s", c.baseURL, groupID)

	for start := 0; start < len(txs); start += c.batchSize {
		end := min(start+c.batchSize, len(txs))
		body := groupUpdate{
			ApplyRules:   true,
			FireWebhooks: true,
			Transactions: make([]journalUpdate, 0, end-start),
		}
		for _, tx := range txs[start:end] {
			tags := slices.Clone(tx.Tags)
			if !slices.Contains(tags, c.tag) {
				tags = append(tags, c.tag)
			}
			body.Transactions = append(body.Transactions, journalUpdate{
				JournalID:  tx.JournalID,
				CategoryID: categoryID,
				Tags:       tags,
			})
		}

		attempt := 0
		err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			attempt++
			err := c.do(ctx, http.MethodPut, url, body, nil)
			if err == nil {
				return nil
			}
			if !retryable(err) {
				return err
			}
			if attempt < c.maxRetries {
				c.log.Warn("Retrying batch update",
					"group_id", groupID,
					"batch", fmt.Sprintf("%d-%d", start+1, end),
					"attempt", attempt,
					"error", err,
				)
			}
			return retry.RetryableError(err)
		})
		if err != nil {
			return fmt.Errorf("failed to update transactions %d-%d of group %s: %w", start+1, end, groupID, err)
		}
		c.log.Info("Updated batch",
			"group_id", groupID,
			"batch", fmt.Sprintf("%d-%d", start+1, end),
			"total", len(txs),
		)
	}
	return nil
}

// backoff waits retryDelay, 2*retryDelay, ... for at most maxRetries attempts.
func (c *Client) backoff() retry.Backoff {
	var n time.Duration
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return n * c.retryDelay, false
	})
	return retry.WithMaxRetries(uint64(c.maxRetries-1), linear)
}

func retryable(err error) bool {
	var ferr *Error
	if !errors.As(err, &ferr) {
		return true // transport error
	}
	return ferr.StatusCode == http.StatusTooManyRequests || ferr.StatusCode >= 500
}

func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
