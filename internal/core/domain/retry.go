package domain

import (
	"encoding/json"
	"time"
)

// RetryRecord is the durable trace of a job that is in flight or waiting to be retried.
type RetryRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Status     RetryStatus     `json:"status"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	NextRetry  *time.Time      `json:"next_retry,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type RetryStatus string

const (
	RetryStatusProcessing RetryStatus = "processing"
	RetryStatusFailed     RetryStatus = "failed"
)

// RetryStatuses lists every status a stored record can have.
var RetryStatuses = []RetryStatus{RetryStatusProcessing, RetryStatusFailed}

// Due reports whether a failed record may be attempted again at now.
func (r *RetryRecord) Due(now time.Time) bool {
	return r.Status == RetryStatusFailed && r.NextRetry != nil && !r.NextRetry.After(now)
}
