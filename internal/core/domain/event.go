package domain

import "time"

// Event is a lifecycle notification emitted by the job store or the retry ledger.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	// Job is a snapshot of the job after the transition.
	Job *Job `json:"job,omitempty"`
	// Jobs holds the active jobs after created, updated and removed transitions.
	Jobs []Job `json:"jobs,omitempty"`

	Record    *RetryRecord `json:"record,omitempty"`
	Error     string       `json:"error,omitempty"`
	NextRetry *time.Time   `json:"nextRetry,omitempty"`
}

type EventType string

const (
	EventJobCreated  EventType = "job created"
	EventJobUpdated  EventType = "job updated"
	EventJobFinished EventType = "job finished"
	EventJobFailed   EventType = "job failed"
	EventJobRemoved  EventType = "job removed"

	EventRetryScheduled EventType = "job failed (will retry)"
	EventJobDead        EventType = "job dead"
	EventJobRetry       EventType = "job retry"
)
