package domain

import "time"

// JobStatus is the lifecycle state of an active classification job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobFinished   JobStatus = "finished"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job leaves the active registry in this state.
func (s JobStatus) IsTerminal() bool {
	return s == JobFinished || s == JobFailed
}

// Outcome values recorded on JobData once a job has been resolved.
const (
	OutcomeCategorized  = "categorized"
	OutcomeInconclusive = "inconclusive"
)

// JobError describes why a job failed.
type JobError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// JobData is the payload a job carries while it is active.
type JobData struct {
	Merchant    string  `json:"destinationName"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Source      string  `json:"source,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Response    string  `json:"response,omitempty"`
	Outcome     string  `json:"outcome,omitempty"`
	Attempt     int     `json:"attempt,omitempty"`
}

// Job is one unit of classification work.
type Job struct {
	ID      string    `json:"id"`
	Status  JobStatus `json:"status"`
	Data    JobData   `json:"data"`
	Created time.Time `json:"created"`
	Error   *JobError `json:"error,omitempty"`
}
