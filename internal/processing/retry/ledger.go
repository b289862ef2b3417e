// Package retry keeps the durable trace of jobs that are in flight or waiting
// for another attempt, applies the backoff schedule and dead-letters jobs that
// run out of attempts.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/core/events"
	"github.com/vietddude/txclassifier/internal/infra/storage"
	"github.com/vietddude/txclassifier/internal/processing/metrics"
)

// ErrInterrupted is recorded on processing records found stale at startup.
var ErrInterrupted = errors.New("job interrupted before completion")

// DeadLetter is what remains of a job after its record was deleted.
type DeadLetter struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
	DiedAt     time.Time       `json:"died_at"`
}

// Stats is the ledger's observability snapshot.
type Stats struct {
	ByStatus    map[domain.RetryStatus]int `json:"by_status"`
	DeadLetters int                        `json:"dead_letters"`
}

// Ledger owns retry records. All durable errors are returned to the caller.
type Ledger struct {
	repo     storage.RetryRepository
	schedule Schedule
	observer events.Observer
	now      func() time.Time

	mu        sync.Mutex
	dead      []DeadLetter
	deadLimit int
	deadTotal int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDeadLetterBuffer keeps the last n dead letters in memory.
func WithDeadLetterBuffer(n int) Option {
	return func(l *Ledger) { l.deadLimit = n }
}

// NewLedger creates a ledger over repo. An empty schedule uses DefaultSchedule.
func NewLedger(
	repo storage.RetryRepository,
	schedule Schedule,
	observer events.Observer,
	opts ...Option,
) *Ledger {
	if len(schedule) == 0 {
		schedule = DefaultSchedule()
	}
	if observer == nil {
		observer = events.Nop
	}
	l := &Ledger{
		repo:      repo,
		schedule:  schedule,
		observer:  observer,
		now:       time.Now,
		deadLimit: 100,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schedule returns the backoff table in use.
func (l *Ledger) Schedule() Schedule {
	return l.schedule
}

// Enqueue persists a processing record for a job about to start.
func (l *Ledger) Enqueue(ctx context.Context, jobType string, data any) (*domain.RetryRecord, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job data: %w", err)
	}

	now := l.now()
	rec := &domain.RetryRecord{
		ID:        uuid.NewString(),
		Type:      jobType,
		Data:      payload,
		Status:    domain.RetryStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return rec, nil
}

// Resume re-tracks a recovered record under its id, keeping its retry count so
// the retry budget carries across attempts.
func (l *Ledger) Resume(ctx context.Context, rec *domain.RetryRecord) (*domain.RetryRecord, error) {
	resumed := *rec
	resumed.Status = domain.RetryStatusProcessing
	resumed.NextRetry = nil
	resumed.UpdatedAt = l.now()
	if resumed.CreatedAt.IsZero() {
		resumed.CreatedAt = resumed.UpdatedAt
	}
	if err := l.repo.Insert(ctx, &resumed); err != nil {
		return nil, fmt.Errorf("failed to resume job %s: %w", rec.ID, err)
	}
	return &resumed, nil
}

// Complete deletes the record of a job that succeeded.
func (l *Ledger) Complete(ctx context.Context, id string) error {
	if err := l.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. The record is either rescheduled per the
// backoff table or, once the table is exhausted, deleted and dead-lettered.
// A record that no longer exists is left alone.
func (l *Ledger) Fail(ctx context.Context, id string, cause error) error {
	rec, err := l.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if rec == nil {
		return nil
	}

	now := l.now()
	rec.RetryCount++
	rec.UpdatedAt = now
	if cause != nil {
		rec.Error = cause.Error()
	}

	if l.schedule.Exhausted(rec.RetryCount) {
		if err := l.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to dead-letter job %s: %w", id, err)
		}
		rec.NextRetry = nil
		l.remember(rec, now)
		l.observer.Observe(domain.Event{
			Type:   domain.EventJobDead,
			At:     now,
			Record: rec,
			Error:  rec.Error,
		})
		return nil
	}

	next := now.Add(l.schedule.Delay(rec.RetryCount))
	rec.Status = domain.RetryStatusFailed
	rec.NextRetry = &next
	if err := l.repo.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", id, err)
	}
	l.observer.Observe(domain.Event{
		Type:      domain.EventRetryScheduled,
		At:        now,
		Record:    rec,
		Error:     rec.Error,
		NextRetry: &next,
	})
	return nil
}

// RecoverDueJobs hands back every failed record whose next retry has passed
// and removes them from storage. Callers resubmit the returned records.
func (l *Ledger) RecoverDueJobs(ctx context.Context) ([]*domain.RetryRecord, error) {
	now := l.now()
	due, err := l.repo.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	ids := make([]string, len(due))
	for i, rec := range due {
		ids[i] = rec.ID
		l.observer.Observe(domain.Event{
			Type:   domain.EventJobRetry,
			At:     now,
			Record: rec,
		})
	}
	if err := l.repo.Delete(ctx, ids...); err != nil {
		return nil, fmt.Errorf("failed to remove recovered jobs: %w", err)
	}
	return due, nil
}

// RecoverStale fails every processing record not touched for olderThan. Such
// records belong to attempts that died or lost their outcome write.
func (l *Ledger) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return l.failProcessing(ctx, l.now().Add(-olderThan))
}

// RecoverInterrupted fails every processing record regardless of age. It is
// only safe before this process starts attempts of its own.
func (l *Ledger) RecoverInterrupted(ctx context.Context) (int, error) {
	return l.failProcessing(ctx, l.now().Add(time.Minute))
}

func (l *Ledger) failProcessing(ctx context.Context, before time.Time) (int, error) {
	stale, err := l.repo.ListStale(ctx, domain.RetryStatusProcessing, before)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	for _, rec := range stale {
		if err := l.Fail(ctx, rec.ID, ErrInterrupted); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Stats returns record counts per status and the number of dead letters seen.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	counts, err := l.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for status, n := range counts {
		metrics.RetryRecords.WithLabelValues(string(status)).Set(float64(n))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return &Stats{ByStatus: counts, DeadLetters: l.deadTotal}, nil
}

// DeadLetters returns the most recent dead letters, newest last.
func (l *Ledger) DeadLetters() []DeadLetter {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DeadLetter, len(l.dead))
	copy(out, l.dead)
	return out
}

func (l *Ledger) remember(rec *domain.RetryRecord, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadTotal++
	if l.deadLimit <= 0 {
		return
	}
	l.dead = append(l.dead, DeadLetter{
		ID:         rec.ID,
		Type:       rec.Type,
		Data:       rec.Data,
		Error:      rec.Error,
		RetryCount: rec.RetryCount,
		CreatedAt:  rec.CreatedAt,
		DiedAt:     at,
	})
	if over := len(l.dead) - l.deadLimit; over > 0 {
		l.dead = append([]DeadLetter(nil), l.dead[over:]...)
	}
}
