package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

var (
	// ErrRecordExists is returned when inserting a retry record whose id is taken.
	ErrRecordExists = errors.New("retry record already exists")
	// ErrRecordNotFound is returned when updating a retry record that doesn't exist.
	ErrRecordNotFound = errors.New("retry record not found")
)

// RetryRepository persists retry records.
type RetryRepository interface {
	// Insert stores a new record
	Insert(ctx context.Context, rec *domain.RetryRecord) error

	// Get retrieves a record by id. Returns nil, nil when absent.
	Get(ctx context.Context, id string) (*domain.RetryRecord, error)

	// Update overwrites status, error, retry count, next retry and updated_at
	Update(ctx context.Context, rec *domain.RetryRecord) error

	// Delete removes records. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// ListDue returns failed records whose next retry is at or before now,
	// oldest schedule first
	ListDue(ctx context.Context, now time.Time) ([]*domain.RetryRecord, error)

	// ListStale returns records in status that were last touched before the cutoff
	ListStale(
		ctx context.Context,
		status domain.RetryStatus,
		before time.Time,
	) ([]*domain.RetryRecord, error)

	// CountByStatus returns the number of records per status
	CountByStatus(ctx context.Context) (map[domain.RetryStatus]int, error)
}

// HistoryRepository persists classification history for the majority vote.
type HistoryRepository interface {
	// Append records one resolved classification
	Append(ctx context.Context, entry *domain.HistoryEntry) error

	// FindMajority returns the most frequent category among entries whose
	// merchant equals merchant or whose description contains description.
	// Ties break on higher average confidence. Returns nil, nil when nothing matches.
	FindMajority(ctx context.Context, merchant, description string) (*domain.CategoryAggregate, error)

	// Stats returns totals per category
	Stats(ctx context.Context) (*domain.HistoryStats, error)
}
