package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
)

// RetryRepo implements storage.RetryRepository on the jobs table.
type RetryRepo struct {
	db *DB
}

var _ storage.RetryRepository = (*RetryRepo)(nil)

// NewRetryRepo creates a new SQL retry repository.
func NewRetryRepo(db *DB) *RetryRepo {
	return &RetryRepo{db: db}
}

type retryRow struct {
	ID         string         `db:"id"`
	Type       string         `db:"type"`
	Data       string         `db:"data"`
	Status     string         `db:"status"`
	Error      sql.NullString `db:"error"`
	RetryCount int            `db:"retry_count"`
	NextRetry  sql.NullInt64  `db:"next_retry"`
	CreatedAt  int64          `db:"created_at"`
	UpdatedAt  int64          `db:"updated_at"`
}

const retryColumns = `id, type, data, status, error, retry_count, next_retry, created_at, updated_at`

func toRow(rec *domain.RetryRecord) retryRow {
	row := retryRow{
		ID:         rec.ID,
		Type:       rec.Type,
		Data:       string(rec.Data),
		Status:     string(rec.Status),
		Error:      sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		RetryCount: rec.RetryCount,
		CreatedAt:  rec.CreatedAt.UnixMilli(),
		UpdatedAt:  rec.UpdatedAt.UnixMilli(),
	}
	if rec.NextRetry != nil {
		row.NextRetry = sql.NullInt64{Int64: rec.NextRetry.UnixMilli(), Valid: true}
	}
	return row
}

func (row retryRow) record() *domain.RetryRecord {
	rec := &domain.RetryRecord{
		ID:         row.ID,
		Type:       row.Type,
		Data:       []byte(row.Data),
		Status:     domain.RetryStatus(row.Status),
		Error:      row.Error.String,
		RetryCount: row.RetryCount,
		CreatedAt:  time.UnixMilli(row.CreatedAt),
		UpdatedAt:  time.UnixMilli(row.UpdatedAt),
	}
	if row.NextRetry.Valid {
		t := time.UnixMilli(row.NextRetry.Int64)
		rec.NextRetry = &t
	}
	return rec
}

// Insert stores a new record.
func (r *RetryRepo) Insert(ctx context.Context, rec *domain.RetryRecord) error {
	query := `
		INSERT INTO jobs (` + retryColumns + `)
		VALUES (:id, :type, :data, :status, :error, :retry_count, :next_retry, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, toRow(rec))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrRecordExists
		}
		return fmt.Errorf("failed to insert retry record: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (r *RetryRepo) Get(ctx context.Context, id string) (*domain.RetryRecord, error) {
	query := r.db.Rebind(`SELECT ` + retryColumns + ` FROM jobs WHERE id = ?`)

	var row retryRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry record: %w", err)
	}
	return row.record(), nil
}

// Update overwrites the mutable fields of a record.
func (r *RetryRepo) Update(ctx context.Context, rec *domain.RetryRecord) error {
	query := `
		UPDATE jobs
		SET status = :status, error = :error, retry_count = :retry_count,
		    next_retry = :next_retry, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, toRow(rec))
	if err != nil {
		return fmt.Errorf("failed to update retry record: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return storage.ErrRecordNotFound
	}
	return nil
}

// Delete removes records by id.
func (r *RetryRepo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM jobs WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete retry records: %w", err)
	}
	return nil
}

// ListDue returns failed records whose next retry has passed.
func (r *RetryRepo) ListDue(ctx context.Context, now time.Time) ([]*domain.RetryRecord, error) {
	query := r.db.Rebind(`
		SELECT ` + retryColumns + `
		FROM jobs
		WHERE status = ? AND next_retry <= ?
		ORDER BY next_retry ASC, created_at ASC
	`)
	return r.selectRecords(ctx, query, string(domain.RetryStatusFailed), now.UnixMilli())
}

// ListStale returns records in status last updated before the cutoff.
func (r *RetryRepo) ListStale(
	ctx context.Context,
	status domain.RetryStatus,
	before time.Time,
) ([]*domain.RetryRecord, error) {
	query := r.db.Rebind(`
		SELECT ` + retryColumns + `
		FROM jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
	`)
	return r.selectRecords(ctx, query, string(status), before.UnixMilli())
}

func (r *RetryRepo) selectRecords(ctx context.Context, query string, args ...any) ([]*domain.RetryRecord, error) {
	var rows []retryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list retry records: %w", err)
	}
	out := make([]*domain.RetryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// CountByStatus returns the number of records per status.
func (r *RetryRepo) CountByStatus(ctx context.Context) (map[domain.RetryStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count retry records: %w", err)
	}
	counts := make(map[domain.RetryStatus]int, len(domain.RetryStatuses))
	for _, s := range domain.RetryStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[domain.RetryStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
