package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
)

// HistoryRepo implements storage.HistoryRepository on classification_history.
type HistoryRepo struct {
	db *DB
}

var _ storage.HistoryRepository = (*HistoryRepo)(nil)

// NewHistoryRepo creates a new SQL history repository.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Append records one resolved classification.
func (r *HistoryRepo) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := r.db.Rebind(`
		INSERT INTO classification_history (merchant, description, category, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.QueryRowxContext(
		ctx,
		query,
		entry.Merchant,
		entry.Description,
		entry.Category,
		entry.Confidence,
		entry.CreatedAt.UnixMilli(),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

type aggregateRow struct {
	Category      string  `db:"category"`
	Occurrences   int     `db:"occurrences"`
	AvgConfidence float64 `db:"avg_confidence"`
}

// FindMajority returns the winning category for a merchant/description pair.
func (r *HistoryRepo) FindMajority(
	ctx context.Context,
	merchant, description string,
) (*domain.CategoryAggregate, error) {
	where := `merchant = ?`
	args := []any{merchant}
	if description != "" {
		like := "LIKE"
		if !r.db.isSQLite() {
			like = "ILIKE"
		}
		where += ` OR description ` + like + ` ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(description)+"%")
	}

	query := r.db.Rebind(`
		SELECT category, COUNT(*) AS occurrences, AVG(confidence) AS avg_confidence
		FROM classification_history
		WHERE ` + where + `
		GROUP BY category
		ORDER BY occurrences DESC, avg_confidence DESC, category ASC
		LIMIT 1
	`)

	var row aggregateRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find majority category: %w", err)
	}
	return &domain.CategoryAggregate{
		Category:      row.Category,
		Count:         row.Occurrences,
		AvgConfidence: row.AvgConfidence,
	}, nil
}

// Stats returns totals per category.
func (r *HistoryRepo) Stats(ctx context.Context) (*domain.HistoryStats, error) {
	var rows []aggregateRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT category, COUNT(*) AS occurrences, AVG(confidence) AS avg_confidence
		FROM classification_history
		GROUP BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history stats: %w", err)
	}

	stats := &domain.HistoryStats{Categories: make(map[string]domain.CategoryAggregate, len(rows))}
	for _, row := range rows {
		stats.Total += row.Occurrences
		stats.Categories[row.Category] = domain.CategoryAggregate{
			Category:      row.Category,
			Count:         row.Occurrences,
			AvgConfidence: row.AvgConfidence,
		}
	}
	return stats, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
