package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
)

type MemoryStorage struct {
	records map[string]*domain.RetryRecord
	history []*domain.HistoryEntry
	nextID  int64
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*domain.RetryRecord),
	}
}

func clone(rec *domain.RetryRecord) *domain.RetryRecord {
	c := *rec
	if rec.NextRetry != nil {
		t := *rec.NextRetry
		c.NextRetry = &t
	}
	if rec.Data != nil {
		c.Data = append([]byte(nil), rec.Data...)
	}
	return &c
}

// -----------------------------------------------------------------------------
// Retry Repository
// -----------------------------------------------------------------------------

type RetryRepo struct {
	store *MemoryStorage
}

var _ storage.RetryRepository = (*RetryRepo)(nil)

func NewRetryRepo(store *MemoryStorage) *RetryRepo {
	return &RetryRepo{store: store}
}

func (r *RetryRepo) Insert(ctx context.Context, rec *domain.RetryRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.records[rec.ID]; ok {
		return storage.ErrRecordExists
	}
	r.store.records[rec.ID] = clone(rec)
	return nil
}

func (r *RetryRepo) Get(ctx context.Context, id string) (*domain.RetryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[id]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

func (r *RetryRepo) Update(ctx context.Context, rec *domain.RetryRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cur, ok := r.store.records[rec.ID]
	if !ok {
		return storage.ErrRecordNotFound
	}
	next := clone(rec)
	next.Type = cur.Type
	next.Data = cur.Data
	next.CreatedAt = cur.CreatedAt
	r.store.records[rec.ID] = next
	return nil
}

func (r *RetryRepo) Delete(ctx context.Context, ids ...string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range ids {
		delete(r.store.records, id)
	}
	return nil
}

func (r *RetryRepo) ListDue(ctx context.Context, now time.Time) ([]*domain.RetryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RetryRecord
	for _, rec := range r.store.records {
		if rec.Due(now) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRetry.Equal(*out[j].NextRetry) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].NextRetry.Before(*out[j].NextRetry)
	})
	return out, nil
}

func (r *RetryRepo) ListStale(
	ctx context.Context,
	status domain.RetryStatus,
	before time.Time,
) ([]*domain.RetryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RetryRecord
	for _, rec := range r.store.records {
		if rec.Status == status && rec.UpdatedAt.Before(before) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *RetryRepo) CountByStatus(ctx context.Context) (map[domain.RetryStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.RetryStatus]int, len(domain.RetryStatuses))
	for _, s := range domain.RetryStatuses {
		counts[s] = 0
	}
	for _, rec := range r.store.records {
		counts[rec.Status]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// History Repository
// -----------------------------------------------------------------------------

type HistoryRepo struct {
	store *MemoryStorage
}

var _ storage.HistoryRepository = (*HistoryRepo)(nil)

func NewHistoryRepo(store *MemoryStorage) *HistoryRepo {
	return &HistoryRepo{store: store}
}

func (r *HistoryRepo) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextID++
	entry.ID = r.store.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c := *entry
	r.store.history = append(r.store.history, &c)
	return nil
}

func (r *HistoryRepo) FindMajority(
	ctx context.Context,
	merchant, description string,
) (*domain.CategoryAggregate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	type tally struct {
		count int
		sum   float64
	}
	needle := strings.ToLower(description)
	tallies := make(map[string]*tally)
	for _, e := range r.store.history {
		// Description matching is case-insensitive, like LIKE on sqlite and ILIKE on postgres.
		match := e.Merchant == merchant ||
			(needle != "" && strings.Contains(strings.ToLower(e.Description), needle))
		if !match {
			continue
		}
		t, ok := tallies[e.Category]
		if !ok {
			t = &tally{}
			tallies[e.Category] = t
		}
		t.count++
		t.sum += e.Confidence
	}

	var best *domain.CategoryAggregate
	for cat, t := range tallies {
		agg := domain.CategoryAggregate{
			Category:      cat,
			Count:         t.count,
			AvgConfidence: t.sum / float64(t.count),
		}
		if best == nil || better(agg, *best) {
			a := agg
			best = &a
		}
	}
	return best, nil
}

// better orders by count, then average confidence, then category name for a
// deterministic pick on exact ties.
func better(a, b domain.CategoryAggregate) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	if a.AvgConfidence != b.AvgConfidence {
		return a.AvgConfidence > b.AvgConfidence
	}
	return a.Category < b.Category
}

func (r *HistoryRepo) Stats(ctx context.Context) (*domain.HistoryStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	stats := &domain.HistoryStats{Categories: make(map[string]domain.CategoryAggregate)}
	sums := make(map[string]float64)
	for _, e := range r.store.history {
		stats.Total++
		agg := stats.Categories[e.Category]
		agg.Category = e.Category
		agg.Count++
		sums[e.Category] += e.Confidence
		stats.Categories[e.Category] = agg
	}
	for cat, agg := range stats.Categories {
		agg.AvgConfidence = sums[cat] / float64(agg.Count)
		stats.Categories[cat] = agg
	}
	return stats, nil
}
