package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
)

// RetryRepo implements storage.RetryRepository using Redis.
//
// Each record is a JSON string. Status sets index records by status and a
// sorted set scored by next retry (unix millis) indexes the failed ones.
type RetryRepo struct {
	rdb    *redis.Client
	prefix string
}

var _ storage.RetryRepository = (*RetryRepo)(nil)

// NewRetryRepo creates a new Redis-backed retry repository.
func NewRetryRepo(client *Client, prefix string) *RetryRepo {
	if prefix == "" {
		prefix = "classifier"
	}
	return &RetryRepo{rdb: client.rdb, prefix: prefix}
}

// Key helpers
func (r *RetryRepo) recordKey(id string) string {
	return fmt.Sprintf("%s:retry:record:%s", r.prefix, id)
}

func (r *RetryRepo) statusKey(status domain.RetryStatus) string {
	return fmt.Sprintf("%s:retry:status:%s", r.prefix, status)
}

func (r *RetryRepo) dueKey() string {
	return fmt.Sprintf("%s:retry:due", r.prefix)
}

// index queues the status set and due-queue writes for rec.
func (r *RetryRepo) index(ctx context.Context, pipe redis.Pipeliner, rec *domain.RetryRecord) {
	for _, s := range domain.RetryStatuses {
		if s != rec.Status {
			pipe.SRem(ctx, r.statusKey(s), rec.ID)
		}
	}
	pipe.SAdd(ctx, r.statusKey(rec.Status), rec.ID)

	if rec.Status == domain.RetryStatusFailed && rec.NextRetry != nil {
		pipe.ZAdd(ctx, r.dueKey(), redis.Z{
			Score:  float64(rec.NextRetry.UnixMilli()),
			Member: rec.ID,
		})
	} else {
		pipe.ZRem(ctx, r.dueKey(), rec.ID)
	}
}

// Insert stores a new record.
func (r *RetryRepo) Insert(ctx context.Context, rec *domain.RetryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal retry record: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, r.recordKey(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return storage.ErrRecordExists
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.index(ctx, pipe, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index retry record: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (r *RetryRepo) Get(ctx context.Context, id string) (*domain.RetryRecord, error) {
	data, err := r.rdb.Get(ctx, r.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry record: %w", err)
	}

	var rec domain.RetryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry record: %w", err)
	}
	return &rec, nil
}

// Update overwrites the mutable fields of a record.
func (r *RetryRepo) Update(ctx context.Context, rec *domain.RetryRecord) error {
	cur, err := r.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return storage.ErrRecordNotFound
	}

	cur.Status = rec.Status
	cur.Error = rec.Error
	cur.RetryCount = rec.RetryCount
	cur.NextRetry = rec.NextRetry
	cur.UpdatedAt = rec.UpdatedAt

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("failed to marshal retry record: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(cur.ID), data, 0)
		r.index(ctx, pipe, cur)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update retry record: %w", err)
	}
	return nil
}

// Delete removes records and their index entries.
func (r *RetryRepo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = r.recordKey(id)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, s := range domain.RetryStatuses {
			pipe.SRem(ctx, r.statusKey(s), members...)
		}
		pipe.ZRem(ctx, r.dueKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete retry records: %w", err)
	}
	return nil
}

// ListDue returns failed records whose next retry has passed.
func (r *RetryRepo) ListDue(ctx context.Context, now time.Time) ([]*domain.RetryRecord, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, r.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	recs, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Due(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListStale returns records in status last updated before the cutoff.
func (r *RetryRepo) ListStale(
	ctx context.Context,
	status domain.RetryStatus,
	before time.Time,
) ([]*domain.RetryRecord, error) {
	ids, err := r.rdb.SMembers(ctx, r.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers failed: %w", err)
	}

	recs, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Status == status && rec.UpdatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// CountByStatus returns the number of records per status.
func (r *RetryRepo) CountByStatus(ctx context.Context) (map[domain.RetryStatus]int, error) {
	counts := make(map[domain.RetryStatus]int, len(domain.RetryStatuses))
	for _, s := range domain.RetryStatuses {
		n, err := r.rdb.SCard(ctx, r.statusKey(s)).Result()
		if err != nil {
			return nil, fmt.Errorf("scard failed: %w", err)
		}
		counts[s] = int(n)
	}
	return counts, nil
}

// load fetches records in id order, skipping ids whose record is gone.
func (r *RetryRepo) load(ctx context.Context, ids []string) ([]*domain.RetryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	recs := make([]*domain.RetryRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.RetryRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}
