package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
)

func TestRetryRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRetryRepo(NewMemoryStorage())
	now := time.Unix(1_700_000_000, 0)

	rec := &domain.RetryRecord{
		ID:        "r1",
		Type:      "classify_transaction",
		Data:      []byte(`{"merchant":"Acme"}`),
		Status:    domain.RetryStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := repo.Insert(ctx, rec); !errors.Is(err, storage.ErrRecordExists) {
		t.Errorf("expected ErrRecordExists, got %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v %v", got, err)
	}
	if string(got.Data) != `{"merchant":"Acme"}` {
		t.Errorf("unexpected data %s", got.Data)
	}

	missing, err := repo.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing record, got %v %v", missing, err)
	}

	next := now.Add(time.Second)
	got.Status = domain.RetryStatusFailed
	got.RetryCount = 1
	got.NextRetry = &next
	got.Error = "boom"
	got.Data = nil // Update must not touch the payload
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := repo.Update(ctx, &domain.RetryRecord{ID: "nope"}); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}

	due, _ := repo.ListDue(ctx, now)
	if len(due) != 0 {
		t.Errorf("expected nothing due yet, got %d", len(due))
	}
	due, _ = repo.ListDue(ctx, next)
	if len(due) != 1 || due[0].ID != "r1" {
		t.Fatalf("expected r1 due, got %v", due)
	}
	if string(due[0].Data) != `{"merchant":"Acme"}` {
		t.Errorf("payload lost on update: %s", due[0].Data)
	}

	counts, _ := repo.CountByStatus(ctx)
	if counts[domain.RetryStatusFailed] != 1 || counts[domain.RetryStatusProcessing] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}

	if err := repo.Delete(ctx, "r1", "unknown"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := repo.Get(ctx, "r1"); got != nil {
		t.Error("record should be gone")
	}
}

func TestRetryRepo_ListDueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewRetryRepo(NewMemoryStorage())
	base := time.Unix(1_700_000_000, 0)

	for i, offset := range []int{30, 5, 15} {
		at := base.Add(time.Duration(offset) * time.Second)
		_ = repo.Insert(ctx, &domain.RetryRecord{
			ID:        string(rune('a' + i)),
			Status:    domain.RetryStatusFailed,
			NextRetry: &at,
		})
	}
	// Processing records are never due.
	_ = repo.Insert(ctx, &domain.RetryRecord{ID: "p", Status: domain.RetryStatusProcessing})

	due, _ := repo.ListDue(ctx, base.Add(time.Minute))
	if len(due) != 3 {
		t.Fatalf("expected 3 due, got %d", len(due))
	}
	want := []string{"b", "c", "a"}
	for i, rec := range due {
		if rec.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], rec.ID)
		}
	}
}

func TestRetryRepo_ListStale(t *testing.T) {
	ctx := context.Background()
	repo := NewRetryRepo(NewMemoryStorage())
	base := time.Unix(1_700_000_000, 0)

	_ = repo.Insert(ctx, &domain.RetryRecord{ID: "old", Status: domain.RetryStatusProcessing, UpdatedAt: base})
	_ = repo.Insert(ctx, &domain.RetryRecord{ID: "new", Status: domain.RetryStatusProcessing, UpdatedAt: base.Add(time.Hour)})
	_ = repo.Insert(ctx, &domain.RetryRecord{ID: "failed", Status: domain.RetryStatusFailed, UpdatedAt: base})

	stale, _ := repo.ListStale(ctx, domain.RetryStatusProcessing, base.Add(time.Minute))
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Errorf("expected only old, got %v", stale)
	}
}

func TestHistoryRepo_FindMajority(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage())

	add := func(merchant, desc, cat string, conf float64) {
		if err := repo.Append(ctx, &domain.HistoryEntry{
			Merchant: merchant, Description: desc, Category: cat, Confidence: conf,
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	add("Acme Coffee", "Coffee run", "Food", 0.9)
	add("Acme Coffee", "Coffee run", "Food", 0.8)
	add("Acme Coffee", "Beans", "Groceries", 0.99)
	add("Other", "Morning coffee run at Acme", "Food", 0.85)
	add("Unrelated", "Fuel", "Transport", 0.9)

	agg, err := repo.FindMajority(ctx, "Acme Coffee", "coffee run")
	if err != nil {
		t.Fatalf("FindMajority failed: %v", err)
	}
	if agg == nil {
		t.Fatal("expected a majority")
	}
	// Merchant matches: Food x2, Groceries x1; "coffee run" matches the "Other" entry too.
	if agg.Category != "Food" || agg.Count != 3 {
		t.Errorf("expected Food x3, got %+v", agg)
	}
	if want := (0.9 + 0.8 + 0.85) / 3; abs(agg.AvgConfidence-want) > 1e-9 {
		t.Errorf("expected avg %f, got %f", want, agg.AvgConfidence)
	}

	none, err := repo.FindMajority(ctx, "Nobody", "nothing matches this")
	if err != nil || none != nil {
		t.Errorf("expected nil, nil, got %v %v", none, err)
	}
}

func TestHistoryRepo_FindMajorityTieBreaksOnConfidence(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage())
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "M", Category: "A", Confidence: 0.6})
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "M", Category: "B", Confidence: 0.95})

	agg, _ := repo.FindMajority(ctx, "M", "")
	if agg == nil || agg.Category != "B" {
		t.Errorf("expected B to win on confidence, got %+v", agg)
	}
}

func TestHistoryRepo_EmptyDescriptionMatchesMerchantOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage())
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "X", Description: "anything", Category: "A", Confidence: 0.9})

	agg, _ := repo.FindMajority(ctx, "Y", "")
	if agg != nil {
		t.Errorf("empty description should not match every entry, got %+v", agg)
	}
}

func TestHistoryRepo_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage())
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "a", Category: "Food", Confidence: 1})
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "b", Category: "Food", Confidence: 0.5})
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "c", Category: "Fuel", Confidence: 0.8})

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	food := stats.Categories["Food"]
	if food.Count != 2 || abs(food.AvgConfidence-0.75) > 1e-9 {
		t.Errorf("unexpected food aggregate %+v", food)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestHistoryRepo_DescriptionIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage())
	_ = repo.Append(ctx, &domain.HistoryEntry{Merchant: "X", Description: "NETFLIX.COM monthly", Category: "Subscriptions", Confidence: 0.9})

	agg, _ := repo.FindMajority(ctx, "Y", "netflix.com")
	if agg == nil || agg.Category != "Subscriptions" {
		t.Errorf("expected Subscriptions, got %+v", agg)
	}
}
