package retry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Observe(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type payload struct {
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
}

func newTestLedger(t *testing.T) (*Ledger, *memory.RetryRepo, *recorder, *clock) {
	t.Helper()
	repo := memory.NewRetryRepo(memory.NewMemoryStorage())
	rec := &recorder{}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l := NewLedger(repo, DefaultSchedule(), rec, WithClock(clk.Now), WithDeadLetterBuffer(2))
	return l, repo, rec, clk
}

func TestLedger_EnqueueComplete(t *testing.T) {
	ctx := context.Background()
	l, repo, _, _ := newTestLedger(t)

	rec, err := l.Enqueue(ctx, "classify_transaction", payload{Merchant: "Acme"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if rec.Status != domain.RetryStatusProcessing || rec.RetryCount != 0 {
		t.Errorf("unexpected record %+v", rec)
	}

	stored, _ := repo.Get(ctx, rec.ID)
	if stored == nil {
		t.Fatal("record should be persisted")
	}
	var p payload
	if err := json.Unmarshal(stored.Data, &p); err != nil || p.Merchant != "Acme" {
		t.Errorf("unexpected payload %s (%v)", stored.Data, err)
	}

	if err := l.Complete(ctx, rec.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if stored, _ := repo.Get(ctx, rec.ID); stored != nil {
		t.Error("record should be deleted on completion")
	}
}

func TestLedger_FailFollowsScheduleThenDies(t *testing.T) {
	ctx := context.Background()
	l, repo, events, clk := newTestLedger(t)

	rec, _ := l.Enqueue(ctx, "classify_transaction", payload{Merchant: "Acme"})
	schedule := DefaultSchedule()

	var prev time.Duration
	for i := 1; i <= len(schedule); i++ {
		start := clk.Now()
		if err := l.Fail(ctx, rec.ID, errors.New("provider down")); err != nil {
			t.Fatalf("Fail %d failed: %v", i, err)
		}
		stored, _ := repo.Get(ctx, rec.ID)
		if stored == nil {
			t.Fatalf("attempt %d: record should still exist", i)
		}
		if stored.RetryCount != i || stored.Status != domain.RetryStatusFailed {
			t.Errorf("attempt %d: unexpected record %+v", i, stored)
		}
		delay := stored.NextRetry.Sub(start)
		if delay != schedule[i-1] {
			t.Errorf("attempt %d: expected delay %s, got %s", i, schedule[i-1], delay)
		}
		if delay < prev {
			t.Errorf("attempt %d: delay decreased from %s to %s", i, prev, delay)
		}
		prev = delay
		clk.Advance(time.Second)
	}

	if got := len(events.ofType(domain.EventRetryScheduled)); got != len(schedule) {
		t.Errorf("expected %d retry events, got %d", len(schedule), got)
	}
	if got := events.ofType(domain.EventRetryScheduled)[0]; got.NextRetry == nil {
		t.Error("retry event should carry the next retry time")
	}

	if err := l.Fail(ctx, rec.ID, errors.New("still down")); err != nil {
		t.Fatalf("final Fail failed: %v", err)
	}
	if stored, _ := repo.Get(ctx, rec.ID); stored != nil {
		t.Error("exhausted record should be deleted")
	}
	dead := events.ofType(domain.EventJobDead)
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead event, got %d", len(dead))
	}
	if dead[0].Error != "still down" || dead[0].Record == nil || dead[0].Record.RetryCount != len(schedule)+1 {
		t.Errorf("unexpected dead event %+v", dead[0])
	}

	letters := l.DeadLetters()
	if len(letters) != 1 || letters[0].Error != "still down" {
		t.Fatalf("unexpected dead letters %+v", letters)
	}
	var p payload
	if err := json.Unmarshal(letters[0].Data, &p); err != nil || p.Merchant != "Acme" {
		t.Errorf("dead letter should keep job data, got %s", letters[0].Data)
	}
}

func TestLedger_MissingRecordIsNoop(t *testing.T) {
	ctx := context.Background()
	l, repo, events, _ := newTestLedger(t)

	if err := l.Complete(ctx, "missing"); err != nil {
		t.Errorf("Complete on missing record: %v", err)
	}
	if err := l.Fail(ctx, "missing", errors.New("x")); err != nil {
		t.Errorf("Fail on missing record: %v", err)
	}

	rec, _ := l.Enqueue(ctx, "t", payload{})
	_ = l.Complete(ctx, rec.ID)
	if err := l.Fail(ctx, rec.ID, errors.New("late")); err != nil {
		t.Errorf("Fail after Complete: %v", err)
	}
	if stored, _ := repo.Get(ctx, rec.ID); stored != nil {
		t.Error("Fail must not resurrect a deleted record")
	}
	if len(events.events) != 0 {
		t.Errorf("expected no events, got %v", events.events)
	}
}

func TestLedger_RecoverDueJobs(t *testing.T) {
	ctx := context.Background()
	l, repo, events, clk := newTestLedger(t)

	soon, _ := l.Enqueue(ctx, "t", payload{Merchant: "soon"})
	later, _ := l.Enqueue(ctx, "t", payload{Merchant: "later"})
	running, _ := l.Enqueue(ctx, "t", payload{Merchant: "running"})

	_ = l.Fail(ctx, soon.ID, errors.New("x")) // due in 1s
	_ = l.Fail(ctx, later.ID, errors.New("x"))
	_ = l.Fail(ctx, later.ID, errors.New("x")) // due in 5s

	clk.Advance(2 * time.Second)
	recovered, err := l.RecoverDueJobs(ctx)
	if err != nil {
		t.Fatalf("RecoverDueJobs failed: %v", err)
	}
	if len(recovered) != 1 || recovered[0].ID != soon.ID {
		t.Fatalf("expected only soon, got %v", recovered)
	}
	if stored, _ := repo.Get(ctx, soon.ID); stored != nil {
		t.Error("recovered record should be removed")
	}
	if stored, _ := repo.Get(ctx, later.ID); stored == nil || stored.RetryCount != 2 {
		t.Errorf("future record should be untouched, got %+v", stored)
	}
	if stored, _ := repo.Get(ctx, running.ID); stored == nil {
		t.Error("processing record should be untouched")
	}

	retried := events.ofType(domain.EventJobRetry)
	if len(retried) != 1 || retried[0].Record.ID != soon.ID {
		t.Errorf("expected one retry event for soon, got %v", retried)
	}

	again, _ := l.RecoverDueJobs(ctx)
	if len(again) != 0 {
		t.Errorf("second pass should find nothing, got %v", again)
	}
}

func TestLedger_ResumeKeepsBudget(t *testing.T) {
	ctx := context.Background()
	l, repo, events, clk := newTestLedger(t)

	rec, _ := l.Enqueue(ctx, "t", payload{})
	for i := 0; i < len(DefaultSchedule()); i++ {
		_ = l.Fail(ctx, rec.ID, errors.New("x"))
		clk.Advance(time.Minute)
		recovered, _ := l.RecoverDueJobs(ctx)
		if len(recovered) != 1 {
			t.Fatalf("round %d: expected one recovered record, got %d", i, len(recovered))
		}
		resumed, err := l.Resume(ctx, recovered[0])
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if resumed.ID != rec.ID || resumed.Status != domain.RetryStatusProcessing || resumed.NextRetry != nil {
			t.Errorf("unexpected resumed record %+v", resumed)
		}
	}

	stored, _ := repo.Get(ctx, rec.ID)
	if stored == nil || stored.RetryCount != len(DefaultSchedule()) {
		t.Fatalf("expected retry count %d to survive, got %+v", len(DefaultSchedule()), stored)
	}

	_ = l.Fail(ctx, rec.ID, errors.New("x"))
	if len(events.ofType(domain.EventJobDead)) != 1 {
		t.Error("budget should be exhausted after resumes")
	}
}

func TestLedger_RecoverStale(t *testing.T) {
	ctx := context.Background()
	l, repo, _, clk := newTestLedger(t)

	old, _ := l.Enqueue(ctx, "t", payload{})
	clk.Advance(time.Minute)
	fresh, _ := l.Enqueue(ctx, "t", payload{})

	n, err := l.RecoverStale(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stale record, got %d", n)
	}

	stored, _ := repo.Get(ctx, old.ID)
	if stored == nil || stored.Status != domain.RetryStatusFailed || stored.Error != ErrInterrupted.Error() {
		t.Errorf("stale record should be failed, got %+v", stored)
	}
	if stored, _ := repo.Get(ctx, fresh.ID); stored == nil || stored.Status != domain.RetryStatusProcessing {
		t.Errorf("fresh record should stay processing, got %+v", stored)
	}
}

func TestLedger_RecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	l, repo, _, _ := newTestLedger(t)

	fresh, _ := l.Enqueue(ctx, "t", payload{})
	done, _ := l.Enqueue(ctx, "t", payload{})
	_ = l.Fail(ctx, done.ID, errors.New("x"))

	n, err := l.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 interrupted record, got %d", n)
	}
	stored, _ := repo.Get(ctx, fresh.ID)
	if stored == nil || stored.Status != domain.RetryStatusFailed || stored.Error != ErrInterrupted.Error() {
		t.Errorf("fresh processing record should be failed, got %+v", stored)
	}
	if stored, _ := repo.Get(ctx, done.ID); stored == nil || stored.RetryCount != 1 {
		t.Errorf("failed record should be left alone, got %+v", stored)
	}
}

func TestLedger_Stats(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newTestLedger(t)

	a, _ := l.Enqueue(ctx, "t", payload{})
	_, _ = l.Enqueue(ctx, "t", payload{})
	_ = l.Fail(ctx, a.ID, errors.New("x"))

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ByStatus[domain.RetryStatusFailed] != 1 || stats.ByStatus[domain.RetryStatusProcessing] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestLedger_DeadLetterBufferIsBounded(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRetryRepo(memory.NewMemoryStorage())
	l := NewLedger(repo, Schedule{time.Second}, nil, WithDeadLetterBuffer(2))

	for i := 0; i < 3; i++ {
		rec, _ := l.Enqueue(ctx, "t", payload{Merchant: string(rune('a' + i))})
		_ = l.Fail(ctx, rec.ID, errors.New("x"))
		_ = l.Fail(ctx, rec.ID, errors.New("x"))
	}

	letters := l.DeadLetters()
	if len(letters) != 2 {
		t.Fatalf("expected 2 buffered dead letters, got %d", len(letters))
	}
	stats, _ := l.Stats(ctx)
	if stats.DeadLetters != 3 {
		t.Errorf("expected 3 dead letters in total, got %d", stats.DeadLetters)
	}
}

type failingRepo struct {
	*memory.RetryRepo
}

func (failingRepo) ListDue(context.Context, time.Time) ([]*domain.RetryRecord, error) {
	return nil, errors.New("store unavailable")
}

func TestLedger_StoreErrorsPropagate(t *testing.T) {
	l := NewLedger(failingRepo{memory.NewRetryRepo(memory.NewMemoryStorage())}, nil, nil)
	if _, err := l.RecoverDueJobs(context.Background()); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
