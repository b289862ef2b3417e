package jobs

import (
	"sync"
	"testing"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

// recorder captures emitted events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Observe(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) typesFor(jobID string) []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventType
	for _, ev := range r.events {
		if ev.Job != nil && ev.Job.ID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func assertTypes(t *testing.T, got []domain.EventType, want ...domain.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestStore_CreateJob(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	job := s.CreateJob(domain.JobData{Merchant: "Acme Coffee", Description: "Coffee run"})

	if job.ID == "" {
		t.Fatal("expected an id")
	}
	if job.Status != domain.JobQueued {
		t.Errorf("expected status queued, got %s", job.Status)
	}
	if job.Created.IsZero() {
		t.Error("expected created timestamp")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 active job, got %d", s.Len())
	}

	if len(rec.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Type != domain.EventJobCreated {
		t.Errorf("expected job created, got %s", ev.Type)
	}
	if len(ev.Jobs) != 1 || ev.Jobs[0].ID != job.ID {
		t.Errorf("expected active jobs to contain the new job, got %v", ev.Jobs)
	}
}

func TestStore_FinishedLifecycle(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	job := s.CreateJob(domain.JobData{Merchant: "M"})
	if _, ok := s.SetInProgress(job.ID); !ok {
		t.Fatal("SetInProgress returned not found")
	}
	if _, ok := s.UpdateData(job.ID, domain.JobData{Merchant: "M", Category: "Food"}); !ok {
		t.Fatal("UpdateData returned not found")
	}
	final, ok := s.SetFinished(job.ID)
	if !ok {
		t.Fatal("SetFinished returned not found")
	}
	if final.Status != domain.JobFinished {
		t.Errorf("expected finished, got %s", final.Status)
	}
	if final.Data.Category != "Food" {
		t.Errorf("expected data to survive, got %+v", final.Data)
	}

	assertTypes(t, rec.typesFor(job.ID),
		domain.EventJobCreated,
		domain.EventJobUpdated,
		domain.EventJobUpdated,
		domain.EventJobUpdated,
		domain.EventJobFinished,
	)

	if _, ok := s.Get(job.ID); ok {
		t.Error("finished job should be evicted")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty registry, got %d", s.Len())
	}

	// Terminal event carries only the final snapshot.
	last := rec.events[len(rec.events)-1]
	if last.Jobs != nil {
		t.Errorf("terminal event should not carry active jobs, got %v", last.Jobs)
	}
}

func TestStore_FailedFromQueued(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	job := s.CreateJob(domain.JobData{Merchant: "M"})
	final, ok := s.SetFailed(job.ID, domain.JobError{Message: "boom"})
	if !ok {
		t.Fatal("SetFailed returned not found")
	}
	if final.Status != domain.JobFailed {
		t.Errorf("expected failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Message != "boom" {
		t.Fatalf("expected error message boom, got %+v", final.Error)
	}
	if final.Error.Code != "UNKNOWN_ERROR" {
		t.Errorf("expected default code, got %s", final.Error.Code)
	}
	if final.Error.Timestamp.IsZero() {
		t.Error("expected error timestamp")
	}

	assertTypes(t, rec.typesFor(job.ID),
		domain.EventJobCreated,
		domain.EventJobUpdated,
		domain.EventJobFailed,
	)
	if s.Len() != 0 {
		t.Errorf("failed job should be evicted, %d left", s.Len())
	}
}

func TestStore_UpdatedEventStillListsJob(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)
	job := s.CreateJob(domain.JobData{})
	s.SetFinished(job.ID)

	updated := rec.events[1]
	if updated.Type != domain.EventJobUpdated {
		t.Fatalf("expected updated event, got %s", updated.Type)
	}
	if len(updated.Jobs) != 1 || updated.Jobs[0].Status != domain.JobFinished {
		t.Errorf("expected job listed with finished status, got %v", updated.Jobs)
	}
}

func TestStore_UnknownIDIsNoop(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	if _, ok := s.SetInProgress("missing"); ok {
		t.Error("SetInProgress should report missing")
	}
	if _, ok := s.UpdateData("missing", domain.JobData{}); ok {
		t.Error("UpdateData should report missing")
	}
	if _, ok := s.SetFinished("missing"); ok {
		t.Error("SetFinished should report missing")
	}
	if _, ok := s.SetFailed("missing", domain.JobError{}); ok {
		t.Error("SetFailed should report missing")
	}
	if _, ok := s.RemoveJob("missing"); ok {
		t.Error("RemoveJob should report missing")
	}
	if len(rec.events) != 0 {
		t.Errorf("expected no events, got %d", len(rec.events))
	}
}

func TestStore_LateUpdateAfterTerminal(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)
	job := s.CreateJob(domain.JobData{})
	s.SetFailed(job.ID, domain.JobError{Message: "timeout"})

	if _, ok := s.UpdateData(job.ID, domain.JobData{Category: "Food"}); ok {
		t.Error("update after eviction should be a no-op")
	}
	if _, ok := s.SetFinished(job.ID); ok {
		t.Error("second terminal transition should be a no-op")
	}
	assertTypes(t, rec.typesFor(job.ID),
		domain.EventJobCreated,
		domain.EventJobUpdated,
		domain.EventJobFailed,
	)
}

func TestStore_RemoveJob(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)
	a := s.CreateJob(domain.JobData{Merchant: "a"})
	b := s.CreateJob(domain.JobData{Merchant: "b"})

	if _, ok := s.RemoveJob(a.ID); !ok {
		t.Fatal("RemoveJob returned not found")
	}

	last := rec.events[len(rec.events)-1]
	if last.Type != domain.EventJobRemoved {
		t.Fatalf("expected job removed, got %s", last.Type)
	}
	if len(last.Jobs) != 1 || last.Jobs[0].ID != b.ID {
		t.Errorf("expected only b to remain, got %v", last.Jobs)
	}
}

func TestStore_ActiveIsCreationOrdered(t *testing.T) {
	s := NewStore(nil)
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, s.CreateJob(domain.JobData{}).ID)
	}
	s.SetFinished(ids[3])

	active := s.Active()
	if len(active) != 19 {
		t.Fatalf("expected 19 active jobs, got %d", len(active))
	}
	want := append(append([]string{}, ids[:3]...), ids[4:]...)
	for i, job := range active {
		if job.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], job.ID)
		}
	}
}

func TestStore_ConcurrentLifecycles(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := s.CreateJob(domain.JobData{})
			ids[i] = job.ID
			s.SetInProgress(job.ID)
			if i%2 == 0 {
				s.SetFinished(job.ID)
			} else {
				s.SetFailed(job.ID, domain.JobError{Message: "x"})
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", s.Len())
	}
	for i, id := range ids {
		terminal := domain.EventJobFinished
		if i%2 == 1 {
			terminal = domain.EventJobFailed
		}
		assertTypes(t, rec.typesFor(id),
			domain.EventJobCreated,
			domain.EventJobUpdated,
			domain.EventJobUpdated,
			terminal,
		)
	}
}
