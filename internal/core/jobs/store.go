// Package jobs tracks the classification jobs that are currently active and
// broadcasts every state transition.
package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/core/events"
)

type entry struct {
	job domain.Job
	seq uint64
}

// Store is the in-memory registry of active jobs. Jobs reaching finished or
// failed are evicted right after their events fire, so the registry only ever
// holds outstanding work.
//
// Unknown ids are not errors: every mutator returns ok=false instead, since a
// late update may race a terminal transition that already evicted the job.
type Store struct {
	// emitMu serializes mutation+emission so observers see a total order.
	emitMu sync.Mutex

	mu   sync.RWMutex
	jobs map[string]*entry
	seq  uint64

	observer events.Observer
	now      func() time.Time
}

// NewStore creates an empty store publishing to observer.
func NewStore(observer events.Observer) *Store {
	if observer == nil {
		observer = events.Nop
	}
	return &Store{
		jobs:     make(map[string]*entry),
		observer: observer,
		now:      time.Now,
	}
}

// CreateJob registers a new queued job and emits EventJobCreated.
func (s *Store) CreateJob(data domain.JobData) domain.Job {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.seq++
	e := &entry{
		job: domain.Job{
			ID:      uuid.NewString(),
			Status:  domain.JobQueued,
			Data:    data,
			Created: s.now(),
		},
		seq: s.seq,
	}
	s.jobs[e.job.ID] = e
	job := e.job
	active := s.activeLocked()
	s.mu.Unlock()

	s.emit(domain.Event{Type: domain.EventJobCreated, Job: &job, Jobs: active})
	return job
}

// SetInProgress marks a job as running.
func (s *Store) SetInProgress(id string) (domain.Job, bool) {
	return s.update(id, func(j *domain.Job) {
		j.Status = domain.JobInProgress
	})
}

// UpdateData replaces the payload of an active job.
func (s *Store) UpdateData(id string, data domain.JobData) (domain.Job, bool) {
	return s.update(id, func(j *domain.Job) {
		j.Data = data
	})
}

// SetFinished completes a job: EventJobUpdated, eviction, then EventJobFinished.
func (s *Store) SetFinished(id string) (domain.Job, bool) {
	return s.terminate(id, domain.EventJobFinished, func(j *domain.Job) {
		j.Status = domain.JobFinished
	})
}

// SetFailed fails a job: EventJobUpdated, eviction, then EventJobFailed.
// A zero Timestamp is filled in with the current time.
func (s *Store) SetFailed(id string, jobErr domain.JobError) (domain.Job, bool) {
	if jobErr.Timestamp.IsZero() {
		jobErr.Timestamp = s.now()
	}
	if jobErr.Code == "" {
		jobErr.Code = "UNKNOWN_ERROR"
	}
	return s.terminate(id, domain.EventJobFailed, func(j *domain.Job) {
		j.Status = domain.JobFailed
		j.Error = &jobErr
	})
}

// RemoveJob evicts a job without a terminal status and emits EventJobRemoved.
func (s *Store) RemoveJob(id string) (domain.Job, bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.Job{}, false
	}
	delete(s.jobs, id)
	job := e.job
	active := s.activeLocked()
	s.mu.Unlock()

	s.emit(domain.Event{Type: domain.EventJobRemoved, Job: &job, Jobs: active})
	return job, true
}

// Get returns a snapshot of an active job.
func (s *Store) Get(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return e.job, true
}

// Active returns snapshots of all active jobs in creation order.
func (s *Store) Active() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

// Len returns the number of active jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) update(id string, mutate func(*domain.Job)) (domain.Job, bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.Job{}, false
	}
	mutate(&e.job)
	job := e.job
	active := s.activeLocked()
	s.mu.Unlock()

	s.emit(domain.Event{Type: domain.EventJobUpdated, Job: &job, Jobs: active})
	return job, true
}

func (s *Store) terminate(id string, terminal domain.EventType, mutate func(*domain.Job)) (domain.Job, bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.Job{}, false
	}
	mutate(&e.job)
	job := e.job
	// The updated event still lists the job among the active ones.
	active := s.activeLocked()
	s.mu.Unlock()

	updated := job
	s.emit(domain.Event{Type: domain.EventJobUpdated, Job: &updated, Jobs: active})

	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()

	final := job
	s.emit(domain.Event{Type: terminal, Job: &final})
	return job, true
}

func (s *Store) emit(ev domain.Event) {
	ev.At = s.now()
	s.observer.Observe(ev)
}

func (s *Store) activeLocked() []domain.Job {
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]domain.Job, len(entries))
	for i, e := range entries {
		out[i] = e.job
	}
	return out
}
