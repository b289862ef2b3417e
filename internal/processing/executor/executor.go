// Package executor runs classification jobs one at a time, in arrival order,
// keeping a durable retry record for every attempt.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/core/jobs"
	"github.com/vietddude/txclassifier/internal/processing/classify"
	"github.com/vietddude/txclassifier/internal/processing/metrics"
	"github.com/vietddude/txclassifier/internal/processing/retry"
)

// JobTypeClassify is the retry record type of classification jobs.
const JobTypeClassify = "classify_transaction"

// Ledger is the bookkeeping system categories are read from and written to.
type Ledger interface {
	Categories(ctx context.Context) (map[string]string, error)
	SetCategory(ctx context.Context, groupID string, txs []domain.LedgerTransaction, categoryID string) error
}

// Classifier resolves a category. A nil result means inconclusive.
type Classifier interface {
	Classify(ctx context.Context, categories []string, merchant, description string) (*domain.Classification, error)
}

// Config holds executor tuning.
type Config struct {
	// JobTimeout bounds one attempt end to end.
	JobTimeout time.Duration
	// PollInterval is how often due retries are picked up while running.
	PollInterval time.Duration
	// StoreTimeout bounds retry ledger writes that outlive the attempt context.
	StoreTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
}

// StaleAfter is the age past which a processing record cannot belong to an
// attempt of this executor: store write, attempt, drain wait and outcome write
// together take less.
func (c Config) StaleAfter() time.Duration {
	c.setDefaults()
	return 2*c.JobTimeout + 2*c.StoreTimeout
}

type task struct {
	job    domain.Job
	item   domain.WorkItem
	record *domain.RetryRecord // set for resumed jobs
	// pending is a recovered record whose Resume failed; it is retried when
	// the task starts.
	pending *domain.RetryRecord
}

// Executor owns the single execution slot.
type Executor struct {
	cfg        Config
	jobs       *jobs.Store
	retries    *retry.Ledger
	classifier Classifier
	ledger     Ledger
	log        *slog.Logger

	mu    sync.Mutex
	queue []task
	wake  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an executor.
func New(
	cfg Config,
	store *jobs.Store,
	retries *retry.Ledger,
	classifier Classifier,
	ledger Ledger,
) *Executor {
	cfg.setDefaults()
	return &Executor{
		cfg:        cfg,
		jobs:       store,
		retries:    retries,
		classifier: classifier,
		ledger:     ledger,
		log:        slog.Default().With("component", "executor"),
		wake:       make(chan struct{}, 1),
	}
}

// Submit registers a job for item and queues it. It never blocks.
func (e *Executor) Submit(item domain.WorkItem) domain.Job {
	job := e.jobs.CreateJob(domain.JobData{
		Merchant:    item.Merchant,
		Description: item.Description,
		Attempt:     1,
	})
	e.push(task{job: job, item: item})
	return job
}

// Pending returns the number of queued jobs not yet started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Recover resurfaces work left by a previous run: every processing record is
// failed as interrupted, then every due record is queued again. Call it before
// Start and before accepting new work so older failures go first.
func (e *Executor) Recover(ctx context.Context) (int, error) {
	interrupted, err := e.retries.RecoverInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if interrupted > 0 {
		e.log.Warn("Failed interrupted jobs", "count", interrupted)
	}
	return e.resurface(ctx)
}

func (e *Executor) resurface(ctx context.Context) (int, error) {
	due, err := e.retries.RecoverDueJobs(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range due {
		if rec.Type != JobTypeClassify {
			e.log.Error("Dropping recovered job of unknown type", "record_id", rec.ID, "type", rec.Type)
			continue
		}
		var item domain.WorkItem
		if err := json.Unmarshal(rec.Data, &item); err != nil {
			e.log.Error("Dropping recovered job with unreadable data", "record_id", rec.ID, "error", err)
			continue
		}

		t := task{item: item}
		resumed, err := e.retries.Resume(ctx, rec)
		if err != nil {
			// The record is already gone from storage; keep the work in memory.
			e.log.Error("Failed to resume recovered job", "record_id", rec.ID, "error", err)
			t.pending = rec
		} else {
			t.record = resumed
		}
		t.job = e.jobs.CreateJob(domain.JobData{
			Merchant:    item.Merchant,
			Description: item.Description,
			Attempt:     rec.RetryCount + 1,
		})
		e.push(t)
		n++
	}
	return n, nil
}

// Start runs the worker and the retry sweep until ctx is done or Stop is called.
func (e *Executor) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.sweep(ctx)
	}()
}

// Stop halts the worker and waits for it. Queued jobs that never started are
// removed from the registry; resumed ones keep their durable record.
func (e *Executor) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	abandoned := e.queue
	e.queue = nil
	e.mu.Unlock()
	for _, t := range abandoned {
		e.jobs.RemoveJob(t.job.ID)
	}
	if len(abandoned) > 0 {
		e.log.Warn("Abandoned queued jobs on shutdown", "count", len(abandoned))
	}
	return nil
}

func (e *Executor) push(t task) {
	e.mu.Lock()
	e.queue = append(e.queue, t)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) pop() (task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return task{}, false
	}
	t := e.queue[0]
	e.queue[0] = task{}
	e.queue = e.queue[1:]
	return t, true
}

func (e *Executor) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		t, ok := e.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}
		e.execute(ctx, t)
	}
}

func (e *Executor) sweep(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.resurface(ctx)
			if err != nil {
				e.log.Error("Failed to recover due jobs", "error", err)
				continue
			}
			if n > 0 {
				e.log.Info("Requeued due jobs", "count", n)
			}
		}
	}
}

type outcome struct {
	result *domain.Classification
	data   domain.JobData
	err    error
}

func (e *Executor) execute(ctx context.Context, t task) {
	job, ok := e.jobs.SetInProgress(t.job.ID)
	if !ok {
		return
	}

	record := t.record
	if record == nil {
		storeCtx, cancel := e.storeContext(ctx)
		var (
			rec *domain.RetryRecord
			err error
		)
		if t.pending != nil {
			rec, err = e.retries.Resume(storeCtx, t.pending)
		} else {
			rec, err = e.retries.Enqueue(storeCtx, JobTypeClassify, t.item)
		}
		cancel()
		if err != nil {
			e.log.Error("Failed to persist job", "job_id", job.ID, "error", err)
			e.jobs.SetFailed(job.ID, domain.JobError{Message: err.Error(), Code: CodeStore})
			return
		}
		record = rec
	}

	jobCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		done <- e.process(jobCtx, job, t.item)
	}()

	var out outcome
	select {
	case out = <-done:
	case <-jobCtx.Done():
		// Wait for the attempt to unwind so it never overlaps the next job.
		drain := time.NewTimer(e.cfg.JobTimeout)
		select {
		case out = <-done:
		case <-drain.C:
			e.log.Warn("Attempt ignored cancellation", "job_id", job.ID, "waited", e.cfg.JobTimeout)
			out = outcome{err: jobCtx.Err()}
		}
		drain.Stop()
	}

	if out.err != nil && jobCtx.Err() != nil {
		if ctx.Err() != nil {
			// Shutting down: the processing record is picked up as stale on next start.
			e.jobs.RemoveJob(job.ID)
			return
		}
		out = outcome{err: fmt.Errorf("%w after %s", ErrTimeout, e.cfg.JobTimeout)}
	}

	storeCtx, storeCancel := e.storeContext(ctx)
	defer storeCancel()

	if out.err != nil {
		code := Code(out.err)
		e.jobs.SetFailed(job.ID, domain.JobError{Message: out.err.Error(), Code: code})
		if err := e.retries.Fail(storeCtx, record.ID, out.err); err != nil {
			e.log.Error("Failed to record job failure", "job_id", job.ID, "record_id", record.ID, "error", err)
		}
		return
	}

	e.jobs.UpdateData(job.ID, out.data)
	e.jobs.SetFinished(job.ID)
	if err := e.retries.Complete(storeCtx, record.ID); err != nil {
		e.log.Error("Failed to complete job record", "job_id", job.ID, "record_id", record.ID, "error", err)
	}
}

// storeContext outlives cancellation of ctx so a shutdown mid-attempt still
// records the outcome.
func (e *Executor) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
}

func (e *Executor) process(ctx context.Context, job domain.Job, item domain.WorkItem) outcome {
	data := job.Data

	categories, err := e.ledger.Categories(ctx)
	if err != nil {
		return outcome{err: withCode(CodeLedger, "load categories", err)}
	}

	candidates := item.Categories
	if len(candidates) == 0 {
		candidates = make([]string, 0, len(categories))
		for name := range categories {
			candidates = append(candidates, name)
		}
		sort.Strings(candidates)
	}

	result, err := e.classifier.Classify(ctx, candidates, item.Merchant, item.Description)
	if err != nil {
		var perr *classify.Error
		if errors.As(err, &perr) {
			return outcome{err: withCode(CodeClassification, "classify", err)}
		}
		return outcome{err: withCode(CodeStore, "classify", err)}
	}
	if result == nil {
		e.log.Info("Classification inconclusive", "job_id", job.ID, "merchant", item.Merchant)
		data.Outcome = domain.OutcomeInconclusive
		return outcome{data: data}
	}

	data.Category = result.Category
	data.Confidence = result.Confidence
	data.Source = result.Source
	data.Prompt = result.Prompt
	data.Response = result.Response
	e.jobs.UpdateData(job.ID, data)

	categoryID, ok := categories[result.Category]
	if !ok {
		e.log.Warn("Category missing from ledger", "job_id", job.ID, "category", result.Category)
		data.Outcome = domain.OutcomeInconclusive
		return outcome{result: result, data: data}
	}

	if len(item.Transactions) > 0 {
		if err := e.ledger.SetCategory(ctx, item.GroupID, item.Transactions, categoryID); err != nil {
			metrics.LedgerWritebacks.WithLabelValues("error").Inc()
			return outcome{err: withCode(CodeLedger, "write back category", err)}
		}
		metrics.LedgerWritebacks.WithLabelValues("success").Add(float64(len(item.Transactions)))
	}

	data.Outcome = domain.OutcomeCategorized
	return outcome{result: result, data: data}
}
