package metrics

import (
	"github.com/vietddude/txclassifier/internal/core/domain"
)

// Observer translates lifecycle events into metrics.
type Observer struct{}

func (Observer) Observe(ev domain.Event) {
	switch ev.Type {
	case domain.EventJobCreated:
		JobsCreated.Inc()
		ActiveJobs.Set(float64(len(ev.Jobs)))
	case domain.EventJobUpdated, domain.EventJobRemoved:
		ActiveJobs.Set(float64(len(ev.Jobs)))
	case domain.EventJobFinished, domain.EventJobFailed:
		ActiveJobs.Dec()
		if ev.Job == nil {
			return
		}
		status := string(ev.Job.Status)
		JobsCompleted.WithLabelValues(status).Inc()
		if !ev.Job.Created.IsZero() && !ev.At.IsZero() {
			JobDuration.WithLabelValues(status).Observe(ev.At.Sub(ev.Job.Created).Seconds())
		}
	case domain.EventRetryScheduled:
		RetriesScheduled.Inc()
	case domain.EventJobDead:
		DeadLetters.Inc()
	case domain.EventJobRetry:
		JobsResurfaced.Inc()
	}
}
