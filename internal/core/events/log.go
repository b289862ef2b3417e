package events

import (
	"log/slog"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

// LogObserver writes one structured log line per event.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a log observer. A nil logger uses slog.Default().
func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) Observe(ev domain.Event) {
	attrs := []any{"event", string(ev.Type)}
	if ev.Job != nil {
		attrs = append(attrs,
			"job_id", ev.Job.ID,
			"status", ev.Job.Status,
			"merchant", ev.Job.Data.Merchant,
		)
	}
	if ev.Record != nil {
		attrs = append(attrs,
			"record_id", ev.Record.ID,
			"retry_count", ev.Record.RetryCount,
		)
	}
	if ev.NextRetry != nil {
		attrs = append(attrs, "next_retry", ev.NextRetry.Format("15:04:05"))
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}

	switch ev.Type {
	case domain.EventJobDead:
		// The record is gone from storage; this line is what an operator has left.
		if ev.Record != nil {
			attrs = append(attrs, "data", string(ev.Record.Data))
		}
		o.log.Error("Job dead-lettered", attrs...)
	case domain.EventJobFailed, domain.EventRetryScheduled:
		o.log.Warn("Job failed", attrs...)
	case domain.EventJobUpdated:
		o.log.Debug("Job updated", attrs...)
	default:
		o.log.Info("Job event", attrs...)
	}
}
