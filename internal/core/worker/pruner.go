package worker

import (
	"context"
	"log/slog"
	"time"
)

// StaleRecoverer fails processing records not touched for a while.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Pruner fails processing records that outlived any attempt of this process,
// so the retry sweep can pick them up again. It covers attempts whose outcome
// write was lost.
type Pruner struct {
	staleAfter time.Duration
	retries    StaleRecoverer
	log        *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(staleAfter time.Duration, retries StaleRecoverer) *Pruner {
	return &Pruner{
		staleAfter: staleAfter,
		retries:    retries,
		log:        slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.staleAfter <= 0 {
		return // Disabled
	}

	// Check every half stale period, between 1 second and 1 minute
	interval := min(p.staleAfter/2, 1*time.Minute)
	interval = max(interval, 1*time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass and returns the number of records failed.
func (p *Pruner) Prune(ctx context.Context) int {
	n, err := p.retries.RecoverStale(ctx, p.staleAfter)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("Failed to recover stale jobs", "stale_after", p.staleAfter, "error", err)
		}
		return 0
	}
	if n > 0 {
		p.log.Warn("Failed stale jobs", "count", n, "stale_after", p.staleAfter)
	}
	return n
}
