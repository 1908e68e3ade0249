package poller

import (
	"context"
	"time"

	"github.com/ubuntu/homework-notifier/internal/metrics"
	"github.com/ubuntu/homework-notifier/internal/review"
)

// Cycle runs a single cycle.
func (p *Poller) Cycle(ctx context.Context, deliver bool) error {
	return p.cycle(ctx, deliver)
}

// Storage returns the Storage kept for the next cycle.
func (p *Poller) Storage() review.Storage {
	return p.storage
}

// Metrics returns the collectors updated by the poller.
func (p *Poller) Metrics() *metrics.Collectors {
	return p.metrics
}

// SetLastCycle overrides the completion time of the last cycle.
func (p *Poller) SetLastCycle(t time.Time) {
	p.lastCycle.Store(t.UnixNano())
}
