// Package poller runs the polling cycle: fetch the review statuses, reconcile them with
// the last known state and deliver the resulting notifications.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/homework-notifier/internal/constants"
	"github.com/ubuntu/homework-notifier/internal/metrics"
	"github.com/ubuntu/homework-notifier/internal/review"
)

// stalledCycles is the number of intervals without a completed cycle after which Health fails.
const stalledCycles = 3

// Poller owns the review Storage and runs one cycle at a time.
type Poller struct {
	fetcher  fetcher
	sink     sink
	switcher switcher
	renderer renderer

	interval      time.Duration
	fromDate      int64
	notifyOnStart bool

	storage review.Storage
	metrics *metrics.Collectors

	// lastCycle is the unix nano time of the last completed cycle, read by health probes.
	lastCycle atomic.Int64

	log *slog.Logger
}

type fetcher interface {
	Fetch(ctx context.Context, from int64) (any, error)
}

type sink interface {
	Send(ctx context.Context, text string) error
}

type switcher interface {
	Enabled() bool
	Watch(ctx context.Context) (<-chan struct{}, <-chan error, error)
}

type renderer interface {
	RenderAll(notes []review.Notification) []string
}

type options struct {
	interval      time.Duration
	fromDate      int64
	notifyOnStart bool
	logger        *slog.Logger
}

// Options represents an optional function to override Poller default values.
type Options func(*options)

// WithInterval sets the delay between the end of a cycle and the start of the next one.
func WithInterval(d time.Duration) Options {
	return func(o *options) {
		o.interval = d
	}
}

// WithFromDate sets the cursor, in unix seconds, passed to every fetch.
func WithFromDate(from int64) Options {
	return func(o *options) {
		o.fromDate = from
	}
}

// WithNotifyOnStart delivers the notifications of the first cycle instead of only
// recording the submissions it finds.
func WithNotifyOnStart(notify bool) Options {
	return func(o *options) {
		o.notifyOnStart = notify
	}
}

// WithLogger overrides the logger of the Poller.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a Poller starting from an empty, healthy Storage. Its collectors are
// registered in reg.
func New(f fetcher, s sink, sw switcher, r renderer, reg prometheus.Registerer, args ...Options) (*Poller, error) {
	opts := options{
		interval: constants.DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.interval <= 0 {
		return nil, fmt.Errorf("invalid polling interval %s", opts.interval)
	}
	if opts.fromDate < 0 {
		return nil, fmt.Errorf("invalid from date %d", opts.fromDate)
	}

	m, err := metrics.NewCollectors(reg)
	if err != nil {
		return nil, err
	}

	p := &Poller{
		fetcher:       f,
		sink:          s,
		switcher:      sw,
		renderer:      r,
		interval:      opts.interval,
		fromDate:      opts.fromDate,
		notifyOnStart: opts.notifyOnStart,
		storage:       review.NewStorage(),
		metrics:       m,
		log:           opts.logger,
	}
	p.lastCycle.Store(time.Now().UnixNano())
	return p, nil
}

// Health reports an error when no cycle completed for several intervals, which means the
// loop is stuck. Global errors of the remote service do not make the poller unhealthy.
func (p *Poller) Health() error {
	last := time.Unix(0, p.lastCycle.Load())
	if since := time.Since(last); since > stalledCycles*p.interval {
		return fmt.Errorf("no polling cycle completed for %s", since.Round(time.Second))
	}
	return nil
}

// Run primes the Storage with a first cycle then runs one cycle per interval until ctx
// is done. Changes of the delivery switch are applied between cycles.
//
// Always returns a non-nil error, which is either a context error or a setup error.
func (p *Poller) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, watchErrs, err := p.switcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch delivery settings: %v", err)
	}

	p.log.Info("Poller started", "interval", p.interval, "from_date", p.fromDate, "delivery", p.switcher.Enabled())
	if err := p.cycle(ctx, p.notifyOnStart); err != nil {
		return err
	}

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Context canceled, stopping poller")
			return ctx.Err()

		case <-timer.C:
			if err := p.cycle(ctx, true); err != nil {
				return err
			}
			timer.Reset(p.interval)

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			p.log.Info("Delivery settings reloaded", "delivery", p.switcher.Enabled())

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			p.log.Error("Delivery settings watcher failed, keeping last known settings", "err", err)
		}
	}
}

// cycle runs fetch, validation, normalization and diffing once, then hands the
// notifications to the sink when deliver is set and delivery is enabled.
//
// It only returns an error when ctx is done during the fetch. The Storage is then left
// untouched.
func (p *Poller) cycle(ctx context.Context, deliver bool) error {
	log := p.log.With("cycle", uuid.NewString())
	log.Debug("Starting cycle")

	batch, err := p.collect(ctx, log)
	if err != nil {
		return err
	}

	next, notes := review.Diff(p.storage, batch)
	p.storage = next
	p.lastCycle.Store(time.Now().UnixNano())

	p.record(batch, notes)
	if len(notes) == 0 {
		log.Debug("No change")
		return nil
	}

	msgs := p.renderer.RenderAll(notes)
	switch {
	case !deliver:
		log.Info("First cycle, recording submissions without notifying", "messages", len(msgs))
		for _, msg := range msgs {
			log.Debug("Not delivered", "text", msg)
		}
	case !p.switcher.Enabled():
		for _, msg := range msgs {
			log.Info("Delivery disabled, message not sent", "text", msg)
		}
	default:
		p.deliver(ctx, log, msgs)
	}
	return nil
}

// collect fetches and normalizes one batch. Failures are folded into the batch global
// error, except for ctx cancellation which is returned.
func (p *Poller) collect(ctx context.Context, log *slog.Logger) (review.Batch, error) {
	payload, err := p.fetcher.Fetch(ctx, p.fromDate)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return review.Batch{}, ctxErr
	}
	if err == nil {
		var records []any
		records, err = review.Validate(payload)
		if err == nil {
			states := review.NormalizeAll(records)
			for _, st := range states {
				if st.Error != review.RecordOK {
					log.Warn(st.Error.String(), "homework", st.Name, "status", st.Status)
				}
			}
			return review.Batch{States: states}, nil
		}
	}

	var ge review.GlobalError
	if !errors.As(err, &ge) || ge == review.Healthy {
		ge = review.Unreachable
	}
	log.Error("Could not get homework statuses", "err", err, "code", int(ge))
	return review.Batch{GlobalError: ge}, nil
}

func (p *Poller) deliver(ctx context.Context, log *slog.Logger, msgs []string) {
	for _, msg := range msgs {
		if err := p.sink.Send(ctx, msg); err != nil {
			p.metrics.DeliveryFailures.Inc()
			log.Error("Could not deliver message", "text", msg, "err", err)
			continue
		}
		log.Info("Message sent", "text", msg)
	}
}

func (p *Poller) record(batch review.Batch, notes []review.Notification) {
	result := metrics.ResultOK
	if batch.GlobalError != review.Healthy {
		result = metrics.ResultGlobalError
	}
	p.metrics.Cycles.WithLabelValues(result).Inc()
	for _, n := range notes {
		p.metrics.Notifications.WithLabelValues(n.Kind.String()).Inc()
	}
	p.metrics.Tracked.Set(float64(len(p.storage.States)))
}
