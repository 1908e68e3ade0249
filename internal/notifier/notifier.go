// Package notifier runs the homework poller and the metrics server in the background.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Service ties the poller lifetime to the metrics server one: when either stops, the other is asked to stop too.
type Service struct {
	poller        Poller
	metricsServer MetricsServer

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context stops the poller between two cycles.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration

	running chan struct{}
}

// Poller runs polling cycles until its context is done.
type Poller interface {
	Run(ctx context.Context) error
}

// MetricsServer is an interface that defines the methods for a metrics server.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

type options struct {
	maxDegradedDuration time.Duration
}

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

var (
	// errServiceClosed is returned when the service is already closed.
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when the service takes too long to shut down.
	// A force Quit may be required to cleanup the service.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

// New creates a notifier service running p and metricsServer.
func New(ctx context.Context, p Poller, metricsServer MetricsServer, args ...Option) *Service {
	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	opts := options{
		maxDegradedDuration: time.Minute,
	}
	for _, arg := range args {
		arg(&opts)
	}

	running := make(chan struct{})
	close(running)
	return &Service{
		poller:        p,
		metricsServer: metricsServer,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}
}

// Run starts the poller and the metrics server.
//
// Returns once both have completed, or after maxDegradedDuration once one of them stopped.
func (s *Service) Run() error {
	slog.Info("Notifier service started")

	select {
	case <-s.gracefulCtx.Done():
		return errors.Join(errServiceClosed, s.gracefulCtx.Err())
	default:
	}

	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel()

	// Both errors are kept: a failed metrics shutdown after a poller failure is still reported.
	var g errgroup.Group
	var pollerErr, metricsErr error
	g.Go(func() error {
		pollerErr = s.runPoller()
		return pollerErr
	})
	g.Go(func() error {
		metricsErr = s.runMetrics()
		return metricsErr
	})

	done := make(chan error, 1)
	go func() {
		_ = g.Wait()
		done <- errors.Join(pollerErr, metricsErr)
	}()

	select {
	case err := <-done:
		return err
	case <-s.gracefulCtx.Done():
	}

	slog.Info("Waiting for notifier services to finish")
	select {
	case err := <-done:
		return err
	case <-time.After(s.maxDegradedDuration):
		slog.Warn("Notifier service teardown timed out")
		return ErrTeardownTimeout
	}
}

func (s *Service) runPoller() error {
	slog.Info("Starting poller")
	defer s.gracefulCancel()

	if err := s.poller.Run(s.gracefulCtx); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Poller encountered an error", "err", err)
		return fmt.Errorf("poller error: %v", err)
	}
	slog.Info("Poller stopped")
	return nil
}

func (s *Service) runMetrics() error {
	slog.Info("Starting metrics server")
	defer s.gracefulCancel()

	metricsErrCh := make(chan error, 1)
	go func() {
		defer close(metricsErrCh)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		slog.Info("Closing metrics server", "reason", s.ctx.Err())
		s.metricsServer.Close()
		return nil
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated for metrics server")
		if err := s.metricsServer.Shutdown(s.ctx); err != nil {
			slog.Error("Metrics server graceful shutdown encountered error", "err", err)
			return fmt.Errorf("metrics server shutdown error: %v", err)
		}
	case err := <-metricsErrCh:
		if err != nil {
			slog.Error("Metrics server encountered error", "err", err)
			return fmt.Errorf("metrics server error: %v", err)
		}
	}
	slog.Info("Metrics server shut down gracefully")
	return nil
}

// Quit stops the notifier service.
// Blocks until the service has finished running.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping notifier service")

	if force {
		s.cancel()
		s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}

	<-s.running
}
