// Package workers contains background workers for lnlab.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// ReconcilerConfig configures the reconciler worker.
type ReconcilerConfig struct {
	// Interval is the time between reconcile passes.
	// Default: 30 seconds.
	Interval time.Duration

	// InitialBackoff is the wait after the first pass that found the
	// runtime unavailable. It doubles with each further such pass.
	// Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff.
	// Default: 1 minute.
	MaxBackoff time.Duration
}

// DefaultReconcilerConfig returns the default configuration.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:       30 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Reconcilable runs one reconcile pass.
type Reconcilable interface {
	Reconcile(ctx context.Context) (orchestrator.Report, error)
}

// Reconciler periodically converges persisted node state with the runtime.
type Reconciler struct {
	target Reconcilable
	config ReconcilerConfig
	logger *slog.Logger

	mu       sync.Mutex
	retry    *backoff.ExponentialBackOff
	failures int
	delay    time.Duration

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a new reconciler worker.
func NewReconciler(target Reconcilable, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	defaults := DefaultReconcilerConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}

	if logger == nil {
		logger = slog.Default()
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = config.InitialBackoff
	retry.MaxInterval = config.MaxBackoff
	retry.Multiplier = 2
	retry.RandomizationFactor = 0
	retry.Reset()

	return &Reconciler{
		target: target,
		config: config,
		logger: logger.With("component", "reconciler"),
		retry:  retry,
		delay:  config.Interval,
	}
}

// Start begins the reconciler background goroutine. The first pass runs
// immediately.
func (r *Reconciler) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("reconciler started", "interval", r.config.Interval)
}

// Stop gracefully stops the reconciler, waiting for an in-progress pass.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

// run is the main loop. The wait after each pass is Interval, or the
// current backoff while the runtime is unavailable.
func (r *Reconciler) run() {
	defer r.wg.Done()

	timer := time.NewTimer(r.runCycle(r.ctx))
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
			timer.Reset(r.runCycle(r.ctx))
		}
	}
}

// runCycle executes one pass and returns the delay before the next.
func (r *Reconciler) runCycle(ctx context.Context) time.Duration {
	report, err := r.RunNow(ctx)

	switch {
	case err == nil:
		if report.Changed() {
			r.logger.Info("reconcile pass corrected drift", "actions", len(report.Entries))
		}
		return r.config.Interval
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		delay := r.nextDelay()
		r.logger.Warn("runtime unavailable, backing off", "retry_in", delay, "error", err)
		return delay
	case errors.Is(err, context.Canceled):
		return r.config.Interval
	default:
		r.logger.Error("reconcile pass failed", "error", err)
		return r.config.Interval
	}
}

// RunNow runs a pass immediately and updates the backoff state.
func (r *Reconciler) RunNow(ctx context.Context) (orchestrator.Report, error) {
	report, err := r.target.Reconcile(ctx)

	r.mu.Lock()
	if errors.Is(err, domain.ErrRuntimeUnavailable) {
		r.failures++
		r.delay = r.retry.NextBackOff()
	} else {
		r.failures = 0
		r.retry.Reset()
		r.delay = r.config.Interval
	}
	r.mu.Unlock()

	for _, q := range report.Quarantined {
		r.logger.Warn("network quarantined", "network", q)
	}
	return report, err
}

// nextDelay is Interval after a pass that reached the runtime. While the
// runtime stays unavailable it starts at InitialBackoff and doubles up to
// MaxBackoff.
func (r *Reconciler) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}
