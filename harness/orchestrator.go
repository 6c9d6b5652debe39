// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/mqstress/config"
	"github.com/absmach/mqstress/mq"
	"golang.org/x/time/rate"
)

// Orchestrator runs scenarios against a messaging collaborator: it
// starts the service with the scenario policy, launches the worker
// pool, waits for readiness, lets the run play out, and derives the
// verdict from the failure signal.
type Orchestrator struct {
	svc     mq.Service
	cfg     config.HarnessConfig
	logger  *slog.Logger
	metrics *Metrics
}

// New creates an orchestrator. A nil logger falls back to the default;
// nil metrics disable recording.
func New(svc mq.Service, cfg config.HarnessConfig, logger *slog.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		svc:     svc,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// RunAll runs every scenario in the matrix and returns the first error
// per scenario, keyed by scenario name. A nil map entry means pass.
func (o *Orchestrator) RunAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, sc := range Matrix() {
		if ctx.Err() != nil {
			break
		}
		results[sc.Name()] = o.RunScenario(ctx, sc)
	}
	return results
}

// RunScenario executes one scenario. It returns nil on a clean run,
// ErrSetupTimeout when the workers failed to become ready, and
// ErrCorruptionDetected when any consumer observed an empty payload.
func (o *Orchestrator) RunScenario(ctx context.Context, sc Scenario) error {
	logger := o.logger.With("scenario", sc.Name())
	logger.Info("starting scenario",
		"consumers", o.cfg.Consumers,
		"producers", o.cfg.Producers,
		"run_duration", o.cfg.RunDuration)

	if err := o.svc.Start(sc.Policy()); err != nil {
		return fmt.Errorf("failed to start collaborator: %w", err)
	}
	defer func() {
		if err := o.svc.Stop(); err != nil {
			logger.Warn("collaborator stop failed", "error", err)
		}
	}()

	signal := NewFailureSignal()
	barrier := NewReadinessBarrier(o.cfg.Consumers + o.cfg.Producers)
	tracker := &DeliveryTracker{}
	indexes := &IndexAllocator{}

	var limiter *rate.Limiter
	if o.cfg.PublishRate > 0 {
		burst := o.cfg.PublishBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.cfg.PublishRate), burst)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Consumers; i++ {
		w := &ConsumerWorker{
			svc:            o.svc,
			topic:          o.cfg.Topic,
			scenario:       sc,
			signal:         signal,
			barrier:        barrier,
			tracker:        tracker,
			indexes:        indexes,
			receiveTimeout: o.cfg.ReceiveTimeout,
			logger:         logger,
			metrics:        o.metrics,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(runCtx)
		}()
	}

	for i := 0; i < o.cfg.Producers; i++ {
		w := &ProducerWorker{
			svc:      o.svc,
			topic:    o.cfg.Topic,
			scenario: sc,
			signal:   signal,
			barrier:  barrier,
			limiter:  limiter,
			logger:   logger,
			metrics:  o.metrics,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(runCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if !barrier.AwaitAll(o.cfg.SetupTimeout) {
		logger.Error("setup timed out", "timeout", o.cfg.SetupTimeout)
		cancel()
		o.awaitShutdown(logger, done)
		return fmt.Errorf("%w: after %v", ErrSetupTimeout, o.cfg.SetupTimeout)
	}
	logger.Info("all workers ready")

	// Let the workers run. Corruption empties the pool early, since
	// every loop gates on the failure signal.
	runTimer := time.NewTimer(o.cfg.RunDuration)
	defer runTimer.Stop()
	select {
	case <-runTimer.C:
	case <-done:
	case <-ctx.Done():
	}

	cancel()
	o.awaitShutdown(logger, done)

	if signal.IsSet() {
		ev := signal.First()
		logger.Error("scenario failed: corrupted delivery",
			"consumer", ev.Consumer,
			"queue", ev.Queue,
			"encoding", ev.Encoding.String(),
			"message", ev.MessageID)
		return fmt.Errorf("%w: consumer %d on %s (encoding %s, message %s)",
			ErrCorruptionDetected, ev.Consumer, ev.Queue, ev.Encoding, ev.MessageID)
	}

	logger.Info("scenario passed", "last_streak", tracker.Current().Count)
	return nil
}

// awaitShutdown waits for the worker pool to drain, bounded by the
// configured grace period. Overrunning the grace period is a harness
// warning, never a verdict change.
func (o *Orchestrator) awaitShutdown(logger *slog.Logger, done <-chan struct{}) {
	graceTimer := time.NewTimer(o.cfg.ShutdownGrace)
	defer graceTimer.Stop()

	select {
	case <-done:
	case <-graceTimer.C:
		logger.Warn("workers did not exit within shutdown grace period",
			"grace", o.cfg.ShutdownGrace)
	}
}
