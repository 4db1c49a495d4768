// Package scheduler implements the Escalation Scheduler: a periodic
// controller that advances every pending alert through its next tiered
// notification and persists the new tier, non-overlapping across ticks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/w3f/ack-escalation/internal/adapter"
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/metrics"
	"github.com/w3f/ack-escalation/internal/store"
)

// Config tunes the scheduler's tick cadence.
type Config struct {
	// EscalationInterval is the duration after which an un-acked,
	// un-escalated alert becomes due for its next tier.
	EscalationInterval time.Duration
	// TickInterval is how often the scheduler wakes to check for due
	// alerts; it should be smaller than EscalationInterval to keep
	// dispatch latency bounded.
	TickInterval time.Duration
}

// DefaultConfig ticks every second against a five-minute escalation
// interval.
func DefaultConfig() Config {
	return Config{EscalationInterval: 5 * time.Minute, TickInterval: time.Second}
}

// Scheduler periodically dispatches due alerts to every registered
// Adapter and advances their tier in the Alert Store.
type Scheduler struct {
	store    store.AlertStore
	adapters []adapter.Adapter
	config   Config
	logger   *slog.Logger
	metrics  *metrics.SchedulerMetrics

	tickLock sync.Mutex
	now      func() time.Time
}

// SchedulerConfig is the constructor input, validated by New the way the
// teacher validates its service constructors.
type SchedulerConfig struct {
	Store    store.AlertStore
	Adapters []adapter.Adapter
	Config   Config
	Logger   *slog.Logger
	Metrics  *metrics.SchedulerMetrics
}

// New builds a Scheduler, defaulting Config and Logger and requiring a
// non-nil Store and at least one Adapter.
func New(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: scheduler requires a non-nil store", alertmodel.ErrConfigInvalid)
	}
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("%w: scheduler requires at least one adapter", alertmodel.ErrConfigInvalid)
	}
	if cfg.Config.EscalationInterval <= 0 {
		cfg.Config.EscalationInterval = DefaultConfig().EscalationInterval
	}
	if cfg.Config.TickInterval <= 0 {
		cfg.Config.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewSchedulerMetrics()
	}
	return &Scheduler{
		store:    cfg.Store,
		adapters: cfg.Adapters,
		config:   cfg.Config,
		logger:   cfg.Logger.With("component", "scheduler"),
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Run blocks, ticking at TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass if the tick lock is free; otherwise it
// skips, per spec: ticks never queue.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.tickLock.TryLock() {
		s.metrics.TickSkipped()
		return
	}
	defer s.tickLock.Unlock()

	start := s.now()
	defer func() { s.metrics.TickDuration(s.now().Sub(start)) }()

	due, err := s.store.PendingDue(ctx, s.config.EscalationInterval)
	if err != nil {
		s.logger.ErrorContext(ctx, "pending_due query failed", slog.String("error", err.Error()))
		return
	}

	for _, alertCtx := range due {
		s.dispatchOne(ctx, alertCtx)
	}
}

// dispatchOne notifies every adapter for a single context at its next
// tier, then advances the stored tier regardless of per-adapter
// failures.
func (s *Scheduler) dispatchOne(ctx context.Context, alertCtx alertmodel.AlertContext) {
	next := alertCtx.LevelIdx

	for _, a := range s.adapters {
		perAdapter := alertCtx.WithAdapterLevel(a.Name(), next)
		if err := a.Notify(ctx, alertmodel.AlertNotification(perAdapter), next); err != nil {
			s.logger.WarnContext(ctx, "adapter notify failed",
				slog.String("adapter", string(a.Name())),
				slog.String("alert_id", alertCtx.Id.String()),
				slog.Uint64("tier", uint64(next)),
				slog.String("error", err.Error()))
			s.metrics.NotifyFailed(string(a.Name()))
		} else {
			s.metrics.NotifySucceeded(string(a.Name()))
		}
	}

	outcome, err := s.store.Advance(ctx, alertCtx.Id, next+1, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "advance failed",
			slog.String("alert_id", alertCtx.Id.String()), slog.String("error", err.Error()))
		return
	}

	switch outcome {
	case store.AdvanceOutcomeOK:
		s.metrics.AlertAdvanced()
	case store.AdvanceOutcomeAckedInFlight:
		// The acknowledgement handler raced us and already froze this
		// context; its retro-notification takes over from here.
		s.logger.DebugContext(ctx, "advance lost race to concurrent ack", slog.String("alert_id", alertCtx.Id.String()))
	case store.AdvanceOutcomeNotFound:
		s.logger.WarnContext(ctx, "advance target vanished between pending_due and advance", slog.String("alert_id", alertCtx.Id.String()))
	}
}
