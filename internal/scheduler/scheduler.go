// Package scheduler provides scheduling logic for Auriance.
//
// It runs periodic maintenance, such as evicting idle conversations, using
// cron expressions or descriptors like "@every 10m".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auriance-health/auriance/internal/metrics"
	"github.com/auriance-health/auriance/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule is how often idle conversations are evicted.
const DefaultSweepSchedule = "@every 10m"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) plus descriptors, with recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// IdleSweep evicts conversations that have not changed for longer than a TTL.
type IdleSweep struct {
	store   store.ConversationStore
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewIdleSweep creates a sweep over st. A nil clock means time.Now.
func NewIdleSweep(st store.ConversationStore, ttl time.Duration, m *metrics.Metrics, now func() time.Time) *IdleSweep {
	if now == nil {
		now = time.Now
	}
	return &IdleSweep{store: st, ttl: ttl, metrics: m, now: now}
}

// Run evicts idle conversations once and returns how many were removed.
func (w *IdleSweep) Run(ctx context.Context) (int, error) {
	if w.ttl <= 0 {
		return 0, nil
	}
	cutoff := w.now().Add(-w.ttl)
	evicted, err := w.store.EvictIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idle sweep: %w", err)
	}
	remaining, err := w.store.Len(ctx)
	if err != nil {
		return evicted, fmt.Errorf("idle sweep: %w", err)
	}
	w.metrics.ObserveSweep(evicted, remaining)
	slog.Debug("IdleSweep.Run: sweep complete", "evicted", evicted, "remaining", remaining, "cutoff", cutoff)
	return evicted, nil
}

// Schedule registers the sweep on s. A zero TTL disables it.
func (w *IdleSweep) Schedule(ctx context.Context, s *Scheduler, expr string) error {
	if w.ttl <= 0 {
		slog.Info("IdleSweep.Schedule: idle eviction disabled")
		return nil
	}
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	err := s.AddJob(expr, func() {
		if _, err := w.Run(ctx); err != nil {
			slog.Error("IdleSweep: sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	slog.Info("IdleSweep.Schedule: idle eviction scheduled", "schedule", expr, "ttl", w.ttl)
	return nil
}
