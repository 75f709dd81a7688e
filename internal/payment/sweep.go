package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

var (
	sweepPaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_payments_total",
		Help: "Stuck payments handled by the reconciliation sweep, labeled by action",
	}, []string{"action"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps",
		Buckets: prometheus.DefBuckets,
	})
)

// SweepReport counts what one reconciliation pass did.
type SweepReport struct {
	Scanned     int
	Republished int
	Abandoned   int
	Skipped     int // claimed by another instance or moved on meanwhile
	Failed      int
}

// ReconcileStuckPayments re-publishes the hold request of every payment still
// CREATED one sweep interval after its last update. Payments that exhausted
// MaxPublishAttempts are failed instead. A failure on one payment is logged
// and the pass continues with the next.
func (c *Coordinator) ReconcileStuckPayments(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	var report SweepReport
	now := c.now()
	stuck, err := c.store.ListStale(ctx, domain.StatusCreated, now.Add(-c.cfg.SweepInterval), c.cfg.SweepBatch)
	if err != nil {
		return report, fmt.Errorf("list stuck payments: %w", err)
	}
	report.Scanned = len(stuck)

	for _, p := range stuck {
		if c.cfg.MaxPublishAttempts > 0 && p.PublishAttempts >= c.cfg.MaxPublishAttempts {
			updated, changed, err := c.store.Transition(ctx, p.ID, domain.StatusFailed, c.cfg.Actor, now)
			switch {
			case err != nil:
				report.Failed++
				slog.Error("Abandoning stuck payment failed", "payment_id", p.ID, "error", err)
			case !changed:
				report.Skipped++
			default:
				report.Abandoned++
				sweepPaymentsTotal.WithLabelValues("abandoned").Inc()
				transitionsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
				slog.Warn("Stuck payment abandoned", "payment_id", p.ID, "attempts", p.PublishAttempts)
				c.notifier.Notify(ctx, updated)
			}
			continue
		}

		claimed, err := c.store.RecordPublish(ctx, p.ID, p.PublishAttempts, c.cfg.Actor, now)
		if err != nil {
			report.Failed++
			slog.Error("Recording republish failed", "payment_id", p.ID, "error", err)
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}

		id := p.ID
		c.publish(ctx, p, func(err error) {
			if err != nil {
				// stays CREATED; the next pass tries again
				slog.Error("Hold request republish failed", "payment_id", id, "error", err)
				return
			}
			c.settle(id, domain.StatusProcessing, c.cfg.Actor)
		})
		report.Republished++
		sweepPaymentsTotal.WithLabelValues("republished").Inc()
		slog.Info("Hold request republished", "payment_id", id, "attempt", p.PublishAttempts+1)
	}

	if report.Scanned > 0 {
		slog.Info("Reconciliation sweep finished", "scanned", report.Scanned, "republished", report.Republished,
			"abandoned", report.Abandoned, "skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

// Sweeper runs ReconcileStuckPayments on a fixed interval.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
}

func NewSweeper(c *Coordinator) *Sweeper {
	return &Sweeper{coordinator: c, interval: c.cfg.SweepInterval}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("Reconciliation sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.coordinator.ReconcileStuckPayments(ctx); err != nil {
				slog.Error("Reconciliation sweep failed", "error", err)
			}
		}
	}
}
