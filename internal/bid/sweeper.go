package bid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ivooa3/mybidly/internal/metrics"
	"github.com/ivooa3/mybidly/internal/pricing"
)

// DefaultReviewWindow is how long a pending bid waits for the merchant
// before the sweep resolves it.
const DefaultReviewWindow = 10 * time.Minute

// Report summarizes one sweep run.
type Report struct {
	Examined int `json:"examined"`
	Accepted int `json:"accepted"`
	Declined int `json:"declined"`
	// Skipped bids were claimed or resolved by someone else mid-run.
	Skipped int `json:"skipped"`
	// Failed bids hit a gateway or store error; their claims were released
	// so the next run retries them.
	Failed int `json:"failed"`
}

// Sweeper resolves pending bids whose review window has lapsed: capture
// those at or above the offer's floor while stock lasts, release the rest.
type Sweeper struct {
	service  *Service
	store    Store
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a new bid sweeper.
func NewSweeper(service *Service, store Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		store:    store,
		window:   DefaultReviewWindow,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithWindow overrides the review window.
func (s *Sweeper) WithWindow(d time.Duration) *Sweeper {
	if d > 0 {
		s.window = d
	}
	return s
}

// WithInterval overrides the tick interval.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in bid sweeper", "panic", fmt.Sprint(r))
		}
	}()

	report, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep run failed", "error", err)
		return
	}
	if report.Examined > 0 {
		s.logger.Info("sweep run complete",
			"examined", report.Examined,
			"accepted", report.Accepted,
			"declined", report.Declined,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
}

// Sweep resolves every pending bid older than the review window. Each bid
// is claimed before settlement so overlapping runs never touch the same bid
// twice; a claim is released only when settlement fails and should retry.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	now := time.Now()
	cutoff := now.Add(-s.window)

	stale, err := s.store.ListPendingBefore(ctx, cutoff, 100)
	if err != nil {
		return report, fmt.Errorf("failed to list stale bids: %w", err)
	}

	for _, b := range stale {
		report.Examined++

		claimed, err := s.store.ClaimForSweep(ctx, b.ID, now)
		if err != nil {
			report.Failed++
			s.logger.Warn("failed to claim bid for sweep", "bidId", b.ID, "error", err)
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}

		s.sweepOne(ctx, b, &report)
	}

	metrics.SweepRunsTotal.Inc()
	metrics.SweepOutcomesTotal.WithLabelValues("accepted").Add(float64(report.Accepted))
	metrics.SweepOutcomesTotal.WithLabelValues("declined").Add(float64(report.Declined))
	metrics.SweepOutcomesTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	metrics.SweepOutcomesTotal.WithLabelValues("failed").Add(float64(report.Failed))

	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, b *Bid, report *Report) {
	o, err := s.service.inventory.Get(ctx, b.OfferID)
	if err != nil {
		report.Failed++
		s.unclaim(ctx, b.ID)
		s.logger.Warn("failed to load offer for sweep", "bidId", b.ID, "error", err)
		return
	}

	// The delayed-resolution rule is deliberately looser than instant
	// accept: a bid below the fixed price can still win once the
	// merchant's window lapses, as long as it meets the secret floor.
	if pricing.SweepOutcome(o.Terms(), b.Amount) == pricing.Accept {
		_, err := s.service.accept(ctx, b.ID, ResolutionSweepAccept)
		switch {
		case err == nil:
			report.Accepted++
			s.logger.Info("sweep accepted bid", "bidId", b.ID, "amount", b.Amount.String())
			return
		case errors.Is(err, ErrSoldOut):
			// The floor was met but the last unit went elsewhere; the
			// hold is released like any other decline.
		case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrConflict):
			report.Skipped++
			return
		default:
			report.Failed++
			s.unclaim(ctx, b.ID)
			s.logger.Warn("sweep capture failed", "bidId", b.ID, "error", err)
			return
		}
	}

	if _, err := s.service.decline(ctx, b.ID, ResolutionSweepDecline); err != nil {
		if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrConflict) {
			report.Skipped++
			return
		}
		report.Failed++
		s.unclaim(ctx, b.ID)
		s.logger.Warn("sweep decline failed", "bidId", b.ID, "error", err)
		return
	}
	report.Declined++
	s.logger.Info("sweep declined bid", "bidId", b.ID, "amount", b.Amount.String())
}

func (s *Sweeper) unclaim(ctx context.Context, id string) {
	if err := s.store.UnclaimSweep(ctx, id); err != nil {
		s.logger.Warn("failed to release sweep claim", "bidId", id, "error", err)
	}
}
