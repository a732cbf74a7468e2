// Package reconcile closes the gap between the payment processor and our
// records: an authorization taken right before a crash can exist at the
// processor with no bid row owning it, leaving the shopper's card
// encumbered. The reconciler finds those orphaned intent records and voids
// the hold.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ivooa3/mybidly/internal/bid"
	"github.com/ivooa3/mybidly/internal/payment"
	"github.com/ivooa3/mybidly/internal/retry"
)

// DefaultStaleAfter is how long an in-flight intent may sit untouched
// before it is presumed orphaned. Generous on purpose: a live submission
// finishes in seconds.
const DefaultStaleAfter = 15 * time.Minute

// IntentStore is the slice of the bid store the reconciler needs.
type IntentStore interface {
	ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]*bid.Intent, error)
	UpdateIntent(ctx context.Context, in *bid.Intent) error
}

// Report summarizes one reconciliation run.
type Report struct {
	Examined int `json:"examined"`
	// Canceled holds were voided at the processor.
	Canceled int `json:"canceled"`
	// Abandoned intents never got a payment ref; there is nothing at the
	// processor to undo.
	Abandoned int `json:"abandoned"`
	Failed    int `json:"failed"`
}

// Reconciler periodically voids orphaned payment holds.
type Reconciler struct {
	store      IntentStore
	gateway    payment.Gateway
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewReconciler creates a new intent reconciler.
func NewReconciler(store IntentStore, gateway payment.Gateway, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		gateway:    gateway,
		staleAfter: DefaultStaleAfter,
		interval:   time.Minute,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// WithStaleAfter overrides the orphan threshold.
func (r *Reconciler) WithStaleAfter(d time.Duration) *Reconciler {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

// WithInterval overrides the tick interval.
func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

// Running reports whether the reconcile loop is actively running.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Start begins the reconcile loop. Call in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeRun(ctx)
		}
	}
}

// Stop signals the reconciler to stop.
func (r *Reconciler) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reconciler) safeRun(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in reconciler", "panic", fmt.Sprint(rec))
		}
	}()

	report, err := r.Run(ctx)
	if err != nil {
		r.logger.Warn("reconcile run failed", "error", err)
		return
	}
	if report.Examined > 0 {
		r.logger.Info("reconcile run complete",
			"examined", report.Examined,
			"canceled", report.Canceled,
			"abandoned", report.Abandoned,
			"failed", report.Failed,
		)
	}
}

// Run voids every orphaned hold older than the stale threshold.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report
	cutoff := time.Now().Add(-r.staleAfter)

	stale, err := r.store.ListStaleIntents(ctx, cutoff, 100)
	if err != nil {
		return report, fmt.Errorf("failed to list stale intents: %w", err)
	}

	for _, in := range stale {
		report.Examined++

		if in.PaymentRef == "" {
			// Died before the gateway call returned. The processor may
			// still hold an authorization, but without a ref we cannot
			// address it; expire naturally and close the record.
			r.finish(ctx, in, bid.IntentFailed, &report.Abandoned, &report.Failed)
			continue
		}

		err := retry.Do(ctx, 3, time.Second, func() error {
			err := r.gateway.Cancel(ctx, in.PaymentRef, in.MerchantAccount)
			var gwErr *payment.GatewayError
			if errors.As(err, &gwErr) && gwErr.Code != payment.ErrCodeNetwork && gwErr.Code != payment.ErrCodeInternal {
				// The processor answered; retrying the same void changes nothing.
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			report.Failed++
			r.logger.Warn("failed to void orphaned hold",
				"intentId", in.ID, "paymentRef", in.PaymentRef, "error", err)
			continue
		}

		r.finish(ctx, in, bid.IntentReconciled, &report.Canceled, &report.Failed)
		r.logger.Info("voided orphaned payment hold",
			"intentId", in.ID, "paymentRef", in.PaymentRef, "amount", in.Amount.String())
	}
	return report, nil
}

func (r *Reconciler) finish(ctx context.Context, in *bid.Intent, status bid.IntentStatus, ok, failed *int) {
	in.Status = status
	in.UpdatedAt = time.Now()
	if err := r.store.UpdateIntent(ctx, in); err != nil {
		*failed++
		r.logger.Warn("failed to update intent", "intentId", in.ID, "error", err)
		return
	}
	*ok++
}
