package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ivooa3/mybidly/internal/bid"
	"github.com/ivooa3/mybidly/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mybidly",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mybidly",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter turns bid lifecycle transitions into merchant webhooks. All
// methods are fire-and-forget: errors are logged but never returned, so a
// slow subscriber can never stall a settlement.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(merchantID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToMerchant(ctx, merchantID, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "merchant", merchantID, "error", err)
	}
}

func bidData(b *bid.Bid) map[string]interface{} {
	return map[string]interface{}{
		"bidId":      b.ID,
		"offerId":    b.OfferID,
		"merchantId": b.MerchantID,
		"amount":     b.Amount.String(),
		"status":     string(b.Status),
		"resolution": string(b.Resolution),
	}
}

// BidSubmitted emits a bid.submitted event for a new pending bid.
func (e *Emitter) BidSubmitted(b *bid.Bid) {
	e.emit(b.MerchantID, EventBidSubmitted, bidData(b))
}

// BidAccepted emits bid.accepted plus an order.received event carrying the
// merchant's payout split.
func (e *Emitter) BidAccepted(b *bid.Bid) {
	e.emit(b.MerchantID, EventBidAccepted, bidData(b))

	data := bidData(b)
	data["platformFee"] = b.PlatformFee.String()
	data["merchantAmount"] = b.MerchantAmount.String()
	data["settlementRef"] = b.SettlementRef
	e.emit(b.MerchantID, EventOrderReceived, data)
}

// BidDeclined emits a bid.declined event.
func (e *Emitter) BidDeclined(b *bid.Bid) {
	e.emit(b.MerchantID, EventBidDeclined, bidData(b))
}

var _ bid.Notifier = (*Emitter)(nil)
