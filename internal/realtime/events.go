package realtime

import (
	"time"

	"github.com/ivooa3/mybidly/internal/bid"
)

// BidEvents adapts the hub to the bid service's notifier hook, so live
// dashboards see submissions and resolutions as they happen.
type BidEvents struct {
	hub *Hub
}

var _ bid.Notifier = (*BidEvents)(nil)

// NewBidEvents wraps a hub for use as a bid notifier.
func NewBidEvents(hub *Hub) *BidEvents {
	return &BidEvents{hub: hub}
}

func (e *BidEvents) BidSubmitted(b *bid.Bid) {
	e.broadcast(EventBidSubmitted, b)
}

func (e *BidEvents) BidAccepted(b *bid.Bid) {
	e.broadcast(EventBidAccepted, b)
}

func (e *BidEvents) BidDeclined(b *bid.Bid) {
	e.broadcast(EventBidDeclined, b)
}

func (e *BidEvents) broadcast(t EventType, b *bid.Bid) {
	if e == nil || e.hub == nil || b == nil {
		return
	}
	data := map[string]interface{}{
		"bidId":      b.ID,
		"offerId":    b.OfferID,
		"merchantId": b.MerchantID,
		"amount":     b.Amount.String(),
		"status":     string(b.Status),
	}
	if b.Resolution != "" {
		data["resolution"] = string(b.Resolution)
	}
	e.hub.Broadcast(&Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	})
}
