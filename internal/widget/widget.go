// Package widget serves the shopper-facing embed: the single offer a
// merchant is currently presenting, stripped down to what a shopper may
// see, plus an append-only interaction log (viewed, dismissed, bid) for
// conversion reporting.
package widget

import (
	"context"
	"sync"
	"time"

	"github.com/ivooa3/mybidly/internal/offer"
)

// OfferView is the shopper-visible projection of an offer. The secret
// floor and remaining stock never leave the backend.
type OfferView struct {
	OfferID     string `json:"offerId"`
	MerchantID  string `json:"merchantId"`
	Name        string `json:"name"`
	FixedPrice  string `json:"fixedPrice"`
	BidRangeMin string `json:"bidRangeMin"`
	BidRangeMax string `json:"bidRangeMax"`
}

// NewOfferView projects an offer for shopper display.
func NewOfferView(o *offer.Offer) *OfferView {
	return &OfferView{
		OfferID:     o.ID,
		MerchantID:  o.MerchantID,
		Name:        o.Name,
		FixedPrice:  o.FixedPrice.String(),
		BidRangeMin: o.BidRangeMin.String(),
		BidRangeMax: o.BidRangeMax.String(),
	}
}

// Outcome tags what the shopper did with the widget.
type Outcome string

const (
	// OutcomeViewed is recorded when the widget fetches an offer.
	OutcomeViewed Outcome = "viewed"
	// OutcomeDismissed is reported by the widget when the shopper closes it.
	OutcomeDismissed Outcome = "dismissed"
	// OutcomeBid is reported by the widget when the shopper places a bid.
	OutcomeBid Outcome = "bid"
)

// ValidOutcome reports whether o is one of the closed outcome set.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeViewed, OutcomeDismissed, OutcomeBid:
		return true
	}
	return false
}

// View is one widget interaction fact.
type View struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchantId"`
	OfferID    string    `json:"offerId"`
	Outcome    Outcome   `json:"outcome"`
	Locale     string    `json:"locale,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Stats aggregates widget interactions for a merchant.
type Stats struct {
	Total     int64            `json:"total"`
	ByOffer   map[string]int64 `json:"byOffer"`
	ByOutcome map[string]int64 `json:"byOutcome"`
}

// ViewStore records widget impressions. Append-only: views are evidence
// for conversion math and are never edited.
type ViewStore interface {
	Record(ctx context.Context, v *View) error
	StatsByMerchant(ctx context.Context, merchantID string) (*Stats, error)
}

// MemoryViewStore is an in-memory view store for demo/development mode.
type MemoryViewStore struct {
	views []*View
	mu    sync.Mutex
}

// NewMemoryViewStore creates a new in-memory view store.
func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{}
}

func (s *MemoryViewStore) Record(ctx context.Context, v *View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.views = append(s.views, &cp)
	return nil
}

func (s *MemoryViewStore) StatsByMerchant(ctx context.Context, merchantID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{ByOffer: make(map[string]int64), ByOutcome: make(map[string]int64)}
	for _, v := range s.views {
		if v.MerchantID != merchantID {
			continue
		}
		stats.Total++
		stats.ByOffer[v.OfferID]++
		stats.ByOutcome[string(v.Outcome)]++
	}
	return stats, nil
}

var _ ViewStore = (*MemoryViewStore)(nil)
