// Package offer manages upsell offers and their inventory.
//
// Each merchant presents exactly one offer to a shopper at a time: the
// lowest-priority-value active offer that still has stock. Stock mutations
// are atomic conditional updates at the storage layer so quantity can never
// go negative under concurrent bid submissions.
package offer

import (
	"context"
	"errors"
	"time"

	"github.com/ivooa3/mybidly/internal/money"
	"github.com/ivooa3/mybidly/internal/pricing"
)

var (
	ErrOfferNotFound = errors.New("offer not found")
	ErrInvalidRange  = errors.New("bid range max must be greater than min")
	ErrInvalidStock  = errors.New("stock quantity must not be negative")
)

// Offer is one sellable item configuration owned by a merchant.
type Offer struct {
	ID         string `json:"id"`
	MerchantID string `json:"merchantId"`
	Name       string `json:"name"`
	// MinSellingPrice is the secret floor, never exposed to shoppers.
	MinSellingPrice money.Cents `json:"-"`
	// FixedPrice is the buy-it-now price; bids at or above it accept
	// instantly.
	FixedPrice    money.Cents `json:"fixedPrice"`
	BidRangeMin   money.Cents `json:"bidRangeMin"`
	BidRangeMax   money.Cents `json:"bidRangeMax"`
	StockQuantity int         `json:"stockQuantity"`
	// Priority orders a merchant's active offers; lower value is shown
	// first. Kept dense and unique per merchant.
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Available reports whether the offer can be presented to shoppers.
func (o *Offer) Available() bool {
	return o.IsActive && o.StockQuantity > 0
}

// Terms returns the pricing-policy snapshot of the offer.
func (o *Offer) Terms() pricing.OfferTerms {
	return pricing.OfferTerms{
		MinSellingPrice: o.MinSellingPrice,
		FixedPrice:      o.FixedPrice,
		BidRangeMin:     o.BidRangeMin,
		BidRangeMax:     o.BidRangeMax,
		StockQuantity:   o.StockQuantity,
	}
}

// Validate checks the invariants enforced at create and edit time.
func (o *Offer) Validate() error {
	if o.BidRangeMax <= o.BidRangeMin {
		return ErrInvalidRange
	}
	if o.StockQuantity < 0 {
		return ErrInvalidStock
	}
	return nil
}

// Store persists offers and owns the stock ledger.
//
// TryReserve and Release are the only ways stock moves. Both are single
// atomic conditional updates (never read-then-write from the application),
// which is what keeps N concurrent submissions racing for the last unit
// from overselling.
type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	// Delete removes the offer; dependent bids are removed with it.
	Delete(ctx context.Context, id string) error
	ListByMerchant(ctx context.Context, merchantID string) ([]*Offer, error)
	// ActiveForMerchant returns the single presentable offer: the active,
	// in-stock offer with the lowest priority value.
	ActiveForMerchant(ctx context.Context, merchantID string) (*Offer, error)

	// TryReserve decrements stock by one iff it is positive.
	TryReserve(ctx context.Context, id string) (bool, error)
	// Release increments stock by one, compensating a reservation whose
	// downstream step failed.
	Release(ctx context.Context, id string) error
}
