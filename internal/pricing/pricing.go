// Package pricing contains the pure bid-pricing policy.
//
// Two different accept thresholds exist on purpose: Classify instantly
// accepts only at or above the offer's fixed price ("buy it now"), while
// SweepOutcome accepts anything at or above the lower, shopper-invisible
// minimum selling price once the review window has elapsed. The gap between
// the two is the merchant's manual-review window.
package pricing

import (
	"errors"

	"github.com/ivooa3/mybidly/internal/money"
)

var ErrOutOfRange = errors.New("bid amount outside the allowed range")

// OfferTerms is the pricing-relevant snapshot of an offer.
type OfferTerms struct {
	MinSellingPrice money.Cents
	FixedPrice      money.Cents
	BidRangeMin     money.Cents
	BidRangeMax     money.Cents
	StockQuantity   int
}

// Classification of a freshly submitted bid.
type Classification int

const (
	// InstantAccept bids are captured immediately at authorization time.
	InstantAccept Classification = iota
	// PendingReview bids are held only; the merchant or the sweeper decides.
	PendingReview
)

// Outcome is the terminal decision the sweeper applies to a stale bid.
type Outcome int

const (
	Accept Outcome = iota
	Decline
)

// ValidateRange rejects amounts outside [BidRangeMin, BidRangeMax] unless the
// amount equals the fixed price exactly (the instant-buy exception).
func ValidateRange(o OfferTerms, amount money.Cents) error {
	if amount == o.FixedPrice {
		return nil
	}
	if amount < o.BidRangeMin || amount > o.BidRangeMax {
		return ErrOutOfRange
	}
	return nil
}

// Classify decides the capture mode for a new bid.
func Classify(o OfferTerms, amount money.Cents) Classification {
	if amount >= o.FixedPrice && o.StockQuantity > 0 {
		return InstantAccept
	}
	return PendingReview
}

// SplitFee divides amount into the platform's cut and the merchant's
// remainder. The fee is rounded half-up to the cent; the merchant amount is
// derived by subtraction so the two always sum to amount exactly.
func SplitFee(amount money.Cents, feeBasisPoints int64) (platformFee, merchantAmount money.Cents) {
	fee := (amount.Int64()*feeBasisPoints + 5000) / 10000
	platformFee = money.Cents(fee)
	merchantAmount = amount - platformFee
	return platformFee, merchantAmount
}

// SweepOutcome is the delayed-resolution rule: accept anything at or above
// the secret floor while stock remains, decline the rest.
func SweepOutcome(o OfferTerms, amount money.Cents) Outcome {
	if amount >= o.MinSellingPrice && o.StockQuantity > 0 {
		return Accept
	}
	return Decline
}
