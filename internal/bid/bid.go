// Package bid implements the bid lifecycle: submission, instant or deferred
// resolution, payment settlement, and the background sweep that resolves
// stale pending bids.
//
// A bid is money first and a record second: the payment authorization is
// taken at submission, and every resolution path settles it exactly once
// (capture on accept, void or refund on decline).
package bid

import (
	"context"
	"errors"
	"time"

	"github.com/ivooa3/mybidly/internal/money"
)

var (
	ErrBidNotFound          = errors.New("bid not found")
	ErrAlreadyResolved      = errors.New("bid already resolved")
	ErrConflict             = errors.New("bid was resolved concurrently")
	ErrOfferUnavailable     = errors.New("offer is not available")
	ErrOutOfRange           = errors.New("bid amount is outside the allowed range")
	ErrSoldOut              = errors.New("offer is sold out")
	ErrPaymentNotConfigured = errors.New("merchant has no payment account connected")
	ErrShippingAlreadySet   = errors.New("shipping address already set")
)

// Status is the lifecycle state of a bid.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

// Resolution records which path resolved a bid.
type Resolution string

const (
	ResolutionInstantAccept   Resolution = "instant_accept"
	ResolutionMerchantAccept  Resolution = "merchant_accept"
	ResolutionMerchantDecline Resolution = "merchant_decline"
	ResolutionSweepAccept     Resolution = "sweep_accept"
	ResolutionSweepDecline    Resolution = "sweep_decline"
)

// ShippingAddress is where an accepted bid's item ships. Set once by the
// shopper after checkout; immutable afterwards.
type ShippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Bid is one shopper's offer of money for one unit of an offer.
type Bid struct {
	ID         string      `json:"id"`
	OfferID    string      `json:"offerId"`
	MerchantID string      `json:"merchantId"`
	Amount     money.Cents `json:"amount"`
	Status     Status      `json:"status"`

	// PaymentRef is the gateway's payment identifier, held from
	// authorization until settlement.
	PaymentRef string `json:"paymentRef,omitempty"`
	// SettlementRef is the gateway's capture/charge identifier, set once
	// the payment is captured.
	SettlementRef string `json:"settlementRef,omitempty"`
	// Captured tracks whether funds actually moved. It decides whether a
	// decline voids the authorization or refunds the charge.
	Captured bool `json:"captured"`

	// Fee split frozen at submission time from the merchant's rate.
	PlatformFee    money.Cents `json:"platformFee"`
	MerchantAmount money.Cents `json:"merchantAmount"`

	CustomerEmail   string           `json:"customerEmail"`
	CustomerName    string           `json:"customerName,omitempty"`
	ShippingAddress *ShippingAddress `json:"shippingAddress,omitempty"`
	Locale          string           `json:"locale,omitempty"`

	Resolution Resolution `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	// SweptAt marks a pending bid claimed by a sweep run, so two
	// overlapping runs never settle the same bid twice.
	SweptAt   *time.Time `json:"-"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether the bid has reached a final state.
func (b *Bid) IsTerminal() bool {
	return b.Status == StatusAccepted || b.Status == StatusDeclined
}

// Store persists bids and their payment intent records.
//
// Status moves are compare-and-swap on the expected current status, so a
// merchant decision and a sweep run racing on the same bid produce exactly
// one winner.
type Store interface {
	Create(ctx context.Context, b *Bid) error
	Get(ctx context.Context, id string) (*Bid, error)
	// UpdateStatusFrom persists b only if the stored bid still has status
	// from. Returns ErrConflict when another writer got there first.
	UpdateStatusFrom(ctx context.Context, b *Bid, from Status) error
	// SetShippingAddress sets the address only if none is set yet.
	SetShippingAddress(ctx context.Context, id string, addr *ShippingAddress) error
	ListByMerchant(ctx context.Context, merchantID string, status Status, limit int) ([]*Bid, error)
	// ListPendingBefore returns unclaimed pending bids created at or before
	// cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Bid, error)
	// ClaimForSweep marks a pending, unclaimed bid as owned by the calling
	// sweep run. Returns false if the bid was already claimed or resolved.
	ClaimForSweep(ctx context.Context, id string, at time.Time) (bool, error)
	// UnclaimSweep releases a sweep claim so the next run retries the bid.
	UnclaimSweep(ctx context.Context, id string) error
	DeleteByOffer(ctx context.Context, offerID string) error

	CreateIntent(ctx context.Context, in *Intent) error
	UpdateIntent(ctx context.Context, in *Intent) error
	// ListStaleIntents returns intents still in an in-flight state whose
	// last update is at or before cutoff.
	ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]*Intent, error)
}
