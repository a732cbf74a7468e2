// Package merchant holds the seller accounts that own offers and receive
// bids. A merchant can only take new bids once onboarding is complete: it
// must be active and have a connected payment-gateway sub-account.
package merchant

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrMerchantExists   = errors.New("merchant already exists")
	ErrInvalidFee       = errors.New("platform fee must be between 0 and 10000 basis points")
)

// Merchant is a seller account on the platform.
type Merchant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// PlatformFeeBasisPoints is the platform's cut of every accepted bid
	// (e.g. 1000 = 10%). Frozen onto each bid at submission time.
	PlatformFeeBasisPoints int64 `json:"platformFeeBasisPoints"`
	// GatewayAccountID is the processor sub-account payouts go to. Empty
	// until gateway onboarding completes.
	GatewayAccountID string    `json:"gatewayAccountId,omitempty"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// CanReceiveBids reports whether the merchant may take new bids.
func (m *Merchant) CanReceiveBids() bool {
	return m.IsActive && m.GatewayAccountID != ""
}

// Store persists merchants.
type Store interface {
	Create(ctx context.Context, m *Merchant) error
	Get(ctx context.Context, id string) (*Merchant, error)
	Update(ctx context.Context, m *Merchant) error
	List(ctx context.Context, limit int) ([]*Merchant, error)
}

// Validate checks invariants enforced at write time.
func (m *Merchant) Validate() error {
	if m.PlatformFeeBasisPoints < 0 || m.PlatformFeeBasisPoints > 10000 {
		return ErrInvalidFee
	}
	return nil
}
