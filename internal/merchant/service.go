package merchant

import (
	"context"
	"fmt"
	"time"

	"github.com/ivooa3/mybidly/internal/idgen"
)

// Service implements merchant account management on top of a Store.
type Service struct {
	store Store
}

// NewService creates a new merchant service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create registers a new merchant. New merchants start active but cannot
// receive bids until a gateway account is connected.
func (s *Service) Create(ctx context.Context, name string, feeBasisPoints int64) (*Merchant, error) {
	now := time.Now()
	m := &Merchant{
		ID:                     idgen.WithPrefix("mch_"),
		Name:                   name,
		PlatformFeeBasisPoints: feeBasisPoints,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create merchant: %w", err)
	}
	return m, nil
}

// Get returns a merchant by ID.
func (s *Service) Get(ctx context.Context, id string) (*Merchant, error) {
	return s.store.Get(ctx, id)
}

// Update applies edits to a merchant account.
func (s *Service) Update(ctx context.Context, m *Merchant) (*Merchant, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, m.ID)
}

// ConnectGateway records the merchant's payment-gateway sub-account,
// completing onboarding.
func (s *Service) ConnectGateway(ctx context.Context, id, gatewayAccountID string) (*Merchant, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.GatewayAccountID = gatewayAccountID
	m.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns up to limit merchants, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Merchant, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}
