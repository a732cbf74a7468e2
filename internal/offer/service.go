package offer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ivooa3/mybidly/internal/idgen"
)

// Service implements offer management on top of a Store.
type Service struct {
	store Store
}

// NewService creates a new offer service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create validates and persists a new offer, then renumbers the merchant's
// offers so priorities stay a dense unique ordering.
func (s *Service) Create(ctx context.Context, o *Offer) (*Offer, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	o.ID = idgen.WithPrefix("off_")
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	if err := s.renumber(ctx, o.MerchantID, o.ID, o.Priority); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, o.ID)
}

// Update validates and persists offer edits. A priority change cascades to
// the merchant's sibling offers.
func (s *Service) Update(ctx context.Context, o *Offer) (*Offer, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, o.ID); err != nil {
		return nil, err
	}

	o.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}

	if err := s.renumber(ctx, o.MerchantID, o.ID, o.Priority); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, o.ID)
}

// Delete removes an offer and, via the store, its dependent bids.
func (s *Service) Delete(ctx context.Context, id string) error {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	// Close the gap the deleted offer leaves in the ordering.
	return s.renumber(ctx, o.MerchantID, "", 0)
}

// Get returns an offer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	return s.store.Get(ctx, id)
}

// ListByMerchant returns a merchant's offers ordered by priority.
func (s *Service) ListByMerchant(ctx context.Context, merchantID string) ([]*Offer, error) {
	offers, err := s.store.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].Priority < offers[j].Priority })
	return offers, nil
}

// ActiveForMerchant returns the one offer currently presentable to shoppers.
func (s *Service) ActiveForMerchant(ctx context.Context, merchantID string) (*Offer, error) {
	return s.store.ActiveForMerchant(ctx, merchantID)
}

// renumber rewrites a merchant's offer priorities as 1..n. When movedID is
// non-empty, that offer is pinned at wantPriority and siblings shift around
// it; ties resolve in favor of the moved offer.
func (s *Service) renumber(ctx context.Context, merchantID, movedID string, wantPriority int) error {
	offers, err := s.store.ListByMerchant(ctx, merchantID)
	if err != nil {
		return err
	}

	sort.SliceStable(offers, func(i, j int) bool {
		pi, pj := offers[i].Priority, offers[j].Priority
		if pi != pj {
			return pi < pj
		}
		// The moved offer wins its requested slot.
		return offers[i].ID == movedID
	})
	_ = wantPriority // the moved offer already carries its requested priority

	for i, o := range offers {
		want := i + 1
		if o.Priority == want {
			continue
		}
		o.Priority = want
		o.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, o); err != nil {
			return fmt.Errorf("failed to renumber offer %s: %w", o.ID, err)
		}
	}
	return nil
}
