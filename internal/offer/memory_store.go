package offer

import (
	"context"
	"sync"
)

// BidCascader removes the bids that depend on a deleted offer. The bid
// package's stores implement it; kept as a local interface so offer does
// not import bid.
type BidCascader interface {
	DeleteByOffer(ctx context.Context, offerID string) error
}

// MemoryStore is an in-memory offer store for demo/development mode.
type MemoryStore struct {
	offers   map[string]*Offer
	mu       sync.Mutex
	cascader BidCascader
}

// NewMemoryStore creates a new in-memory offer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]*Offer)}
}

// WithBidCascader wires bid cleanup for offer deletion. In Postgres the
// foreign key handles this; the memory store mirrors it explicitly.
func (s *MemoryStore) WithBidCascader(c BidCascader) *MemoryStore {
	s.cascader = c
	return s
}

func (s *MemoryStore) Create(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[o.ID]; !ok {
		return ErrOfferNotFound
	}
	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.offers[id]; !ok {
		s.mu.Unlock()
		return ErrOfferNotFound
	}
	delete(s.offers, id)
	s.mu.Unlock()

	if s.cascader != nil {
		return s.cascader.DeleteByOffer(ctx, id)
	}
	return nil
}

func (s *MemoryStore) ListByMerchant(ctx context.Context, merchantID string) ([]*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Offer
	for _, o := range s.offers {
		if o.MerchantID == merchantID {
			cp := *o
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) ActiveForMerchant(ctx context.Context, merchantID string) (*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Offer
	for _, o := range s.offers {
		if o.MerchantID != merchantID || !o.Available() {
			continue
		}
		if best == nil || o.Priority < best.Priority {
			best = o
		}
	}
	if best == nil {
		return nil, ErrOfferNotFound
	}
	cp := *best
	return &cp, nil
}

// TryReserve atomically decrements stock iff positive. The store mutex makes
// the check-and-decrement a single step, mirroring the conditional UPDATE in
// the Postgres store.
func (s *MemoryStore) TryReserve(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return false, ErrOfferNotFound
	}
	if o.StockQuantity <= 0 {
		return false, nil
	}
	o.StockQuantity--
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	o.StockQuantity++
	return nil
}

var _ Store = (*MemoryStore)(nil)
