package bid

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory bid store for demo/development mode.
type MemoryStore struct {
	bids    map[string]*Bid
	intents map[string]*Intent
	mu      sync.Mutex
}

// NewMemoryStore creates a new in-memory bid store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bids:    make(map[string]*Bid),
		intents: make(map[string]*Intent),
	}
}

func copyBid(b *Bid) *Bid {
	cp := *b
	if b.ShippingAddress != nil {
		addr := *b.ShippingAddress
		cp.ShippingAddress = &addr
	}
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		cp.ResolvedAt = &t
	}
	if b.SweptAt != nil {
		t := *b.SweptAt
		cp.SweptAt = &t
	}
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, b *Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bids[b.ID] = copyBid(b)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return nil, ErrBidNotFound
	}
	return copyBid(b), nil
}

func (s *MemoryStore) UpdateStatusFrom(ctx context.Context, b *Bid, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bids[b.ID]
	if !ok {
		return ErrBidNotFound
	}
	if stored.Status != from {
		return ErrConflict
	}
	cp := copyBid(b)
	// The sweep claim is owned by ClaimForSweep, not by status writes.
	cp.SweptAt = stored.SweptAt
	s.bids[b.ID] = cp
	return nil
}

func (s *MemoryStore) SetShippingAddress(ctx context.Context, id string, addr *ShippingAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return ErrBidNotFound
	}
	if b.ShippingAddress != nil {
		return ErrShippingAlreadySet
	}
	cp := *addr
	b.ShippingAddress = &cp
	b.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListByMerchant(ctx context.Context, merchantID string, status Status, limit int) ([]*Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Bid
	for _, b := range s.bids {
		if b.MerchantID != merchantID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		result = append(result, copyBid(b))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Bid
	for _, b := range s.bids {
		if b.Status != StatusPending || b.SweptAt != nil {
			continue
		}
		if b.CreatedAt.After(cutoff) {
			continue
		}
		result = append(result, copyBid(b))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ClaimForSweep(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return false, ErrBidNotFound
	}
	if b.Status != StatusPending || b.SweptAt != nil {
		return false, nil
	}
	t := at
	b.SweptAt = &t
	return true, nil
}

func (s *MemoryStore) UnclaimSweep(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return ErrBidNotFound
	}
	b.SweptAt = nil
	return nil
}

func (s *MemoryStore) DeleteByOffer(ctx context.Context, offerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range s.bids {
		if b.OfferID == offerID {
			delete(s.bids, id)
		}
	}
	return nil
}

func (s *MemoryStore) CreateIntent(ctx context.Context, in *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *in
	s.intents[in.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateIntent(ctx context.Context, in *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[in.ID]; !ok {
		return ErrBidNotFound
	}
	cp := *in
	s.intents[in.ID] = &cp
	return nil
}

func (s *MemoryStore) ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Intent
	for _, in := range s.intents {
		if !in.InFlight() || in.UpdatedAt.After(cutoff) {
			continue
		}
		cp := *in
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
