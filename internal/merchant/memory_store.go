package merchant

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory merchant store for demo/development mode.
type MemoryStore struct {
	merchants map[string]*Merchant
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory merchant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{merchants: make(map[string]*Merchant)}
}

func (s *MemoryStore) Create(ctx context.Context, m *Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[m.ID]; ok {
		return ErrMerchantExists
	}
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, m *Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[m.ID]; !ok {
		return ErrMerchantNotFound
	}
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Merchant
	for _, m := range s.merchants {
		cp := *m
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
