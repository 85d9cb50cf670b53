package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	order       []string
	predictions []model.Prediction
	states      map[string]lmsr.State
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		states:  make(map[string]lmsr.State),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	// Store a copy to avoid external mutation.
	s.markets[m.ID] = copyMarket(m)
	s.order = append(s.order, m.ID)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.order))
	for _, id := range s.order {
		markets = append(markets, *copyMarket(s.markets[id]))
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) InsertPrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions = append(s.predictions, *p)
	return nil
}

func (s *MemoryStore) ListPredictions(_ context.Context, marketID string) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Prediction
	for _, p := range s.predictions {
		if marketID == "" || p.MarketID == marketID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPredictionsByUser(_ context.Context, userID string) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Prediction
	for _, p := range s.predictions {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdatePrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.predictions {
		if s.predictions[i].ID == p.ID {
			s.predictions[i] = *p
			return nil
		}
	}
	return fmt.Errorf("prediction %s: %w", p.ID, ErrNotFound)
}

func (s *MemoryStore) DeletePrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.predictions {
		if s.predictions[i].ID == p.ID {
			s.predictions = append(s.predictions[:i], s.predictions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("prediction %s: %w", p.ID, ErrNotFound)
}

func (s *MemoryStore) SaveMarketState(_ context.Context, marketID string, state lmsr.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[marketID] = state
	return nil
}

func (s *MemoryStore) LoadMarketStates(_ context.Context) (map[string]lmsr.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]lmsr.State, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out, nil
}

func copyMarket(m *model.Market) *model.Market {
	c := *m
	c.Outcomes = append([]model.Outcome(nil), m.Outcomes...)
	return &c
}
