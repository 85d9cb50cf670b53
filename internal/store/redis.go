package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
)

// statesKey is the Redis hash mirroring the latest pricing state per market.
const statesKey = "lmsr:states"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	if err := s.primary.InsertPrediction(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, userPredictionsKey(p.UserID))
	return nil
}

func (s *CachedStore) UpdatePrediction(ctx context.Context, p *model.Prediction) error {
	if err := s.primary.UpdatePrediction(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, userPredictionsKey(p.UserID))
	return nil
}

func (s *CachedStore) DeletePrediction(ctx context.Context, p *model.Prediction) error {
	if err := s.primary.DeletePrediction(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, userPredictionsKey(p.UserID))
	return nil
}

// SaveMarketState persists to the primary and mirrors the state into a
// Redis hash so other readers can see live prices without a database hit.
func (s *CachedStore) SaveMarketState(ctx context.Context, marketID string, st lmsr.State) error {
	if err := s.primary.SaveMarketState(ctx, marketID, st); err != nil {
		return err
	}
	if data, err := json.Marshal(st); err == nil {
		s.rdb.HSet(ctx, statesKey, marketID, data)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListPredictionsByUser(ctx context.Context, userID string) ([]model.Prediction, error) {
	data, err := s.rdb.Get(ctx, userPredictionsKey(userID)).Bytes()
	if err == nil {
		var predictions []model.Prediction
		if json.Unmarshal(data, &predictions) == nil {
			return predictions, nil
		}
	}

	predictions, err := s.primary.ListPredictionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(predictions); err == nil {
		s.rdb.Set(ctx, userPredictionsKey(userID), data, s.ttl)
	}
	return predictions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListPredictions(ctx context.Context, marketID string) ([]model.Prediction, error) {
	return s.primary.ListPredictions(ctx, marketID)
}

// LoadMarketStates always reads the primary; the Redis hash is a mirror
// and may lag after a failed write.
func (s *CachedStore) LoadMarketStates(ctx context.Context) (map[string]lmsr.State, error) {
	return s.primary.LoadMarketStates(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string           { return fmt.Sprintf("market:%s", id) }
func userPredictionsKey(uid string) string { return fmt.Sprintf("predictions:user:%s", uid) }
