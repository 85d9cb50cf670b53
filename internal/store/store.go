// Package store defines the persistence interface for the market service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The pricing engine itself never touches storage: the service hands LMSR
// state snapshots to the store after each trade and restores the registry
// from them at startup.
package store

import (
	"context"
	"errors"

	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket overwrites a market's mutable fields (outcomes, volume,
	// status, resolution).
	UpdateMarket(ctx context.Context, market *model.Market) error

	// --- Predictions ---

	// InsertPrediction appends a prediction.
	InsertPrediction(ctx context.Context, p *model.Prediction) error

	// ListPredictions returns the predictions of a market, or all of them
	// when marketID is empty.
	ListPredictions(ctx context.Context, marketID string) ([]model.Prediction, error)

	// ListPredictionsByUser returns all predictions of a user.
	ListPredictionsByUser(ctx context.Context, userID string) ([]model.Prediction, error)

	// UpdatePrediction overwrites a prediction's status and settlement.
	UpdatePrediction(ctx context.Context, p *model.Prediction) error

	// DeletePrediction removes a prediction whose trade was abandoned.
	DeletePrediction(ctx context.Context, p *model.Prediction) error

	// --- LMSR state ---

	// SaveMarketState upserts the pricing state of one market.
	SaveMarketState(ctx context.Context, marketID string, state lmsr.State) error

	// LoadMarketStates returns every persisted pricing state.
	LoadMarketStates(ctx context.Context) (map[string]lmsr.State, error)
}
