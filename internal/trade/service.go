// Package trade provides the business logic and HTTP handlers for listing
// markets, placing predictions against the LMSR engine, and resolving
// markets.
//
// Stakes and returns are shopspring/decimal in persisted records; the
// pricing engine itself works in float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samsa/market-engine/internal/contract"
	"github.com/samsa/market-engine/internal/correlation"
	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/metrics"
	"github.com/samsa/market-engine/internal/model"
	"github.com/samsa/market-engine/internal/pricing"
	"github.com/samsa/market-engine/internal/registry"
	"github.com/samsa/market-engine/internal/store"
)

var (
	// ErrInvalidRequest is returned for malformed or incomplete payloads.
	ErrInvalidRequest = errors.New("trade: invalid request")

	// ErrMarketClosed is returned when a market is no longer active.
	ErrMarketClosed = errors.New("trade: market is not active")

	// ErrOutcomeNotFound is returned when a prediction names an outcome the
	// market does not have.
	ErrOutcomeNotFound = errors.New("trade: outcome not found")

	// ErrInvalidWinningOutcome is returned when a resolution names an
	// outcome the market does not have.
	ErrInvalidWinningOutcome = errors.New("trade: invalid winning_outcome_id")
)

// Service handles market operations. Each market's record is updated under
// its own lock; the pricing registry has its own per-market locking.
type Service struct {
	store            store.Store
	registry         *registry.Registry
	limiter          *correlation.StakeLimiter
	wsHub            *WSHub // optional WebSocket hub for real-time broadcasts
	defaultLiquidity float64
	defaultProb      float64
	now              func() time.Time

	locks sync.Map // market id -> *sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter enables per-user stake limits.
func WithLimiter(l *correlation.StakeLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithHub broadcasts trades and resolutions to WebSocket clients.
func WithHub(h *WSHub) Option {
	return func(s *Service) { s.wsHub = h }
}

// WithDefaultLiquidity sets the liquidity of markets created without one.
func WithDefaultLiquidity(b float64) Option {
	return func(s *Service) { s.defaultLiquidity = b }
}

// WithDefaultProbability sets the YES probability given to markets created
// without outcome probabilities.
func WithDefaultProbability(p float64) Option {
	return func(s *Service) { s.defaultProb = p }
}

// NewService creates a new trade service. The platform fee is taken from
// the registry.
func NewService(st store.Store, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		store:            st,
		registry:         reg,
		defaultLiquidity: lmsr.DefaultLiquidity,
		defaultProb:      lmsr.DefaultProbability,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fee returns the platform fee.
func (s *Service) Fee() float64 { return s.registry.Fee() }

// PredictionRequest is the JSON body for POST /api/predictions.
// OddsAtPrediction is the outcome probability shown to the user, on the
// 0-100 or 0-1 scale.
type PredictionRequest struct {
	MarketID         string   `json:"market_id"`
	OutcomeID        string   `json:"outcome_id"`
	StakeAmount      *float64 `json:"stake_amount"`
	OddsAtPrediction *float64 `json:"odds_at_prediction"`
	UserID           string   `json:"user_id"`
}

// Restore loads persisted LMSR states into the registry, replacing its
// contents.
func (s *Service) Restore(ctx context.Context) (int, error) {
	states, err := s.store.LoadMarketStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load market states: %w", err)
	}
	if err := s.registry.Restore(states); err != nil {
		return 0, err
	}
	metrics.ActiveMarkets.Set(float64(s.registry.Len()))
	return len(states), nil
}

// CreateMarket validates a definition and persists the resulting market.
func (s *Service) CreateMarket(ctx context.Context, def contract.Definition) (*model.Market, error) {
	market, err := contract.Parse(def, contract.Defaults{
		Liquidity:   s.defaultLiquidity,
		Probability: s.defaultProb,
	}, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	slog.Info("market created",
		"id", market.ID,
		"category", market.Category,
		"liquidity", market.Liquidity,
		"seed_probability", market.LMSRProbability,
	)
	return market, nil
}

// PlacePrediction records a stake on one outcome. The returned breakdown is
// quoted from the odds shown to the user; the LMSR market then absorbs the
// stake's pressure.
func (s *Service) PlacePrediction(ctx context.Context, req PredictionRequest) (*model.Prediction, error) {
	start := time.Now()

	if req.MarketID == "" || req.OutcomeID == "" || req.StakeAmount == nil || req.OddsAtPrediction == nil {
		return nil, fmt.Errorf("%w: market_id, outcome_id, stake_amount and odds_at_prediction are required", ErrInvalidRequest)
	}
	stake, odds := *req.StakeAmount, *req.OddsAtPrediction
	if err := pricing.Validate(stake, odds, s.Fee()); err != nil {
		return nil, err
	}

	unlock := s.lock(req.MarketID)
	defer unlock()

	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.StatusActive {
		return nil, ErrMarketClosed
	}
	outcome, ok := market.Outcome(req.OutcomeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOutcomeNotFound, req.OutcomeID)
	}

	stakeAmount := decimal.NewFromFloat(stake)
	if err := s.checkLimits(ctx, market, req.UserID, stakeAmount); err != nil {
		return nil, err
	}

	b := market.Liquidity
	if b <= 0 {
		b = s.defaultLiquidity
	}
	prevState, err := s.registry.GetOrCreate(market.ID, b, contract.SeedProbability(market))
	if err != nil {
		return nil, err
	}
	prevMarket := *market
	prevMarket.Outcomes = append([]model.Outcome(nil), market.Outcomes...)

	side := lmsr.No
	if market.IsYes(outcome.ID) {
		side = lmsr.Yes
	}
	result, err := s.registry.Invest(market.ID, side, stake)
	if err != nil {
		return nil, err
	}
	state, err := s.registry.Get(market.ID)
	if err != nil {
		return nil, err
	}

	// If a write below fails, the registry goes back to prevState and the
	// earlier writes are reverted in reverse order.
	var undo []func(context.Context) error
	fail := func(err error) (*model.Prediction, error) {
		s.rollback(ctx, market.ID, prevState, undo)
		return nil, err
	}

	breakdown := pricing.GetBreakdown(stake, odds, s.Fee()).View()
	prediction := &model.Prediction{
		ID:               contract.NewID(12),
		MarketID:         market.ID,
		OutcomeID:        outcome.ID,
		UserID:           req.UserID,
		StakeAmount:      stakeAmount,
		OddsAtPrediction: odds,
		PotentialReturn:  breakdown.Win.TotalReturn,
		PotentialProfit:  breakdown.Win.Profit,
		PotentialRefund:  breakdown.Lose.Refund,
		Status:           model.PredictionActive,
		ActualReturn:     decimal.Zero,
		Breakdown:        &breakdown,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.InsertPrediction(ctx, prediction); err != nil {
		return fail(fmt.Errorf("record prediction: %w", err))
	}
	undo = append(undo, func(ctx context.Context) error {
		return s.store.DeletePrediction(ctx, prediction)
	})

	outcome.TotalStake = outcome.TotalStake.Add(stakeAmount)
	market.RecomputeStats()
	market.LMSRProbability = result.NewProbability
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		return fail(fmt.Errorf("update market: %w", err))
	}
	undo = append(undo, func(ctx context.Context) error {
		return s.store.UpdateMarket(ctx, &prevMarket)
	})

	if err := s.store.SaveMarketState(ctx, market.ID, state); err != nil {
		return fail(fmt.Errorf("save market state: %w", err))
	}

	metrics.InvestmentsTotal.WithLabelValues(side.String()).Inc()
	metrics.StakeVolume.WithLabelValues(side.String()).Add(stake)
	metrics.ActiveMarkets.Set(float64(s.registry.Len()))
	metrics.InvestLatency.Observe(time.Since(start).Seconds())

	slog.Info("prediction placed",
		"prediction_id", prediction.ID,
		"market_id", market.ID,
		"user", req.UserID,
		"side", side.String(),
		"stake", stake,
		"odds", odds,
		"old_probability", result.OldProbability,
		"new_probability", result.NewProbability,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:              MsgPredictionPlaced,
			MarketID:          market.ID,
			OutcomeID:         outcome.ID,
			Side:              side.String(),
			Stake:             stake,
			Probability:       result.NewProbability,
			ProbabilityChange: result.ProbabilityChange,
			TotalVolume:       market.TotalVolume.String(),
		})
	}

	return prediction, nil
}

// rollback puts a market's pricing state back to prev and reverts the
// writes of an abandoned trade. Failures are logged, not returned, so the
// caller still sees the original error.
func (s *Service) rollback(ctx context.Context, marketID string, prev lmsr.State, undo []func(context.Context) error) {
	if err := s.registry.Put(marketID, prev); err != nil {
		slog.Error("rollback pricing state failed", "market_id", marketID, "err", err)
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](ctx); err != nil {
			slog.Error("rollback write failed", "market_id", marketID, "err", err)
		}
	}
}

// ResolveResult is returned by ResolveMarket.
type ResolveResult struct {
	OK      bool          `json:"ok"`
	Market  *model.Market `json:"market"`
	Settled int           `json:"settled"`
}

// ResolveMarket marks a market resolved and settles every prediction on it
// from the odds recorded when the prediction was placed.
func (s *Service) ResolveMarket(ctx context.Context, marketID, winningOutcomeID string) (*ResolveResult, error) {
	unlock := s.lock(marketID)
	defer unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.StatusActive {
		return nil, ErrMarketClosed
	}
	if _, ok := market.Outcome(winningOutcomeID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWinningOutcome, winningOutcomeID)
	}

	predictions, err := s.store.ListPredictions(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}

	revenue := 0.0
	for i := range predictions {
		p := &predictions[i]
		won := p.OutcomeID == winningOutcomeID
		settlement := pricing.Settle(p.StakeAmount.InexactFloat64(), p.OddsAtPrediction, won, s.Fee())
		view := settlement.View()

		p.Status = model.PredictionLost
		if won {
			p.Status = model.PredictionWon
		}
		p.ActualReturn = view.TotalReturn
		p.Settlement = &view
		if err := s.store.UpdatePrediction(ctx, p); err != nil {
			return nil, fmt.Errorf("settle prediction %s: %w", p.ID, err)
		}

		revenue += settlement.PlatformRevenue
		metrics.SettlementsTotal.WithLabelValues(string(settlement.Outcome)).Inc()
	}
	metrics.PlatformRevenue.Add(revenue)

	resolvedAt := s.now().UTC()
	market.Status = model.StatusResolved
	market.WinningOutcomeID = winningOutcomeID
	market.ResolutionDate = &resolvedAt
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("update market: %w", err)
	}

	slog.Info("market resolved",
		"market_id", marketID,
		"winning_outcome", winningOutcomeID,
		"settled", len(predictions),
		"platform_revenue", revenue,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:             MsgMarketResolved,
			MarketID:         marketID,
			WinningOutcomeID: winningOutcomeID,
			Settled:          len(predictions),
		})
	}

	return &ResolveResult{OK: true, Market: market, Settled: len(predictions)}, nil
}

// checkLimits applies the stake limiter to the user's open predictions.
// Anonymous predictions are not limited.
func (s *Service) checkLimits(ctx context.Context, market *model.Market, userID string, stake decimal.Decimal) error {
	if !s.limiter.Enabled() || userID == "" {
		return nil
	}

	open, err := s.store.ListPredictionsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user predictions: %w", err)
	}

	categories := map[string]string{market.ID: market.Category}
	exposures := make([]correlation.Exposure, 0, len(open))
	for _, p := range open {
		if p.Status != model.PredictionActive {
			continue
		}
		category, ok := categories[p.MarketID]
		if !ok {
			m, err := s.store.GetMarket(ctx, p.MarketID)
			if err != nil {
				return fmt.Errorf("load market %s: %w", p.MarketID, err)
			}
			category = m.Category
			categories[p.MarketID] = category
		}
		exposures = append(exposures, correlation.Exposure{
			MarketID: p.MarketID,
			Category: category,
			Stake:    p.StakeAmount,
		})
	}

	err = s.limiter.CheckLimit(market.ID, market.Category, stake, exposures)
	switch {
	case errors.Is(err, correlation.ErrPerMarketLimitExceeded):
		metrics.StakeLimitRejections.WithLabelValues("per_market").Inc()
	case errors.Is(err, correlation.ErrCorrelatedLimitExceeded):
		metrics.StakeLimitRejections.WithLabelValues("correlated").Inc()
	}
	return err
}

// lock serialises read-modify-write cycles on one market's records.
func (s *Service) lock(marketID string) func() {
	v, _ := s.locks.LoadOrStore(marketID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
