// Package registry owns the set of live LMSR markets of a service and
// dispatches investments to them.
//
// The registry is an explicit object owned by its caller; there is no
// package-level instance. Each market is guarded by its own mutex so that
// investments on one market are serialised while different markets
// proceed independently.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/pricing"
)

// ErrMarketNotFound is returned for operations on an unregistered market.
var ErrMarketNotFound = errors.New("registry: market not found")

// InvestResult is the outcome of one investment. Breakdown is quoted at
// OldProbability, the price before the trade's own pressure is applied.
type InvestResult struct {
	MarketID          string            `json:"market_id"`
	Side              lmsr.Side         `json:"side"`
	Stake             float64           `json:"stake"`
	OldProbability    float64           `json:"old_probability"`
	NewProbability    float64           `json:"new_probability"`
	ProbabilityChange float64           `json:"probability_change"`
	Breakdown         pricing.Breakdown `json:"-"`
}

type entry struct {
	mu     sync.Mutex
	market *lmsr.Market
}

// Registry maps market identifiers to markets.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*entry
	fee     float64
}

// Option configures a Registry.
type Option func(*Registry)

// WithFee sets the platform fee used for investment breakdowns.
func WithFee(fee float64) Option {
	return func(r *Registry) { r.fee = fee }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		markets: make(map[string]*entry),
		fee:     pricing.DefaultFee,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fee returns the platform fee applied to breakdowns.
func (r *Registry) Fee() float64 { return r.fee }

// GetOrCreate returns the state of the market with the given id, creating
// it with liquidity b and initialProbability when it does not exist yet.
// Repeated calls for the same id never reset an existing market.
func (r *Registry) GetOrCreate(marketID string, b, initialProbability float64) (lmsr.State, error) {
	r.mu.RLock()
	e, ok := r.markets[marketID]
	r.mu.RUnlock()
	if !ok {
		m, err := lmsr.NewMarket(b, initialProbability)
		if err != nil {
			return lmsr.State{}, fmt.Errorf("create market %s: %w", marketID, err)
		}

		r.mu.Lock()
		if e, ok = r.markets[marketID]; !ok {
			e = &entry{market: m}
			r.markets[marketID] = e
		}
		r.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.State(), nil
}

// Get returns the state of an existing market.
func (r *Registry) Get(marketID string) (lmsr.State, error) {
	e, err := r.lookup(marketID)
	if err != nil {
		return lmsr.State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.State(), nil
}

// Probability returns the current YES probability of a market.
func (r *Registry) Probability(marketID string) (float64, error) {
	e, err := r.lookup(marketID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.Probability(), nil
}

// MaxLoss returns the bounded subsidy of a market.
func (r *Registry) MaxLoss(marketID string) (float64, error) {
	e, err := r.lookup(marketID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.MaxLoss(), nil
}

// Invest applies a stake to a registered market. The stake must be finite
// and non-negative.
func (r *Registry) Invest(marketID string, side lmsr.Side, stake float64) (InvestResult, error) {
	if err := pricing.ValidateStake(stake); err != nil {
		return InvestResult{}, err
	}

	e, err := r.lookup(marketID)
	if err != nil {
		return InvestResult{}, err
	}

	e.mu.Lock()
	oldP := e.market.Probability()
	breakdown := pricing.GetBreakdown(stake, oldP, r.fee)
	newP := e.market.Invest(side, stake)
	e.mu.Unlock()

	return InvestResult{
		MarketID:          marketID,
		Side:              side,
		Stake:             stake,
		OldProbability:    oldP,
		NewProbability:    newP,
		ProbabilityChange: newP - oldP,
		Breakdown:         breakdown,
	}, nil
}

// Snapshot exports the state of every market.
func (r *Registry) Snapshot() map[string]lmsr.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]lmsr.State, len(r.markets))
	for id, e := range r.markets {
		e.mu.Lock()
		out[id] = e.market.State()
		e.mu.Unlock()
	}
	return out
}

// Restore replaces the registry's entire contents with the given
// snapshot. Nothing is replaced if any state is invalid.
func (r *Registry) Restore(snapshot map[string]lmsr.State) error {
	markets := make(map[string]*entry, len(snapshot))
	for id, s := range snapshot {
		m, err := lmsr.FromState(s)
		if err != nil {
			return fmt.Errorf("restore market %s: %w", id, err)
		}
		markets[id] = &entry{market: m}
	}

	r.mu.Lock()
	r.markets = markets
	r.mu.Unlock()
	return nil
}

// Put sets the state of one market, registering it when absent. It is
// used to roll a market back after a trade could not be recorded.
func (r *Registry) Put(marketID string, s lmsr.State) error {
	m, err := lmsr.FromState(s)
	if err != nil {
		return fmt.Errorf("put market %s: %w", marketID, err)
	}

	r.mu.Lock()
	e, ok := r.markets[marketID]
	if !ok {
		r.markets[marketID] = &entry{market: m}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.market = m
	e.mu.Unlock()
	return nil
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

func (r *Registry) lookup(marketID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.markets[marketID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return e, nil
}
