// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// state machine for binary prediction markets with risk-weighted stake
// pressure.
//
// A Market accumulates pressure on the YES and NO sides. The YES
// probability is the softmax of (qYes/b, qNo/b). Unlike a classical LMSR
// market maker, an investment does not buy a fixed number of shares: a
// stake S on a side moves that side's quantity by S * (1 - p), where p is
// the current YES probability.
//
// Transcendental math uses the max-subtraction (log-sum-exp) trick so that
// quantities many orders of magnitude larger than b never overflow.
//
// A Market is not safe for concurrent use. Callers serialise access per
// market; see package registry.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0 or b is not finite.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive and finite")

	// ErrInvalidState is returned when an imported snapshot carries
	// non-finite quantities.
	ErrInvalidState = errors.New("lmsr: state quantities must be finite")
)

const (
	// DefaultLiquidity is the b used when none is supplied.
	DefaultLiquidity = 100.0

	// DefaultProbability is the neutral starting price.
	DefaultProbability = 0.5

	// MinSeedProbability and MaxSeedProbability bound the initial
	// probability a market can be seeded with.
	MinSeedProbability = 0.01
	MaxSeedProbability = 0.99

	// MinDisplayProbability and MaxDisplayProbability bound the value
	// returned by Invest. Internal quantities are never clamped.
	MinDisplayProbability = 0.05
	MaxDisplayProbability = 0.95
)

// Market holds the accumulated LMSR quantities for one binary market.
type Market struct {
	b    float64
	qYes float64
	qNo  float64
}

// NewMarket creates a market with liquidity b seeded at initialProbability.
//
// A probability other than 0.5 is clamped to [0.01, 0.99] and encoded as
// qYes = b * ln(p / (1 - p)) with qNo = 0.
func NewMarket(b, initialProbability float64) (*Market, error) {
	if !validLiquidity(b) {
		return nil, ErrInvalidLiquidity
	}

	m := &Market{b: b}
	if initialProbability != DefaultProbability && !math.IsNaN(initialProbability) {
		p := clamp(initialProbability, MinSeedProbability, MaxSeedProbability)
		m.qYes = b * math.Log(p/(1-p))
	}
	return m, nil
}

// B returns the liquidity parameter.
func (m *Market) B() float64 { return m.b }

// QYes returns the accumulated YES quantity.
func (m *Market) QYes() float64 { return m.qYes }

// QNo returns the accumulated NO quantity.
func (m *Market) QNo() float64 { return m.qNo }

// Probability returns the current YES probability:
//
//	p_yes = exp(qYes / b) / (exp(qYes / b) + exp(qNo / b))
//
// The result is always strictly inside (0, 1) for finite inputs far from
// float64 underflow.
func (m *Market) Probability() float64 {
	return softmaxYes(m.qYes/m.b, m.qNo/m.b)
}

// ProbabilityPercent returns Probability on the 0-100 scale.
func (m *Market) ProbabilityPercent() float64 {
	return m.Probability() * 100
}

// Invest applies a risk-weighted stake to one side of the market and
// returns the new YES probability clamped to [0.05, 0.95] for display.
//
// The pressure applied is stake * (1 - p) where p is the YES probability
// before the trade.
func (m *Market) Invest(side Side, stake float64) float64 {
	p := m.Probability()
	delta := stake * (1 - p)

	if side == Yes {
		m.qYes += delta
	} else {
		m.qNo += delta
	}

	return clamp(m.Probability(), MinDisplayProbability, MaxDisplayProbability)
}

// Cost computes the LMSR cost function for the current quantities:
//
//	C(q) = b * ln(exp(qYes / b) + exp(qNo / b))
func (m *Market) Cost() float64 {
	return m.b * logSumExp([]float64{m.qYes / m.b, m.qNo / m.b})
}

// MaxLoss returns the market maker's worst-case subsidy, b * ln(2) for a
// binary market.
func (m *Market) MaxLoss() float64 {
	return m.b * math.Ln2
}

// softmaxYes returns exp(x) / (exp(x) + exp(y)) with max-subtraction.
func softmaxYes(x, y float64) float64 {
	maxVal := math.Max(x, y)
	expYes := math.Exp(x - maxVal)
	expNo := math.Exp(y - maxVal)
	return expYes / (expYes + expNo)
}

// logSumExp computes ln(Σ exp(x_i)) without overflowing.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

func validLiquidity(b float64) bool {
	return b > 0 && !math.IsInf(b, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
