// Package correlation implements per-user stake limits that account for
// correlation between markets.
//
// Markets that share a category (for example several "elections" markets
// resolving on the same night) tend to move together. A user spreading
// stake across them carries correlated risk, so the limiter caps both the
// stake in a single market and the aggregate stake in a category.
package correlation

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when a stake would push the
	// user's total stake in one market beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("correlation: per-market stake limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a stake would push the
	// user's aggregate stake across correlated markets beyond the
	// correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated stake limit exceeded")
)

// Exposure is a user's open stake in one market.
type Exposure struct {
	MarketID string
	Category string
	Stake    decimal.Decimal
}

// StakeLimiter enforces stake limits with correlation awareness. A zero
// limit disables the corresponding check.
type StakeLimiter struct {
	// MaxPerMarket is the maximum total stake a user may hold in a single
	// market.
	MaxPerMarket decimal.Decimal

	// MaxCorrelated is the maximum total stake across all markets of the
	// same category.
	MaxCorrelated decimal.Decimal
}

// NewStakeLimiter creates a limiter with the given per-market and
// correlated stake limits.
func NewStakeLimiter(maxPerMarket, maxCorrelated decimal.Decimal) *StakeLimiter {
	return &StakeLimiter{
		MaxPerMarket:  maxPerMarket,
		MaxCorrelated: maxCorrelated,
	}
}

// Enabled reports whether any limit is active.
func (l *StakeLimiter) Enabled() bool {
	return l != nil && (l.MaxPerMarket.IsPositive() || l.MaxCorrelated.IsPositive())
}

// CheckLimit validates whether an additional stake respects the limits.
//
// Parameters:
//   - marketID, category: the market being staked on
//   - stake: the new stake
//   - existing: the user's open exposures
//
// Returns nil if the stake is within limits, or an error describing the
// violation.
func (l *StakeLimiter) CheckLimit(marketID, category string, stake decimal.Decimal, existing []Exposure) error {
	if !l.Enabled() {
		return nil
	}

	// 1. Per-market limit.
	inMarket := stake
	for _, e := range existing {
		if e.MarketID == marketID {
			inMarket = inMarket.Add(e.Stake)
		}
	}
	if l.MaxPerMarket.IsPositive() && inMarket.GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	// 2. Correlated exposure across the category.
	if !l.MaxCorrelated.IsPositive() {
		return nil
	}
	group := groupKey(category)
	total := inMarket
	for _, e := range existing {
		if e.MarketID == marketID {
			continue // already counted in inMarket
		}
		if groupKey(e.Category) == group {
			total = total.Add(e.Stake)
		}
	}
	if total.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}

	return nil
}

// groupKey normalises a category into its correlation group.
func groupKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
