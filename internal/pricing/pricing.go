// Package pricing turns a stake and a quoted probability into the monetary
// outcome of a trade under the rebate-on-loss policy.
//
// A winner earns stake * (1 - p) less the platform fee. A loser forfeits
// stake * (1 - p) and is refunded stake * p. The platform only collects
// its fee from winners.
//
// Probabilities are accepted on either the 0-1 or the 0-100 scale. All
// functions are pure and keep full float64 precision; rounding happens in
// the View types only.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

// DefaultFee is the platform fee applied when none is specified (1%).
const DefaultFee = 0.01

var (
	// ErrInvalidStake is returned for negative or non-finite stakes.
	ErrInvalidStake = errors.New("pricing: stake must be a finite, non-negative number")

	// ErrInvalidProbability is returned when a probability, once
	// normalised, falls outside (0, 1) or is not a number.
	ErrInvalidProbability = errors.New("pricing: probability must be within 0-1 or 0-100")

	// ErrInvalidFee is returned for fees outside [0, 1).
	ErrInvalidFee = errors.New("pricing: fee must be within [0, 1)")
)

// NormalizeProbability converts a percentage (> 1) to a fraction.
func NormalizeProbability(probability float64) float64 {
	if probability > 1 {
		return probability / 100
	}
	return probability
}

// Validate checks inputs at the service boundary. Probabilities of exactly
// 0 or 1 are rejected. The calculation functions themselves do not reject
// anything.
func Validate(stake, probability, fee float64) error {
	if err := ValidateStake(stake); err != nil {
		return err
	}
	p := NormalizeProbability(probability)
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidProbability, probability)
	}
	if math.IsNaN(fee) || fee < 0 || fee >= 1 {
		return ErrInvalidFee
	}
	return nil
}

// ValidateStake checks that a stake is finite and non-negative.
func ValidateStake(stake float64) error {
	if math.IsNaN(stake) || math.IsInf(stake, 0) || stake < 0 {
		return ErrInvalidStake
	}
	return nil
}

// WinProfit returns stake * (1 - p) * (1 - fee).
func WinProfit(stake, probability, fee float64) float64 {
	p := NormalizeProbability(probability)
	return stake * (1 - p) * (1 - fee)
}

// WinReturn returns stake plus WinProfit.
func WinReturn(stake, probability, fee float64) float64 {
	return stake + WinProfit(stake, probability, fee)
}

// LossAmount returns stake * (1 - p).
func LossAmount(stake, probability float64) float64 {
	p := NormalizeProbability(probability)
	return stake * (1 - p)
}

// LoseReturn returns the rebate paid to a loser, stake * p.
func LoseReturn(stake, probability float64) float64 {
	p := NormalizeProbability(probability)
	return stake * p
}

// PlatformRevenue returns stake * (1 - p) * fee. It is only realised when
// the trade wins.
func PlatformRevenue(stake, probability, fee float64) float64 {
	p := NormalizeProbability(probability)
	return stake * (1 - p) * fee
}

// RiskReward formats the loss-to-profit ratio as "1:x.xx", or "-" when
// there is no profit to compare against.
func RiskReward(stake, probability, fee float64) string {
	profit := WinProfit(stake, probability, fee)
	loss := LossAmount(stake, probability)
	if !(profit > 0) {
		return "-"
	}
	return fmt.Sprintf("1:%.2f", loss/profit)
}
