// Package model defines the records the service persists around the
// pricing engine. Stakes and returns are decimal; probabilities stay
// float64 because they feed the engine directly.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/samsa/market-engine/internal/pricing"
)

// Market statuses.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// Prediction statuses.
const (
	PredictionActive = "active"
	PredictionWon    = "won"
	PredictionLost   = "lost"
)

// Outcome is one of the two answers of a binary market. The first outcome
// of a market is its YES side.
type Outcome struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Probability int             `json:"probability"` // display percent
	TotalStake  decimal.Decimal `json:"total_stake"`
}

// Market is a prediction market as listed to users.
type Market struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	Status           string          `json:"status"`
	CloseDate        *time.Time      `json:"close_date,omitempty"`
	ResolutionDate   *time.Time      `json:"resolution_date,omitempty"`
	Outcomes         []Outcome       `json:"outcomes"`
	TotalVolume      decimal.Decimal `json:"total_volume"`
	ImageURL         string          `json:"image_url"`
	SearchKeywords   string          `json:"search_keywords"`
	WinningOutcomeID string          `json:"winning_outcome_id,omitempty"`
	Liquidity        float64         `json:"liquidity"`
	LMSRProbability  float64         `json:"lmsr_probability"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Outcome returns the outcome with the given id.
func (m *Market) Outcome(id string) (*Outcome, bool) {
	for i := range m.Outcomes {
		if m.Outcomes[i].ID == id {
			return &m.Outcomes[i], true
		}
	}
	return nil, false
}

// IsYes reports whether outcomeID is the market's YES side.
func (m *Market) IsYes(outcomeID string) bool {
	return len(m.Outcomes) > 0 && m.Outcomes[0].ID == outcomeID
}

// RecomputeStats refreshes the total volume and, once anything has been
// staked, each outcome's display probability as its share of the stake.
func (m *Market) RecomputeStats() {
	total := decimal.Zero
	for _, o := range m.Outcomes {
		total = total.Add(o.TotalStake)
	}
	m.TotalVolume = total
	if !total.IsPositive() {
		return
	}
	hundred := decimal.NewFromInt(100)
	for i := range m.Outcomes {
		share := m.Outcomes[i].TotalStake.Div(total).Mul(hundred).Round(0)
		m.Outcomes[i].Probability = int(share.IntPart())
	}
}

// Prediction is a user's stake on one outcome. OddsAtPrediction is the
// outcome probability quoted to the user (0-100 or 0-1) and is the only
// input settlement needs besides the stake.
type Prediction struct {
	ID               string                  `json:"id"`
	MarketID         string                  `json:"market_id"`
	OutcomeID        string                  `json:"outcome_id"`
	UserID           string                  `json:"user_id,omitempty"`
	StakeAmount      decimal.Decimal         `json:"stake_amount"`
	OddsAtPrediction float64                 `json:"odds_at_prediction"`
	PotentialReturn  decimal.Decimal         `json:"potential_return"`
	PotentialProfit  decimal.Decimal         `json:"potential_profit"`
	PotentialRefund  decimal.Decimal         `json:"potential_refund"`
	Status           string                  `json:"status"`
	ActualReturn     decimal.Decimal         `json:"actual_return"`
	Breakdown        *pricing.BreakdownView  `json:"lmsr_breakdown,omitempty"`
	Settlement       *pricing.SettlementView `json:"settlement,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
}
