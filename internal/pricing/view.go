package pricing

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places money is presented with.
const MoneyScale int32 = 2

// Money rounds a float amount to MoneyScale decimal places.
func Money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(MoneyScale)
}

// WinView is the win leg of a BreakdownView.
type WinView struct {
	Profit        decimal.Decimal `json:"profit"`
	TotalReturn   decimal.Decimal `json:"total_return"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
}

// LoseView is the lose leg of a BreakdownView.
type LoseView struct {
	Loss          decimal.Decimal `json:"loss"`
	Refund        decimal.Decimal `json:"refund"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
}

// BreakdownView is the wire form of a Breakdown. Inputs are passed
// through unrounded; monetary figures are rounded to cents.
type BreakdownView struct {
	Stake              float64         `json:"stake"`
	Probability        float64         `json:"probability"`
	ProbabilityPercent float64         `json:"probability_percent"`
	Fee                float64         `json:"fee"`
	Win                WinView         `json:"win"`
	Lose               LoseView        `json:"lose"`
	RiskReward         string          `json:"risk_reward"`
	PlatformRevenue    decimal.Decimal `json:"platform_revenue"`
}

// View renders the breakdown for presentation.
func (b Breakdown) View() BreakdownView {
	return BreakdownView{
		Stake:              b.Stake,
		Probability:        b.Probability,
		ProbabilityPercent: b.ProbabilityPercent,
		Fee:                b.Fee,
		Win: WinView{
			Profit:        Money(b.WinProfit),
			TotalReturn:   Money(b.WinReturn),
			ReturnPercent: Money(b.WinReturnPercent),
		},
		Lose: LoseView{
			Loss:          Money(b.LoseLoss),
			Refund:        Money(b.LoseRefund),
			ReturnPercent: Money(b.LoseReturnPercent),
		},
		RiskReward:      b.RiskReward,
		PlatformRevenue: Money(b.PlatformRevenue),
	}
}

// SettlementView is the wire form of a Settlement.
type SettlementView struct {
	Outcome         Outcome          `json:"outcome"`
	UserNet         decimal.Decimal  `json:"user_net"`
	TotalReturn     decimal.Decimal  `json:"total_return"`
	PlatformRevenue decimal.Decimal  `json:"platform_revenue"`
	Refund          *decimal.Decimal `json:"refund,omitempty"`
}

// View renders the settlement for presentation.
func (s Settlement) View() SettlementView {
	v := SettlementView{
		Outcome:         s.Outcome,
		UserNet:         Money(s.UserNet),
		TotalReturn:     Money(s.TotalReturn),
		PlatformRevenue: Money(s.PlatformRevenue),
	}
	if s.Refund != nil {
		r := Money(*s.Refund)
		v.Refund = &r
	}
	return v
}
