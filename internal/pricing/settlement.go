package pricing

// Outcome is the resolved result of a trade.
type Outcome string

const (
	Win  Outcome = "WIN"
	Lose Outcome = "LOSE"
)

// Breakdown is the full economic quote for a stake at a probability.
type Breakdown struct {
	Stake              float64
	Probability        float64 // normalised, 0-1
	ProbabilityPercent float64
	Fee                float64

	WinProfit        float64
	WinReturn        float64
	WinReturnPercent float64

	LoseLoss          float64
	LoseRefund        float64
	LoseReturnPercent float64

	PlatformRevenue float64
	RiskReward      string
}

// Settlement is the result of settling a trade. Refund is set only when
// the trade lost.
type Settlement struct {
	Outcome         Outcome
	UserNet         float64
	TotalReturn     float64
	PlatformRevenue float64
	Refund          *float64
}

// GetBreakdown assembles every quote figure for a trade. Return
// percentages are 0 when the stake is 0.
func GetBreakdown(stake, probability, fee float64) Breakdown {
	p := NormalizeProbability(probability)

	bd := Breakdown{
		Stake:              stake,
		Probability:        p,
		ProbabilityPercent: p * 100,
		Fee:                fee,
		WinProfit:          WinProfit(stake, p, fee),
		WinReturn:          WinReturn(stake, p, fee),
		LoseLoss:           LossAmount(stake, p),
		LoseRefund:         LoseReturn(stake, p),
		PlatformRevenue:    PlatformRevenue(stake, p, fee),
		RiskReward:         RiskReward(stake, p, fee),
	}
	if stake > 0 {
		bd.WinReturnPercent = bd.WinReturn / stake * 100
		bd.LoseReturnPercent = bd.LoseRefund / stake * 100
	}
	return bd
}

// LoseTotalReturn is the cash a loser receives back, equal to LoseRefund.
func (b Breakdown) LoseTotalReturn() float64 {
	return b.LoseRefund
}

// Settle computes the settlement of a trade from the probability recorded
// when it was placed. It needs no live market state.
func Settle(stake, probability float64, didWin bool, fee float64) Settlement {
	p := NormalizeProbability(probability)

	profit := stake * (1 - p) * (1 - fee)
	revenue := stake * (1 - p) * fee
	loss := stake * (1 - p)
	refund := stake * p

	if didWin {
		return Settlement{
			Outcome:         Win,
			UserNet:         profit,
			TotalReturn:     stake + profit,
			PlatformRevenue: revenue,
		}
	}
	return Settlement{
		Outcome:         Lose,
		UserNet:         -loss,
		TotalReturn:     refund,
		PlatformRevenue: 0,
		Refund:          &refund,
	}
}
