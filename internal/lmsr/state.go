package lmsr

import "math"

// State is the persisted form of a Market. Probability is derived and
// informational only; it is ignored on import.
type State struct {
	B           float64 `json:"b"`
	QYes        float64 `json:"q_yes"`
	QNo         float64 `json:"q_no"`
	Probability float64 `json:"probability,omitempty"`
}

// State exports the market's quantities.
func (m *Market) State() State {
	return State{
		B:           m.b,
		QYes:        m.qYes,
		QNo:         m.qNo,
		Probability: m.Probability(),
	}
}

// FromState rebuilds a Market from a snapshot. A zero B falls back to
// DefaultLiquidity; missing quantities are zero.
func FromState(s State) (*Market, error) {
	b := s.B
	if b == 0 {
		b = DefaultLiquidity
	}
	if !validLiquidity(b) {
		return nil, ErrInvalidLiquidity
	}
	if !finite(s.QYes) || !finite(s.QNo) {
		return nil, ErrInvalidState
	}
	return &Market{b: b, qYes: s.QYes, qNo: s.QNo}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
