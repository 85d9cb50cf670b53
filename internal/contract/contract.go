// Package contract validates and normalises market definitions submitted
// for listing.
//
// Markets are binary: a definition must carry exactly two outcomes. The
// first outcome becomes the YES side of the pricing engine.
package contract

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
)

var (
	// ErrInvalidDefinition is returned for missing or out-of-range fields.
	ErrInvalidDefinition = errors.New("contract: invalid market definition")

	// ErrNotBinary is returned when a definition does not carry exactly
	// two outcomes.
	ErrNotBinary = errors.New("contract: market must have exactly two outcomes")

	// ErrInvalidDate is returned for unparseable or inconsistent dates.
	ErrInvalidDate = errors.New("contract: invalid date")
)

// dateLayouts are tried in order when parsing close and resolution dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"20060102",
}

// OutcomeInput is an outcome as submitted by a client.
type OutcomeInput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Probability *float64 `json:"probability"` // percent, rounded
	TotalStake  *float64 `json:"total_stake"`
}

// Definition is the payload of a market creation request.
type Definition struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Outcomes       []OutcomeInput `json:"outcomes"`
	ImageURL       string         `json:"image_url"`
	SearchKeywords string         `json:"search_keywords"`
	CloseDate      string         `json:"close_date"`
	ResolutionDate string         `json:"resolution_date"`
	Liquidity      float64        `json:"liquidity"` // 0 selects the default
}

// NewID returns a short random hex identifier of n characters.
func NewID(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if n > 0 && n < len(id) {
		return id[:n]
	}
	return id
}

// Defaults fill in what a definition leaves unset.
type Defaults struct {
	Liquidity float64
	// Probability is the YES share, as a fraction, given to outcomes
	// submitted without a probability.
	Probability float64
}

// Parse validates a definition and builds the market it describes.
func Parse(def Definition, defaults Defaults, now time.Time) (*model.Market, error) {
	title := strings.TrimSpace(def.Title)
	if title == "" || strings.TrimSpace(def.Description) == "" || strings.TrimSpace(def.Category) == "" {
		return nil, fmt.Errorf("%w: title, description and category are required", ErrInvalidDefinition)
	}
	if len(def.Outcomes) != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrNotBinary, len(def.Outcomes))
	}

	liquidity := def.Liquidity
	if liquidity == 0 {
		liquidity = defaults.Liquidity
	}
	if liquidity <= 0 || math.IsNaN(liquidity) || math.IsInf(liquidity, 0) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, lmsr.ErrInvalidLiquidity)
	}

	closeDate, err := parseDate(def.CloseDate)
	if err != nil {
		return nil, err
	}
	resolutionDate, err := parseDate(def.ResolutionDate)
	if err != nil {
		return nil, err
	}
	if closeDate != nil && resolutionDate != nil && resolutionDate.Before(*closeDate) {
		return nil, fmt.Errorf("%w: resolution date precedes close date", ErrInvalidDate)
	}

	outcomes, err := normalizeOutcomes(def.Outcomes, defaults.Probability)
	if err != nil {
		return nil, err
	}

	m := &model.Market{
		ID:             NewID(12),
		Title:          title,
		Description:    strings.TrimSpace(def.Description),
		Category:       strings.TrimSpace(def.Category),
		Status:         model.StatusActive,
		CloseDate:      closeDate,
		ResolutionDate: resolutionDate,
		Outcomes:       outcomes,
		ImageURL:       def.ImageURL,
		SearchKeywords: def.SearchKeywords,
		Liquidity:      liquidity,
		CreatedAt:      now.UTC(),
	}
	m.RecomputeStats()
	m.LMSRProbability = SeedProbability(m)
	return m, nil
}

// SeedProbability returns the YES outcome's display probability as a
// fraction, used to seed the pricing engine.
func SeedProbability(m *model.Market) float64 {
	if len(m.Outcomes) == 0 {
		return lmsr.DefaultProbability
	}
	return float64(m.Outcomes[0].Probability) / 100
}

func normalizeOutcomes(in []OutcomeInput, yesDefault float64) ([]model.Outcome, error) {
	out := make([]model.Outcome, 0, len(in))
	seen := make(map[string]bool, len(in))
	if yesDefault <= 0 || yesDefault >= 1 || math.IsNaN(yesDefault) {
		yesDefault = lmsr.DefaultProbability
	}
	yesPercent := math.Round(yesDefault * 100)

	for i, o := range in {
		title := strings.TrimSpace(o.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: outcome title is required", ErrInvalidDefinition)
		}

		id := o.ID
		if id == "" {
			id = NewID(8)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate outcome id %s", ErrInvalidDefinition, id)
		}
		seen[id] = true

		probability := yesPercent
		if i > 0 {
			probability = 100 - yesPercent
		}
		if o.Probability != nil {
			probability = math.Round(*o.Probability)
		}
		if math.IsNaN(probability) || probability < 0 || probability > 100 {
			return nil, fmt.Errorf("%w: outcome probability %v out of range", ErrInvalidDefinition, probability)
		}

		stake := decimal.Zero
		if o.TotalStake != nil {
			if *o.TotalStake < 0 {
				return nil, fmt.Errorf("%w: negative outcome stake", ErrInvalidDefinition)
			}
			stake = decimal.NewFromFloat(*o.TotalStake)
		}

		out = append(out, model.Outcome{
			ID:          id,
			Title:       title,
			Probability: int(probability),
			TotalStake:  stake,
		})
	}
	return out, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidDate, s)
}
