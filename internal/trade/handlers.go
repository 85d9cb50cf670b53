package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samsa/market-engine/internal/contract"
	"github.com/samsa/market-engine/internal/correlation"
	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
	"github.com/samsa/market-engine/internal/pricing"
	"github.com/samsa/market-engine/internal/registry"
	"github.com/samsa/market-engine/internal/store"
)

// Routes mounts the API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.HandleCreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Post("/markets/{marketID}/resolve", s.HandleResolveMarket)

	r.Get("/predictions", s.ListPredictions)
	r.Post("/predictions", s.HandleCreatePrediction)

	r.Post("/lmsr/calculate", s.Calculate)
	r.Post("/lmsr/settle", s.Settle)
	r.Get("/lmsr/market/{marketID}", s.GetLMSRMarket)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "samsa-market-engine",
		"markets": s.registry.Len(),
	})
}

// ListMarkets handles GET /api/markets
// Optionally filtered by ?category= and ?status=.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	category := r.URL.Query().Get("category")
	status := r.URL.Query().Get("status")
	filtered := make([]model.Market, 0, len(markets))
	for _, m := range markets {
		if category != "" && m.Category != category {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		filtered = append(filtered, m)
	}

	writeJSON(w, http.StatusOK, filtered)
}

// GetMarket handles GET /api/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// HandleCreateMarket handles POST /api/markets
func (s *Service) HandleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var def contract.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.CreateMarket(r.Context(), def)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// ResolveRequest is the JSON body for POST /api/markets/{marketID}/resolve.
type ResolveRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
}

// HandleResolveMarket handles POST /api/markets/{marketID}/resolve
func (s *Service) HandleResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.ResolveMarket(r.Context(), chi.URLParam(r, "marketID"), req.WinningOutcomeID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListPredictions handles GET /api/predictions
// Filtered by ?market_id= or ?user_id=.
func (s *Service) ListPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	marketID := r.URL.Query().Get("market_id")
	userID := r.URL.Query().Get("user_id")

	var predictions []model.Prediction
	var err error
	if userID != "" {
		predictions, err = s.store.ListPredictionsByUser(ctx, userID)
	} else {
		predictions, err = s.store.ListPredictions(ctx, marketID)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]model.Prediction, 0, len(predictions))
	for _, p := range predictions {
		if marketID != "" && p.MarketID != marketID {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreatePrediction handles POST /api/predictions
func (s *Service) HandleCreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	prediction, err := s.PlacePrediction(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prediction)
}

// CalculateRequest is the JSON body for POST /api/lmsr/calculate.
// Probability defaults to 50 and fee to the platform fee.
type CalculateRequest struct {
	Stake       float64  `json:"stake"`
	Probability *float64 `json:"probability"`
	Fee         *float64 `json:"fee"`
}

// Calculate handles POST /api/lmsr/calculate
func (s *Service) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	probability, fee := s.quoteDefaults(req.Probability, req.Fee)
	if err := pricing.Validate(req.Stake, probability, fee); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing.GetBreakdown(req.Stake, probability, fee).View())
}

// SettleRequest is the JSON body for POST /api/lmsr/settle.
type SettleRequest struct {
	Stake       float64  `json:"stake"`
	Probability *float64 `json:"probability"`
	DidWin      bool     `json:"did_win"`
	Fee         *float64 `json:"fee"`
}

// Settle handles POST /api/lmsr/settle
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	probability, fee := s.quoteDefaults(req.Probability, req.Fee)
	if err := pricing.Validate(req.Stake, probability, fee); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing.Settle(req.Stake, probability, req.DidWin, fee).View())
}

// LMSRMarketResponse is the body of GET /api/lmsr/market/{marketID}.
type LMSRMarketResponse struct {
	MarketID string `json:"market_id"`
	lmsr.State
	ProbabilityPercent float64 `json:"probability_percent"`
	MaxLoss            float64 `json:"max_loss"`
}

// GetLMSRMarket handles GET /api/lmsr/market/{marketID}
func (s *Service) GetLMSRMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	state, err := s.registry.Get(marketID)
	if err != nil {
		writeErr(w, err)
		return
	}
	maxLoss, err := s.registry.MaxLoss(marketID)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LMSRMarketResponse{
		MarketID:           marketID,
		State:              state,
		ProbabilityPercent: state.Probability * 100,
		MaxLoss:            maxLoss,
	})
}

func (s *Service) quoteDefaults(probability, fee *float64) (float64, float64) {
	p, f := 50.0, s.Fee()
	if probability != nil {
		p = *probability
	}
	if fee != nil {
		f = *fee
	}
	return p, f
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, registry.ErrMarketNotFound),
		errors.Is(err, ErrOutcomeNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidWinningOutcome),
		errors.Is(err, pricing.ErrInvalidStake),
		errors.Is(err, pricing.ErrInvalidProbability),
		errors.Is(err, pricing.ErrInvalidFee),
		errors.Is(err, lmsr.ErrInvalidLiquidity),
		errors.Is(err, contract.ErrInvalidDefinition),
		errors.Is(err, contract.ErrNotBinary),
		errors.Is(err, contract.ErrInvalidDate):
		return http.StatusBadRequest

	case errors.Is(err, ErrMarketClosed),
		errors.Is(err, correlation.ErrPerMarketLimitExceeded),
		errors.Is(err, correlation.ErrCorrelatedLimitExceeded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeErr writes err with its mapped status. Internal errors are logged
// and not echoed to the client.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
