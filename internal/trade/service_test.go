package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/samsa/market-engine/internal/correlation"
	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
	"github.com/samsa/market-engine/internal/pricing"
	"github.com/samsa/market-engine/internal/registry"
	"github.com/samsa/market-engine/internal/store"
	"github.com/samsa/market-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func fp(f float64) *float64 { return &f }

type testEnv struct {
	svc    *trade.Service
	store  *store.MemoryStore
	reg    *registry.Registry
	router chi.Router
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T, opts ...trade.Option) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	reg := registry.New()
	svc := trade.NewService(ms, reg, opts...)

	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Route("/api", svc.Routes)

	return &testEnv{svc: svc, store: ms, reg: reg, router: r}
}

// seedMarket creates a binary market directly in the store.
func seedMarket(t *testing.T, ms *store.MemoryStore, id, category string) *model.Market {
	t.Helper()
	market := &model.Market{
		ID:       id,
		Title:    "Test market " + id,
		Category: category,
		Status:   model.StatusActive,
		Outcomes: []model.Outcome{
			{ID: id + "-yes", Title: "Yes", Probability: 50},
			{ID: id + "-no", Title: "No", Probability: 50},
		},
		Liquidity:       100,
		LMSRProbability: 0.5,
		CreatedAt:       time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), market); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return market
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func predict(t *testing.T, env *testEnv, marketID, outcomeID, user string, stake, odds float64) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, env.router, "POST", "/api/predictions", trade.PredictionRequest{
		MarketID:         marketID,
		OutcomeID:        outcomeID,
		StakeAmount:      fp(stake),
		OddsAtPrediction: fp(odds),
		UserID:           user,
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- Markets ---

func TestCreateMarket(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/markets", map[string]any{
		"title":       "Will the Tagus flood this winter?",
		"description": "Resolves YES on an official flood warning.",
		"category":    "weather",
		"outcomes":    []map[string]any{{"title": "Yes"}, {"title": "No"}},
		"close_date":  "2025-12-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var m model.Market
	decode(t, w, &m)
	if len(m.ID) != 12 || m.Status != model.StatusActive {
		t.Errorf("unexpected market: %+v", m)
	}
	if m.Liquidity != lmsr.DefaultLiquidity {
		t.Errorf("expected default liquidity, got %v", m.Liquidity)
	}

	w = do(t, env.router, "GET", "/api/markets/"+m.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateMarket_DefaultProbability(t *testing.T) {
	env := newTestEnv(t, trade.WithDefaultProbability(0.7))

	w := do(t, env.router, "POST", "/api/markets", map[string]any{
		"title":       "Will the ferry strike end by Friday?",
		"description": "Resolves YES if service resumes.",
		"category":    "transport",
		"outcomes":    []map[string]any{{"title": "Yes"}, {"title": "No"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var m model.Market
	decode(t, w, &m)
	if m.Outcomes[0].Probability != 70 || m.Outcomes[1].Probability != 30 {
		t.Errorf("expected 70/30, got %d/%d", m.Outcomes[0].Probability, m.Outcomes[1].Probability)
	}
	if m.LMSRProbability != 0.7 {
		t.Errorf("expected seed 0.7, got %v", m.LMSRProbability)
	}
}

func TestCreateMarket_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{"},
		{"missing title", map[string]any{"description": "d", "category": "c", "outcomes": []map[string]any{{"title": "a"}, {"title": "b"}}}},
		{"three outcomes", map[string]any{"title": "t", "description": "d", "category": "c", "outcomes": []map[string]any{{"title": "a"}, {"title": "b"}, {"title": "c"}}}},
		{"bad date", map[string]any{"title": "t", "description": "d", "category": "c", "outcomes": []map[string]any{{"title": "a"}, {"title": "b"}}, "close_date": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, env.router, "POST", "/api/markets", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := do(t, env.router, "GET", "/api/markets/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListMarkets_Filter(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")
	seedMarket(t, env.store, "m2", "elections")

	var all []model.Market
	decode(t, do(t, env.router, "GET", "/api/markets", nil), &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(all))
	}

	var weather []model.Market
	decode(t, do(t, env.router, "GET", "/api/markets?category=weather", nil), &weather)
	if len(weather) != 1 || weather[0].ID != "m1" {
		t.Errorf("unexpected filter result: %+v", weather)
	}
}

// --- Predictions ---

func TestPlacePrediction_Yes(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")

	w := predict(t, env, "m1", "m1-yes", "alice", 100, 50)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var p model.Prediction
	decode(t, w, &p)
	if !p.PotentialReturn.Equal(d(149.5)) {
		t.Errorf("expected potential return 149.5, got %s", p.PotentialReturn)
	}
	if !p.PotentialProfit.Equal(d(49.5)) {
		t.Errorf("expected potential profit 49.5, got %s", p.PotentialProfit)
	}
	if !p.PotentialRefund.Equal(d(50)) {
		t.Errorf("expected potential refund 50, got %s", p.PotentialRefund)
	}
	if p.Breakdown == nil || p.Breakdown.RiskReward != "1:1.01" {
		t.Errorf("expected breakdown with risk/reward 1:1.01, got %+v", p.Breakdown)
	}
	if p.Status != model.PredictionActive {
		t.Errorf("expected active prediction, got %s", p.Status)
	}

	// Risk-weighted pressure at p=0.5: delta = 100 * 0.5 = 50.
	state, err := env.reg.Get("m1")
	if err != nil {
		t.Fatalf("registry market should exist: %v", err)
	}
	if !approx(state.QYes, 50) || state.QNo != 0 {
		t.Errorf("expected q_yes=50 q_no=0, got %+v", state)
	}
	wantP := 1 / (1 + math.Exp(-0.5))

	m, _ := env.store.GetMarket(context.Background(), "m1")
	if !approx(m.LMSRProbability, wantP) {
		t.Errorf("expected lmsr probability %v, got %v", wantP, m.LMSRProbability)
	}
	if !m.TotalVolume.Equal(d(100)) {
		t.Errorf("expected volume 100, got %s", m.TotalVolume)
	}
	if m.Outcomes[0].Probability != 100 || m.Outcomes[1].Probability != 0 {
		t.Errorf("expected stake-share 100/0, got %d/%d", m.Outcomes[0].Probability, m.Outcomes[1].Probability)
	}

	// State persisted for restart.
	states, _ := env.store.LoadMarketStates(context.Background())
	if !approx(states["m1"].QYes, 50) {
		t.Errorf("expected persisted q_yes=50, got %+v", states["m1"])
	}
}

func TestPlacePrediction_NoSideMovesDown(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")

	if w := predict(t, env, "m1", "m1-no", "bob", 100, 50); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	state, _ := env.reg.Get("m1")
	if !approx(state.QNo, 50) || state.QYes != 0 {
		t.Errorf("expected q_no=50, got %+v", state)
	}
	if state.Probability >= 0.5 {
		t.Errorf("NO stake should lower the YES probability, got %v", state.Probability)
	}
}

func TestPlacePrediction_SeedsFromYesOutcome(t *testing.T) {
	env := newTestEnv(t)
	m := seedMarket(t, env.store, "m1", "weather")
	m.Outcomes[0].Probability = 80
	m.Outcomes[1].Probability = 20
	env.store.UpdateMarket(context.Background(), m)

	// A zero stake creates the registry market without moving it.
	if w := predict(t, env, "m1", "m1-no", "", 0, 20); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	p, err := env.reg.Probability("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !approx(p, 0.8) {
		t.Errorf("expected seed probability 0.8, got %v", p)
	}
}

func TestPlacePrediction_Errors(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")
	closed := seedMarket(t, env.store, "m2", "weather")
	closed.Status = model.StatusResolved
	env.store.UpdateMarket(context.Background(), closed)

	tests := []struct {
		name string
		req  trade.PredictionRequest
		want int
	}{
		{"missing stake", trade.PredictionRequest{MarketID: "m1", OutcomeID: "m1-yes", OddsAtPrediction: fp(50)}, http.StatusBadRequest},
		{"missing odds", trade.PredictionRequest{MarketID: "m1", OutcomeID: "m1-yes", StakeAmount: fp(10)}, http.StatusBadRequest},
		{"negative stake", trade.PredictionRequest{MarketID: "m1", OutcomeID: "m1-yes", StakeAmount: fp(-1), OddsAtPrediction: fp(50)}, http.StatusBadRequest},
		{"odds out of range", trade.PredictionRequest{MarketID: "m1", OutcomeID: "m1-yes", StakeAmount: fp(10), OddsAtPrediction: fp(150)}, http.StatusBadRequest},
		{"unknown market", trade.PredictionRequest{MarketID: "zz", OutcomeID: "x", StakeAmount: fp(10), OddsAtPrediction: fp(50)}, http.StatusNotFound},
		{"unknown outcome", trade.PredictionRequest{MarketID: "m1", OutcomeID: "x", StakeAmount: fp(10), OddsAtPrediction: fp(50)}, http.StatusNotFound},
		{"resolved market", trade.PredictionRequest{MarketID: "m2", OutcomeID: "m2-yes", StakeAmount: fp(10), OddsAtPrediction: fp(50)}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, env.router, "POST", "/api/predictions", tt.req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}

	if env.reg.Len() != 0 {
		t.Errorf("rejected predictions must not touch the registry, got %d markets", env.reg.Len())
	}
}

// failingStore fails the named write once armed.
type failingStore struct {
	*store.MemoryStore
	failOn string
}

var errWriteFailed = errors.New("disk full")

func (f *failingStore) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	if f.failOn == "insert" {
		return errWriteFailed
	}
	return f.MemoryStore.InsertPrediction(ctx, p)
}

func (f *failingStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if f.failOn == "update" {
		return errWriteFailed
	}
	return f.MemoryStore.UpdateMarket(ctx, m)
}

func (f *failingStore) SaveMarketState(ctx context.Context, id string, st lmsr.State) error {
	if f.failOn == "save" {
		return errWriteFailed
	}
	return f.MemoryStore.SaveMarketState(ctx, id, st)
}

func TestPlacePrediction_FailedWriteLeavesPriceUnchanged(t *testing.T) {
	for _, step := range []string{"insert", "update", "save"} {
		t.Run(step, func(t *testing.T) {
			ms := store.NewMemoryStore()
			fs := &failingStore{MemoryStore: ms, failOn: step}
			reg := registry.New()
			svc := trade.NewService(fs, reg)
			r := chi.NewRouter()
			r.Route("/api", svc.Routes)
			env := &testEnv{svc: svc, store: ms, reg: reg, router: r}
			seedMarket(t, ms, "m1", "weather")

			w := predict(t, env, "m1", "m1-yes", "alice", 50, 50)
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
			}

			if p, err := reg.Probability("m1"); err != nil || p != 0.5 {
				t.Errorf("registry price moved: %v %v", p, err)
			}
			states, _ := ms.LoadMarketStates(context.Background())
			if st, ok := states["m1"]; ok && st.QYes != 0 {
				t.Errorf("persisted state moved: %+v", st)
			}
			preds, _ := ms.ListPredictions(context.Background(), "m1")
			if len(preds) != 0 {
				t.Errorf("expected no predictions, got %d", len(preds))
			}
			m, _ := ms.GetMarket(context.Background(), "m1")
			if !m.TotalVolume.IsZero() || !m.Outcomes[0].TotalStake.IsZero() || m.LMSRProbability != 0.5 {
				t.Errorf("market record moved: volume=%s stake=%s p=%v",
					m.TotalVolume, m.Outcomes[0].TotalStake, m.LMSRProbability)
			}

			// The next trade prices from the untouched state.
			fs.failOn = ""
			w = predict(t, env, "m1", "m1-yes", "alice", 50, 50)
			if w.Code != http.StatusCreated {
				t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
			}
			st, err := reg.Get("m1")
			if err != nil || !approx(st.QYes, 25) {
				t.Errorf("expected q_yes 25, got %+v %v", st, err)
			}
		})
	}
}

func TestPlacePrediction_StakeLimits(t *testing.T) {
	limiter := correlation.NewStakeLimiter(d(150), d(250))
	env := newTestEnv(t, trade.WithLimiter(limiter))
	seedMarket(t, env.store, "m1", "elections")
	seedMarket(t, env.store, "m2", "Elections")
	seedMarket(t, env.store, "m3", "sports")
	seedMarket(t, env.store, "m4", " elections ")

	if w := predict(t, env, "m1", "m1-yes", "alice", 100, 50); w.Code != http.StatusCreated {
		t.Fatalf("first stake should pass, got %d", w.Code)
	}
	if w := predict(t, env, "m1", "m1-no", "alice", 100, 50); w.Code != http.StatusConflict {
		t.Errorf("per-market limit: expected 409, got %d", w.Code)
	}
	if w := predict(t, env, "m2", "m2-yes", "alice", 140, 50); w.Code != http.StatusCreated {
		t.Fatalf("correlated total 240 should pass, got %d: %s", w.Code, w.Body.String())
	}
	if w := predict(t, env, "m2", "m2-yes", "alice", 10, 50); w.Code != http.StatusCreated {
		t.Fatalf("correlated total 250 is at the limit, got %d", w.Code)
	}
	w := predict(t, env, "m4", "m4-yes", "alice", 1, 50)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "correlated") {
		t.Errorf("correlated limit: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if w := predict(t, env, "m3", "m3-yes", "alice", 150, 50); w.Code != http.StatusCreated {
		t.Errorf("other categories are independent, got %d", w.Code)
	}
	if w := predict(t, env, "m1", "m1-yes", "bob", 150, 50); w.Code != http.StatusCreated {
		t.Errorf("limits are per user, got %d", w.Code)
	}
}

func TestListPredictions(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")
	seedMarket(t, env.store, "m2", "weather")
	predict(t, env, "m1", "m1-yes", "alice", 10, 50)
	predict(t, env, "m2", "m2-yes", "alice", 10, 50)
	predict(t, env, "m1", "m1-no", "bob", 10, 50)

	cases := map[string]int{
		"/api/predictions":                            3,
		"/api/predictions?market_id=m1":               2,
		"/api/predictions?user_id=alice":              2,
		"/api/predictions?user_id=alice&market_id=m2": 1,
	}
	for path, want := range cases {
		var got []model.Prediction
		decode(t, do(t, env.router, "GET", path, nil), &got)
		if len(got) != want {
			t.Errorf("%s: expected %d predictions, got %d", path, want, len(got))
		}
	}
}

// --- Resolution ---

func TestResolveMarket_SettlesPredictions(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")
	predict(t, env, "m1", "m1-yes", "alice", 100, 50)
	predict(t, env, "m1", "m1-no", "bob", 100, 60)

	w := do(t, env.router, "POST", "/api/markets/m1/resolve", trade.ResolveRequest{WinningOutcomeID: "m1-yes"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res trade.ResolveResult
	decode(t, w, &res)
	if !res.OK || res.Settled != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Market.Status != model.StatusResolved || res.Market.WinningOutcomeID != "m1-yes" || res.Market.ResolutionDate == nil {
		t.Errorf("market not resolved: %+v", res.Market)
	}

	preds, _ := env.store.ListPredictions(context.Background(), "m1")
	for _, p := range preds {
		switch p.UserID {
		case "alice":
			if p.Status != model.PredictionWon || !p.ActualReturn.Equal(d(149.5)) {
				t.Errorf("alice: expected won 149.5, got %s %s", p.Status, p.ActualReturn)
			}
			if p.Settlement == nil || p.Settlement.Outcome != pricing.Win || p.Settlement.Refund != nil {
				t.Errorf("alice: unexpected settlement %+v", p.Settlement)
			}
		case "bob":
			// Lose at 60%: refund 60, net -40.
			if p.Status != model.PredictionLost || !p.ActualReturn.Equal(d(60)) {
				t.Errorf("bob: expected lost 60, got %s %s", p.Status, p.ActualReturn)
			}
			if p.Settlement == nil || !p.Settlement.UserNet.Equal(d(-40)) || p.Settlement.Refund == nil {
				t.Errorf("bob: unexpected settlement %+v", p.Settlement)
			}
		}
	}

	// Resolving again is a conflict; so is trading.
	if w := do(t, env.router, "POST", "/api/markets/m1/resolve", trade.ResolveRequest{WinningOutcomeID: "m1-no"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second resolve, got %d", w.Code)
	}
	if w := predict(t, env, "m1", "m1-yes", "carol", 10, 50); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on resolved market, got %d", w.Code)
	}
}

func TestResolveMarket_Errors(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")

	if w := do(t, env.router, "POST", "/api/markets/m1/resolve", trade.ResolveRequest{WinningOutcomeID: "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := do(t, env.router, "POST", "/api/markets/zz/resolve", trade.ResolveRequest{WinningOutcomeID: "x"}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Calculator endpoints ---

func TestCalculate(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/lmsr/calculate", map[string]any{"stake": 100})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bd pricing.BreakdownView
	decode(t, w, &bd)
	if bd.Probability != 0.5 || bd.Fee != pricing.DefaultFee {
		t.Errorf("expected defaults p=0.5 fee=0.01, got %v %v", bd.Probability, bd.Fee)
	}
	if !bd.Win.Profit.Equal(d(49.5)) || !bd.Win.TotalReturn.Equal(d(149.5)) {
		t.Errorf("unexpected win leg: %+v", bd.Win)
	}
	if !bd.Lose.Loss.Equal(d(50)) || !bd.Lose.Refund.Equal(d(50)) {
		t.Errorf("unexpected lose leg: %+v", bd.Lose)
	}
	if !bd.PlatformRevenue.Equal(d(0.5)) {
		t.Errorf("expected revenue 0.5, got %s", bd.PlatformRevenue)
	}

	w = do(t, env.router, "POST", "/api/lmsr/calculate", map[string]any{"stake": 100, "probability": 0.25, "fee": 0})
	decode(t, w, &bd)
	if !bd.Win.Profit.Equal(d(75)) || !bd.PlatformRevenue.IsZero() {
		t.Errorf("unexpected zero-fee breakdown: %+v", bd)
	}

	for _, body := range []any{
		map[string]any{"stake": -5},
		map[string]any{"stake": 10, "probability": 150},
		map[string]any{"stake": 10, "fee": 1},
		"not json",
	} {
		if w := do(t, env.router, "POST", "/api/lmsr/calculate", body); w.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", body, w.Code)
		}
	}
}

func TestSettle(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/lmsr/settle", map[string]any{"stake": 100, "probability": 60, "did_win": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sv pricing.SettlementView
	decode(t, w, &sv)
	if sv.Outcome != pricing.Lose || !sv.UserNet.Equal(d(-40)) || !sv.TotalReturn.Equal(d(60)) {
		t.Errorf("unexpected settlement: %+v", sv)
	}
	if sv.Refund == nil || !sv.Refund.Equal(d(60)) || !sv.PlatformRevenue.IsZero() {
		t.Errorf("loser gets refund 60 and no platform revenue: %+v", sv)
	}

	w = do(t, env.router, "POST", "/api/lmsr/settle", map[string]any{"stake": 100, "did_win": true})
	var win map[string]any
	decode(t, w, &win)
	if _, ok := win["refund"]; ok {
		t.Error("winning settlement must not carry a refund field")
	}
	if win["total_return"] != "149.5" {
		t.Errorf("expected total_return 149.5, got %v", win["total_return"])
	}
}

func TestGetLMSRMarket(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(t, env.store, "m1", "weather")

	if w := do(t, env.router, "GET", "/api/lmsr/market/m1", nil); w.Code != http.StatusNotFound {
		t.Errorf("market without trades has no LMSR state yet, got %d", w.Code)
	}

	predict(t, env, "m1", "m1-yes", "alice", 100, 50)

	w := do(t, env.router, "GET", "/api/lmsr/market/m1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.LMSRMarketResponse
	decode(t, w, &resp)
	if resp.MarketID != "m1" || resp.B != 100 || !approx(resp.QYes, 50) {
		t.Errorf("unexpected state: %+v", resp)
	}
	if !approx(resp.MaxLoss, 100*math.Ln2) {
		t.Errorf("expected max loss b*ln2, got %v", resp.MaxLoss)
	}
	if !approx(resp.ProbabilityPercent, resp.Probability*100) {
		t.Errorf("percent mismatch: %+v", resp)
	}
}

// --- Lifecycle ---

func TestRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SaveMarketState(ctx, "m1", lmsr.State{B: 100, QYes: 50})
	env.store.SaveMarketState(ctx, "m2", lmsr.State{B: 200, QNo: 10})

	n, err := env.svc.Restore(ctx)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if n != 2 || env.reg.Len() != 2 {
		t.Errorf("expected 2 restored markets, got %d/%d", n, env.reg.Len())
	}
	p, _ := env.reg.Probability("m1")
	if !approx(p, 1/(1+math.Exp(-0.5))) {
		t.Errorf("restored probability mismatch: %v", p)
	}

	env.store.SaveMarketState(ctx, "bad", lmsr.State{B: -1})
	if _, err := env.svc.Restore(ctx); err == nil {
		t.Error("expected error restoring invalid state")
	}
	if env.reg.Len() != 2 {
		t.Error("failed restore must leave the registry untouched")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := do(t, env.router, "GET", "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("unexpected health response %d: %s", w.Code, w.Body.String())
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	hub := trade.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	env := newTestEnv(t, trade.WithHub(hub))
	seedMarket(t, env.store, "m1", "weather")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if w := predict(t, env, "m1", "m1-yes", "alice", 100, 50); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg trade.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != trade.MsgPredictionPlaced || msg.MarketID != "m1" || msg.Side != "YES" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if !approx(msg.Probability, 1/(1+math.Exp(-0.5))) {
		t.Errorf("unexpected probability %v", msg.Probability)
	}
}
