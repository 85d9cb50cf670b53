// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InvestmentsTotal counts stakes applied to the pricing engine, by side.
	InvestmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samsa_investments_total",
		Help: "Total number of stakes applied to LMSR markets",
	}, []string{"side"})

	// StakeVolume tracks cumulative staked amount by side.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samsa_stake_volume_total",
		Help: "Cumulative staked amount",
	}, []string{"side"})

	// InvestLatency observes the time to price and persist a prediction.
	InvestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "samsa_invest_latency_seconds",
		Help:    "Prediction placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementsTotal counts settled predictions by outcome (WIN/LOSE).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samsa_settlements_total",
		Help: "Total number of settled predictions",
	}, []string{"outcome"})

	// PlatformRevenue tracks cumulative fee revenue from settled winners.
	PlatformRevenue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samsa_platform_revenue_total",
		Help: "Cumulative platform revenue from settlements",
	})

	// ActiveMarkets tracks the number of markets held by the pricing registry.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "samsa_active_markets",
		Help: "Number of markets in the pricing registry",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "samsa_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// StakeLimitRejections counts predictions rejected by the stake limiter.
	StakeLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samsa_stake_limit_rejections_total",
		Help: "Predictions rejected by the stake limiter",
	}, []string{"limit"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samsa_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "samsa_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern (e.g. /api/markets/{id}) so
// ids do not blow up label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
