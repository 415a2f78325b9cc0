// Package metrics provides Prometheus instrumentation for the procurement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReasoningCalls counts backend calls by provider and outcome.
	ReasoningCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_reasoning_calls_total",
		Help: "Reasoning backend calls by provider and outcome",
	}, []string{"provider", "outcome"})

	ReasoningLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "procurement_reasoning_latency_seconds",
		Help:    "Reasoning backend call latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})

	// RateLimitDenials counts calls refused by the rate limiter.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_rate_limit_denials_total",
		Help: "Reasoning calls denied by the rate limiter",
	}, []string{"provider"})

	// NegotiationRounds counts counter-offers sent, by side.
	NegotiationRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_negotiation_rounds_total",
		Help: "Counter-offers sent",
	}, []string{"side"})

	// Deals counts finished procurements by outcome.
	Deals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_deals_total",
		Help: "Finished procurements by outcome",
	}, []string{"outcome"})

	DealDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "procurement_deal_duration_seconds",
		Help:    "Wall time from RFQ to final decision",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_state_transitions_total",
		Help: "Negotiation state transitions",
	}, []string{"from", "to"})

	SafeguardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_safeguard_rejections_total",
		Help: "Transitions rejected by a safeguard",
	}, []string{"guard"})

	// ProtocolViolations counts malformed inbound messages.
	ProtocolViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_protocol_violations_total",
		Help: "Malformed inter-agent messages rejected",
	}, []string{"kind"})

	// ActiveNegotiations tracks procurements in flight.
	ActiveNegotiations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "procurement_active_negotiations",
		Help: "Procurements currently in progress",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "procurement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procurement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "procurement_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5, 30, 60},
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

// routePattern prefers the chi route pattern to keep label cardinality low.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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
