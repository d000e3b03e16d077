package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_router_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		}, []string{"route", "code"},
	)
	Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discord_router_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "discord_router_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_router_component_interactions_total",
			Help: "Component interactions by routing decision",
		}, []string{"decision"},
	)
	ForwardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_router_forward_total",
			Help: "Forwards to campaign backends by outcome",
		}, []string{"campaign", "outcome"},
	)
	ForwardLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "discord_router_forward_duration_seconds",
		Help:    "Latency of forwards to campaign backends",
		Buckets: []float64{.05, .1, .25, .5, 1, 1.5, 2, 2.5, 3, 5},
	})
	SignatureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_router_signature_failures_total",
			Help: "Rejected interaction requests by reason",
		}, []string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RoutedTotal, ForwardTotal, ForwardLatency, SignatureFailures)
}

var registeredOnce sync.Once

// RegisterAppsGauge exposes the registry size. Only the first call takes effect.
func RegisterAppsGauge(count func() int) {
	registeredOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "discord_router_registered_apps",
			Help: "Dynamically registered campaign apps",
		}, func() float64 { return float64(count()) }))
	})
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rr.code)).Inc()
	})
}
