package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestDurationBuckets are the upper bounds, in milliseconds, of
// http_request_duration_ms.
var RequestDurationBuckets = []float64{50, 100, 200, 300, 400, 500, 750, 1000, 2500, 5000, 10000}

// Metrics owns the process-wide registry. Build it once in main and hand it
// to whatever needs to observe requests.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	CostFetches     *prometheus.CounterVec
}

// NewMetrics creates the registry and registers every collector on it.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_ms",
				Help:    "Duration of HTTP requests in ms",
				Buckets: RequestDurationBuckets,
			},
			[]string{"method", "route", "code"},
		),
		CostFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cost_fetch_total",
				Help: "Cost fetches by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}
	if err := m.Register(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNewMetrics is NewMetrics for callers that cannot continue without
// metrics.
func MustNewMetrics() *Metrics {
	m, err := NewMetrics()
	if err != nil {
		panic(err)
	}
	return m
}

// Register adds the default process and Go runtime collectors plus the
// service metrics. Calling it again is a no-op.
func (m *Metrics) Register() error {
	cs := []prometheus.Collector{
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.RequestDuration,
		m.CostFetches,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Registry returns the underlying client registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCostFetch counts one collaborator call.
func (m *Metrics) ObserveCostFetch(provider string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.CostFetches.WithLabelValues(provider, outcome).Inc()
}

// Middleware times every request into http_request_duration_ms. The route
// label is the chi route pattern so path parameters do not explode
// cardinality; unmatched paths share one label.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(code)).Observe(elapsed)
	})
}
