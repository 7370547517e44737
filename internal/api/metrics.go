package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnitech/omnidesk/internal/agent"
)

// httpMetrics holds the Prometheus collectors for one HTTP handler. Each
// handler gets its own registry so building several never double-registers.
type httpMetrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	queriesTotal    *prometheus.CounterVec
	ticketsOpened   prometheus.Counter
}

func newHTTPMetrics() *httpMetrics {
	m := &httpMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnidesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "omnidesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnidesk_queries_total",
				Help: "Processed queries by workflow and outcome",
			},
			[]string{"workflow", "outcome"},
		),
		ticketsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "omnidesk_tickets_opened_total",
				Help: "Support tickets opened by the agent",
			},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.requestsTotal,
		m.requestDuration,
		m.queriesTotal,
		m.ticketsOpened,
	)
	return m
}

// middleware records one sample per request, labelled by the matched route
// pattern rather than the raw path.
func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *httpMetrics) observeQuery(resp agent.Response) {
	outcome := "ok"
	switch {
	case resp.Unavailable:
		outcome = "unavailable"
	case resp.Degraded:
		outcome = "degraded"
	}
	m.queriesTotal.WithLabelValues(string(resp.Workflow), outcome).Inc()
	if resp.TicketID != 0 {
		m.ticketsOpened.Inc()
	}
}

func (m *httpMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
