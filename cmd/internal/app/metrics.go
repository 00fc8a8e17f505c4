package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voir/cmd/internal/auth/session"
	"voir/cmd/internal/realtime"
)

// knownRoutes bounds the route label cardinality; anything else is "other".
var knownRoutes = map[string]struct{}{
	"/session":         {},
	"/session/refresh": {},
	"/session/events":  {},
	"/principals":      {},
	"/healthz":         {},
	"/readyz":          {},
	"/metrics":         {},
}

// Metrics owns the process registry and the HTTP collectors.
type Metrics struct {
	reg      *prometheus.Registry
	duration *prometheus.HistogramVec
	session  *session.Metrics
}

// NewMetrics builds a registry with runtime collectors, HTTP latency, the
// open feed gauge (when hub is non-nil) and the session counters.
func NewMetrics(hub *realtime.Hub) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voir",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route, method and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "class"})
	reg.MustRegister(duration)

	if hub != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "voir",
			Subsystem: "realtime",
			Name:      "feeds_open",
			Help:      "Open session event feeds.",
		}, func() float64 { return float64(hub.Count()) }))
	}

	return &Metrics{
		reg:      reg,
		duration: duration,
		session:  session.NewMetrics(reg),
	}
}

// Session returns the counters the session service records into.
func (m *Metrics) Session() *session.Metrics { return m.session }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) observe(r *http.Request, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(routeLabel(r.URL.Path), r.Method, statusClass(status)).Observe(took.Seconds())
}

func routeLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return "other"
}
