package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const namespace = "pos"

// CheckoutMetrics records checkout outcomes. It satisfies the engine's
// Recorder.
type CheckoutMetrics struct {
	Checkouts        *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	RollbackReleases *prometheus.CounterVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	m := &CheckoutMetrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "total",
			Help:      "Checkouts by final status and error kind.",
		}, []string{"status", "kind"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_ms",
			Help:      "Checkout latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"status"}),
		RollbackReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "rollback_releases_total",
			Help:      "Reservations released during rollback, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Checkouts, m.LatencyMS, m.RollbackReleases)
	return m
}

func (m *CheckoutMetrics) ObserveCheckout(status domain.TransactionStatus, kind domain.ErrorKind, elapsed time.Duration) {
	m.Checkouts.WithLabelValues(string(status), string(kind)).Inc()
	m.LatencyMS.WithLabelValues(string(status)).Observe(float64(elapsed.Microseconds()) / 1000)
}

func (m *CheckoutMetrics) ObserveRollback(released, failed int) {
	m.RollbackReleases.WithLabelValues("released").Add(float64(released))
	m.RollbackReleases.WithLabelValues("failed").Add(float64(failed))
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Wrap counts requests to next under the given handler label.
func (m *ServerMetrics) Wrap(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.Requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Microseconds()) / 1000)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
