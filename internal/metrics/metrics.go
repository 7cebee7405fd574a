package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schedula"

// Booking results.
const (
	ResultCreated      = "created"
	ResultReplayed     = "replayed"
	ResultInvalid      = "invalid"
	ResultSpecialty    = "invalid_specialty"
	ResultOutsideHours = "outside_hours"
	ResultBlocked      = "blocked"
	ResultConflict     = "conflict"
	ResultBusy         = "busy"
	ResultDenied       = "denied"
	ResultNotFound     = "not_found"
	ResultInvalidState = "invalid_state"
	ResultOK           = "ok"
	ResultError        = "error"
)

// Collector owns every scheduling metric. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	BookingsTotal          *prometheus.CounterVec
	TransitionsTotal       *prometheus.CounterVec
	SlotGenerationDuration *prometheus.HistogramVec

	RPCRequestsTotal *prometheus.CounterVec
	RPCDuration      *prometheus.HistogramVec
}

func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,

		BookingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Appointment creation attempts by result.",
		}, []string{"result"}),

		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by action and result.",
		}, []string{"action", "result"}),

		SlotGenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "generation_duration_seconds",
			Help:      "Latency of availability computations by view.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"view"}),

		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "gRPC requests by method and status code.",
		}, []string{"method", "code"}),

		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method"}),
	}
}

func (c *Collector) ObserveBooking(result string) {
	if c == nil {
		return
	}
	c.BookingsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveTransition(action, result string) {
	if c == nil {
		return
	}
	c.TransitionsTotal.WithLabelValues(action, result).Inc()
}

// TimeGeneration returns a func that records the elapsed time for view when called.
func (c *Collector) TimeGeneration(view string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		c.SlotGenerationDuration.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) ObserveRPC(method, code string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RPCRequestsTotal.WithLabelValues(method, code).Inc()
	c.RPCDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
