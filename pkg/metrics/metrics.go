package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	WrappersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_wrappers_total",
			Help: "Total number of wrappers by status",
		},
		[]string{"status"},
	)

	RequestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_requests_total",
			Help: "Total number of requests by status",
		},
		[]string{"status"},
	)

	MeasurementsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_measurements_total",
			Help: "Total number of measurements by status",
		},
		[]string{"status"},
	)

	// Dispatch metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_deployments_total",
			Help: "Total number of deployment attempts by result",
		},
		[]string{"result"},
	)

	DispatchCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_dispatch_cycles_total",
			Help: "Total number of dispatch cycles completed",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_dispatch_duration_seconds",
			Help:    "Time taken for a dispatch cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Health loop metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_reconciliation_cycles_total",
			Help: "Total number of wrapper reconciliation cycles completed",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_installs_total",
			Help: "Total number of wrapper installations by result",
		},
		[]string{"result"},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_restarts_total",
			Help: "Total number of wrapper restarts by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WrappersTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(MeasurementsTotal)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DispatchCyclesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(InstallsTotal)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
