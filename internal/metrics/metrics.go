package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aihelper",
			Name:      "provider_requests_total",
			Help:      "Total provider requests by vendor, model and result",
		},
		[]string{"vendor", "model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aihelper",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider requests by vendor and model",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 60},
		},
		[]string{"vendor", "model"},
	)

	deadlineFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aihelper",
			Name:      "deadline_fires_total",
			Help:      "Calls whose watchdog deadline fired before the vendor answered",
		},
		[]string{"label"},
	)

	lateCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aihelper",
			Name:      "late_completions_total",
			Help:      "Vendor replies that arrived after the deadline and were discarded",
		},
		[]string{"label"},
	)

	busyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aihelper",
			Name:      "busy_rejections_total",
			Help:      "Triggers rejected because another request was running",
		},
		[]string{"trigger"},
	)

	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aihelper",
			Name:      "outcomes_total",
			Help:      "Delivered outcomes by trigger and outcome kind",
		},
		[]string{"trigger", "outcome"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aihelper",
			Name:      "active_sessions",
			Help:      "Open chat sessions",
		},
	)

	registerOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(providerReqs, providerLatency, deadlineFires, lateCompletions, busyRejections, outcomes, activeSessions)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(vendor, model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(vendor, model, result).Inc()
	providerLatency.WithLabelValues(vendor, model).Observe(dur.Seconds())
}

func IncDeadline(label string)       { deadlineFires.WithLabelValues(label).Inc() }
func IncLateCompletion(label string) { lateCompletions.WithLabelValues(label).Inc() }
func IncBusy(trigger string)         { busyRejections.WithLabelValues(trigger).Inc() }

func IncOutcome(trigger, outcome string) { outcomes.WithLabelValues(trigger, outcome).Inc() }

func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }
