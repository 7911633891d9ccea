package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "booking_pal"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Calendar API attempts by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	remoteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_retries_total",
			Help:      "Calendar API retries by operation.",
		},
		[]string{"operation"},
	)

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by result.",
		},
		[]string{"result"},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_length",
			Help:      "Actions waiting in the offline queue.",
		},
	)

	queueEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_queue_evictions_total",
			Help:      "Queued actions dropped after exhausting their attempts.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the calendar service is reachable.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, remoteCalls, remoteRetries, syncCycles, queueLength, queueEvictions, online)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveRemoteCall(operation, outcome string) {
	remoteCalls.WithLabelValues(operation, outcome).Inc()
}

func IncRemoteRetry(operation string) {
	remoteRetries.WithLabelValues(operation).Inc()
}

func IncSyncCycle(result string) {
	syncCycles.WithLabelValues(result).Inc()
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func IncQueueEviction() {
	queueEvictions.Inc()
}

func SetOnline(isOnline bool) {
	if isOnline {
		online.Set(1)
		return
	}
	online.Set(0)
}
