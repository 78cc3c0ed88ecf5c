package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandia_admin",
			Name:      "api_requests_total",
			Help:      "Count of REST requests by resource, method and outcome kind.",
		},
		[]string{"resource", "method", "outcome"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sandia_admin",
			Name:      "api_request_duration_seconds",
			Help:      "Latency of REST requests by resource and method.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"resource", "method"},
	)

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandia_admin",
			Name:      "mutations_total",
			Help:      "Count of create/update/delete attempts by entity and result.",
		},
		[]string{"entity", "action", "result"},
	)

	pageLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandia_admin",
			Name:      "page_loads_total",
			Help:      "Count of joint collection loads by entity and result.",
		},
		[]string{"entity", "result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(apiRequests, apiDuration, mutations, pageLoads)
	})
}

// ObserveRequest records one finished REST call. outcome is "ok" or an error kind.
func ObserveRequest(resource, method, outcome string, took time.Duration) {
	apiRequests.WithLabelValues(resource, method, outcome).Inc()
	apiDuration.WithLabelValues(resource, method).Observe(took.Seconds())
}

func IncMutation(entity, action, result string) {
	mutations.WithLabelValues(entity, action, result).Inc()
}

func IncPageLoad(entity, result string) {
	pageLoads.WithLabelValues(entity, result).Inc()
}
