package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

type promCollectors struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rateLimitWait prometheus.Histogram
	outcomes      *prometheus.CounterVec
	backendSync   *prometheus.CounterVec
	duplicates    prometheus.Counter
	discarded     prometheus.Counter
}

func newPromCollectors() *promCollectors {
	return &promCollectors{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and result.",
			},
			[]string{"route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "storefront",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		rateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "storefront",
				Subsystem: "http",
				Name:      "rate_limit_wait_seconds",
				Help:      "Time requests spent waiting for a rate limit token.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "reconcile",
				Name:      "outcomes_total",
				Help:      "Completed payment reconciliations by outcome.",
			},
			[]string{"status"},
		),
		backendSync: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "reconcile",
				Name:      "backend_sync_total",
				Help:      "Order finalize calls by result.",
			},
			[]string{"result"},
		),
		duplicates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "reconcile",
				Name:      "duplicates_total",
				Help:      "Callbacks rejected by the idempotency guard.",
			},
		),
		discarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "reconcile",
				Name:      "discarded_total",
				Help:      "Reconciliations whose view went away before the backend answered.",
			},
		),
	}
}

func (p *promCollectors) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		p.requests, p.latency, p.rateLimitWait, p.outcomes, p.backendSync, p.duplicates, p.discarded,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
