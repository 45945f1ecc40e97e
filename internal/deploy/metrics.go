package deploy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the deployments counter.
const (
	OutcomeInstalled = "installed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors a Deployer updates.
type Metrics struct {
	Deployments     *prometheus.CounterVec
	Duration        prometheus.Histogram
	DownloadedBytes prometheus.Counter
	LockWait        prometheus.Histogram
	LockTimeouts    *prometheus.CounterVec
	Warnings        prometheus.Counter
}

// NewMetrics registers the deployment collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		Deployments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upack",
			Name:      "deployments_total",
			Help:      "Deployments by outcome",
		}, []string{"outcome"}),

		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "upack",
			Name:      "deployment_duration_seconds",
			Help:      "Time from resolve to completion of a deployment",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),

		DownloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "upack",
			Name:      "downloaded_bytes_total",
			Help:      "Package content bytes downloaded from feeds",
		}),

		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "upack",
			Name:      "registry_lock_wait_seconds",
			Help:      "Time spent waiting for the installed-package registry lock",
			Buckets:   prometheus.DefBuckets,
		}),

		LockTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upack",
			Name:      "registry_lock_timeouts_total",
			Help:      "Registry lock acquisitions that timed out, by pipeline step",
		}, []string{"step"}),

		Warnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "upack",
			Name:      "deployment_warnings_total",
			Help:      "Non-fatal problems reported by deployments",
		}),
	}
}
