// Package metrics records publish outcomes as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

const namespace = "banners"

// Publish result label values.
const (
	ResultSuccess  = "success"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Collector implements simplebanners.Metrics.
type Collector struct {
	publishTotal     *prometheus.CounterVec
	snapshotsReused  prometheus.Counter
	snapshotsCreated prometheus.Counter
	publishDuration  prometheus.Histogram
}

var _ simplebanners.Metrics = (*Collector)(nil)

// New builds the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish attempts by result",
		}, []string{"result"}),
		snapshotsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_reused_total",
			Help:      "Snapshots carried over unchanged into a new publication",
		}),
		snapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_created_total",
			Help:      "Snapshots captured because entry content changed",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Wall time of publish transactions",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	reg.MustRegister(
		c.publishTotal,
		c.snapshotsReused,
		c.snapshotsCreated,
		c.publishDuration,
	)

	// Pre-create the series so dashboards see zeros before the first publish.
	for _, result := range []string{ResultSuccess, ResultConflict, ResultError} {
		c.publishTotal.WithLabelValues(result)
	}
	return c
}

// ObservePublish records one publish attempt.
func (c *Collector) ObservePublish(result simplebanners.PublishResult, duration time.Duration, err error) {
	c.publishDuration.Observe(duration.Seconds())

	switch {
	case err == nil:
		c.publishTotal.WithLabelValues(ResultSuccess).Inc()
		c.snapshotsReused.Add(float64(result.Reused))
		c.snapshotsCreated.Add(float64(result.Created))
	case simplebanners.IsRetryable(err):
		c.publishTotal.WithLabelValues(ResultConflict).Inc()
	default:
		c.publishTotal.WithLabelValues(ResultError).Inc()
	}
}
