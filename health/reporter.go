// Package health combines a store connectivity probe with the metrics
// collector's verdict into a single report for readiness checks.
package health

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-coord/metrics"
	"github.com/mirkobrombin/go-coord/store"
)

// Report is a read-only view of the coordination layer's health.
type Report struct {
	StoreUp   bool
	Status    metrics.HealthStatus
	System    metrics.SystemMetrics
	Anomalies []metrics.Anomaly
	CheckedAt time.Time
}

// Reporter polls the remote store and the metrics collector.
type Reporter struct {
	store     store.Store
	collector *metrics.Collector
	log       *logrus.Entry
}

// NewReporter returns a Reporter over st and c.
func NewReporter(st store.Store, c *metrics.Collector, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "health")
	}
	return &Reporter{store: st, collector: c, log: log}
}

// Check produces a point-in-time report. An unreachable store forces the
// verdict to UNHEALTHY regardless of cache metrics: the layer cannot
// coordinate without it.
func (r *Reporter) Check(ctx context.Context) Report {
	report := Report{
		System:    r.collector.SystemMetrics(),
		Anomalies: r.collector.DetectAnomalies(),
		CheckedAt: time.Now(),
	}
	report.Status = report.System.HealthStatus

	if err := r.store.Ping(ctx); err != nil {
		r.log.WithError(err).Warn("store connectivity probe failed")
		report.Status = metrics.Unhealthy
	} else {
		report.StoreUp = true
	}
	return report
}
