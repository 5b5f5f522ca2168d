package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// record holds the atomic counters for one cache. Created lazily on first
// use, it lives for the collector's lifetime and is reset only by an
// explicit admin action.
type record struct {
	hits        atomic.Int64
	misses      atomic.Int64
	puts        atomic.Int64
	evictions   atomic.Int64
	clears      atomic.Int64
	putErrors   atomic.Int64
	evictErrors atomic.Int64
	opTimeMs    atomic.Int64
	ops         atomic.Int64
}

func (r *record) hitRate() (float64, bool) {
	hits, misses := r.hits.Load(), r.misses.Load()
	if hits+misses == 0 {
		return 0, false
	}
	return float64(hits) / float64(hits+misses), true
}

func (r *record) errorRate() float64 {
	puts := r.puts.Load()
	if puts == 0 {
		return 0
	}
	return float64(r.putErrors.Load()) / float64(puts)
}

func (r *record) avgResponse() time.Duration {
	ops := r.ops.Load()
	if ops == 0 {
		return 0
	}
	return time.Duration(r.opTimeMs.Load()/ops) * time.Millisecond
}

// Collector implements Recorder and derives anomalies, trends and the
// system health verdict from its counters.
type Collector struct {
	mu      sync.RWMutex
	records map[string]*record

	histories *historySet
	log       *logrus.Entry

	promOps     *prometheus.CounterVec
	promLatency *prometheus.HistogramVec
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger used for scheduled work.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Collector) { c.log = log }
}

// WithPrometheus additionally exports operation counts and latencies on the
// provided registerer.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(c *Collector) {
		c.promOps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coord_cache_ops_total",
			Help: "Total cache operations by cache, op and result",
		}, []string{"cache", "op", "result"})
		c.promLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coord_cache_op_duration_seconds",
			Help:    "Latency of cache operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache", "op"})
		reg.MustRegister(c.promOps, c.promLatency)
	}
}

// NewCollector returns an empty Collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		records:   make(map[string]*record),
		histories: newHistorySet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "metrics")
	}
	return c
}

func (c *Collector) record(cache string) *record {
	c.mu.RLock()
	r, ok := c.records[cache]
	c.mu.RUnlock()
	if ok {
		return r
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok = c.records[cache]; ok {
		return r
	}
	r = &record{}
	c.records[cache] = r
	return r
}

// RecordOperation implements Recorder.
func (c *Collector) RecordOperation(cache string, op Op, d time.Duration, success bool) {
	r := c.record(cache)
	switch op {
	case OpGet:
		if success {
			r.hits.Add(1)
		} else {
			r.misses.Add(1)
		}
	case OpPut:
		r.puts.Add(1)
		if !success {
			r.putErrors.Add(1)
		}
	case OpEvict:
		r.evictions.Add(1)
		if !success {
			r.evictErrors.Add(1)
		}
	case OpClear:
		r.clears.Add(1)
	}
	r.ops.Add(1)
	r.opTimeMs.Add(d.Milliseconds())

	if c.promOps != nil {
		result := "ok"
		if !success {
			result = "fail"
		}
		if op == OpGet {
			result = "hit"
			if !success {
				result = "miss"
			}
		}
		c.promOps.WithLabelValues(cache, string(op), result).Inc()
		c.promLatency.WithLabelValues(cache, string(op)).Observe(d.Seconds())
	}
}

// CacheMetrics returns a point-in-time view of the named cache's counters.
func (c *Collector) CacheMetrics(cache string) CacheMetrics {
	r := c.record(cache)
	hitRate, _ := r.hitRate()
	return CacheMetrics{
		Cache:           cache,
		Hits:            r.hits.Load(),
		Misses:          r.misses.Load(),
		Puts:            r.puts.Load(),
		Evictions:       r.evictions.Load(),
		Clears:          r.clears.Load(),
		PutErrors:       r.putErrors.Load(),
		EvictionErrors:  r.evictErrors.Load(),
		HitRate:         hitRate,
		ErrorRate:       r.errorRate(),
		AvgResponseTime: r.avgResponse(),
		Operations:      r.ops.Load(),
	}
}

// Caches returns the names of every cache seen so far, sorted.
func (c *Collector) Caches() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.records))
	for name := range c.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemMetrics aggregates all caches into one verdict. The average hit
// rate is the mean of per-cache hit rates, so a small hot cache weighs the
// same as a large one.
func (c *Collector) SystemMetrics() SystemMetrics {
	c.mu.RLock()
	records := make(map[string]*record, len(c.records))
	for name, r := range c.records {
		records[name] = r
	}
	c.mu.RUnlock()

	var sm SystemMetrics
	var rateSum float64
	var rated int
	for _, r := range records {
		sm.TotalHits += r.hits.Load()
		sm.TotalMisses += r.misses.Load()
		sm.TotalErrors += r.putErrors.Load() + r.evictErrors.Load()
		if rate, ok := r.hitRate(); ok {
			rateSum += rate
			rated++
		}
	}
	if rated > 0 {
		sm.AverageHitRate = rateSum / float64(rated)
	}
	sm.HealthStatus = c.healthStatus(sm.AverageHitRate, rated > 0)
	return sm
}

func (c *Collector) healthStatus(avgHitRate float64, haveRates bool) HealthStatus {
	anomalies := c.DetectAnomalies()
	for _, a := range anomalies {
		if a.Severity == SeverityHigh {
			return Unhealthy
		}
	}
	if haveRates && avgHitRate < lowHitRateThreshold {
		return Degraded
	}
	for _, a := range anomalies {
		if a.Severity == SeverityMedium {
			return Degraded
		}
	}
	return Healthy
}

// Reset clears the named cache's counters and history. Admin-only.
func (c *Collector) Reset(cache string) {
	c.mu.Lock()
	delete(c.records, cache)
	c.mu.Unlock()
	c.histories.drop(cache)
	c.log.WithField("cache", cache).Warn("metrics reset")
}
