// Package metrics tracks per-cache counters, rolling performance snapshots
// and derived health signals for the coordination layer. One Collector
// instance owns all state; nothing is process-global, so tests construct
// isolated collectors.
package metrics

import "time"

// Op identifies the kind of cache operation being recorded.
type Op string

const (
	OpGet   Op = "GET"
	OpPut   Op = "PUT"
	OpEvict Op = "EVICT"
	OpClear Op = "CLEAR"
)

// Recorder receives operation timings. *Collector satisfies it; components
// that only need to report depend on this narrow interface.
type Recorder interface {
	// RecordOperation records one operation against the named cache. For
	// GET operations success means a hit; for PUT and EVICT it means the
	// write reached the store.
	RecordOperation(cache string, op Op, d time.Duration, success bool)
}

// HealthStatus is the tri-state verdict derived from current metrics.
type HealthStatus string

const (
	Healthy   HealthStatus = "HEALTHY"
	Degraded  HealthStatus = "DEGRADED"
	Unhealthy HealthStatus = "UNHEALTHY"
)

// CacheMetrics is a read-only view of one cache's counters.
type CacheMetrics struct {
	Cache           string
	Hits            int64
	Misses          int64
	Puts            int64
	Evictions       int64
	Clears          int64
	PutErrors       int64
	EvictionErrors  int64
	HitRate         float64
	ErrorRate       float64
	AvgResponseTime time.Duration
	Operations      int64
}

// SystemMetrics aggregates every cache tracked by a Collector.
type SystemMetrics struct {
	TotalHits      int64
	TotalMisses    int64
	TotalErrors    int64
	AverageHitRate float64
	HealthStatus   HealthStatus
}

// PerformanceSnapshot is one point of a cache's rolling history.
type PerformanceSnapshot struct {
	Timestamp       time.Time
	HitRate         float64
	MissRate        float64
	AvgResponseTime time.Duration
	OpsPerSecond    float64
	MemoryUsage     uint64
	ErrorRate       float64
}

// Trend classifies the recent direction of a cache's performance.
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDegrading Trend = "DEGRADING"
	TrendStable    Trend = "STABLE"
)
