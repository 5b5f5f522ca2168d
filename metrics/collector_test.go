package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordGets(c *Collector, cache string, hits, misses int) {
	for i := 0; i < hits; i++ {
		c.RecordOperation(cache, OpGet, time.Millisecond, true)
	}
	for i := 0; i < misses; i++ {
		c.RecordOperation(cache, OpGet, time.Millisecond, false)
	}
}

func TestHitRate(t *testing.T) {
	c := NewCollector()
	recordGets(c, "users", 3, 1)

	cm := c.CacheMetrics("users")
	assert.Equal(t, int64(3), cm.Hits)
	assert.Equal(t, int64(1), cm.Misses)
	assert.InDelta(t, 0.75, cm.HitRate, 1e-9)
}

func TestErrorRate(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 8; i++ {
		c.RecordOperation("users", OpPut, time.Millisecond, true)
	}
	for i := 0; i < 2; i++ {
		c.RecordOperation("users", OpPut, time.Millisecond, false)
	}

	cm := c.CacheMetrics("users")
	assert.Equal(t, int64(10), cm.Puts)
	assert.Equal(t, int64(2), cm.PutErrors)
	assert.InDelta(t, 0.2, cm.ErrorRate, 1e-9)
}

func TestSystemMetricsAveragesPerCacheRates(t *testing.T) {
	c := NewCollector()
	recordGets(c, "hot", 10, 0)  // rate 1.0
	recordGets(c, "cold", 5, 5)  // rate 0.5

	sm := c.SystemMetrics()
	assert.Equal(t, int64(15), sm.TotalHits)
	assert.Equal(t, int64(5), sm.TotalMisses)
	assert.InDelta(t, 0.75, sm.AverageHitRate, 1e-9)
	assert.Equal(t, Healthy, sm.HealthStatus)
}

func TestLowHitRateAnomaly(t *testing.T) {
	c := NewCollector()
	recordGets(c, "weak", 8, 12) // rate 0.4, 20 samples

	anomalies := c.DetectAnomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyLowHitRate, anomalies[0].Type)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)

	c2 := NewCollector()
	recordGets(c2, "awful", 2, 18) // rate 0.1
	anomalies = c2.DetectAnomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityHigh, anomalies[0].Severity)
}

func TestAnomalySampleFloor(t *testing.T) {
	c := NewCollector()
	recordGets(c, "cold", 0, 5) // too few samples to judge
	assert.Empty(t, c.DetectAnomalies())
}

func TestHighErrorRateAnomaly(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 9; i++ {
		c.RecordOperation("flaky", OpPut, time.Millisecond, true)
	}
	c.RecordOperation("flaky", OpPut, time.Millisecond, false) // rate 0.1

	anomalies := c.DetectAnomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyHighErrorRate, anomalies[0].Type)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)

	c.RecordOperation("flaky", OpPut, time.Millisecond, false) // rate > 0.1
	anomalies = c.DetectAnomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityHigh, anomalies[0].Severity)
}

func TestHighResponseTimeAnomaly(t *testing.T) {
	c := NewCollector()
	c.RecordOperation("slow", OpGet, 200*time.Millisecond, true)
	anomalies := c.DetectAnomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyHighResponseTime, anomalies[0].Type)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)

	c2 := NewCollector()
	c2.RecordOperation("slower", OpGet, 600*time.Millisecond, true)
	anomalies = c2.DetectAnomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityHigh, anomalies[0].Severity)
}

func TestHealthVerdicts(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, Healthy, c.SystemMetrics().HealthStatus, "no data is healthy")

	recordGets(c, "ok", 9, 1)
	assert.Equal(t, Healthy, c.SystemMetrics().HealthStatus)

	degraded := NewCollector()
	recordGets(degraded, "weak", 8, 12) // medium anomaly, avg rate 0.4
	assert.Equal(t, Degraded, degraded.SystemMetrics().HealthStatus)

	unhealthy := NewCollector()
	recordGets(unhealthy, "awful", 2, 18) // high anomaly
	assert.Equal(t, Unhealthy, unhealthy.SystemMetrics().HealthStatus)
}

func TestSnapshotHistory(t *testing.T) {
	c := NewCollector()
	recordGets(c, "users", 3, 1)

	c.Snapshot()
	recordGets(c, "users", 5, 0)
	c.Snapshot()

	snaps := c.History("users")
	require.Len(t, snaps, 2)
	assert.InDelta(t, 0.75, snaps[0].HitRate, 1e-9)
	assert.True(t, snaps[1].Timestamp.After(snaps[0].Timestamp) || snaps[1].Timestamp.Equal(snaps[0].Timestamp))
	assert.InDelta(t, 1-snaps[1].HitRate, snaps[1].MissRate, 1e-9)
}

func TestHistoryRingIsBounded(t *testing.T) {
	h := newHistory()
	for i := 0; i < historyCap+100; i++ {
		h.add(PerformanceSnapshot{Timestamp: time.Unix(int64(i), 0)})
	}
	snaps := h.list()
	require.Len(t, snaps, historyCap)
	assert.Equal(t, time.Unix(100, 0), snaps[0].Timestamp, "oldest entries are overwritten first")
}

func TestPurgeDropsOldSnapshots(t *testing.T) {
	c := NewCollector()
	h := c.histories.get("users")
	h.add(PerformanceSnapshot{Timestamp: time.Now().Add(-8 * 24 * time.Hour)})
	h.add(PerformanceSnapshot{Timestamp: time.Now()})

	c.Purge(7 * 24 * time.Hour)
	assert.Len(t, c.History("users"), 1)
}

func TestTrendClassification(t *testing.T) {
	c := NewCollector()
	h := c.histories.get("users")
	for i := 0; i < 3; i++ {
		h.add(PerformanceSnapshot{HitRate: 0.5, AvgResponseTime: 50 * time.Millisecond})
	}
	for i := 0; i < 3; i++ {
		h.add(PerformanceSnapshot{HitRate: 0.8, AvgResponseTime: 50 * time.Millisecond})
	}
	assert.Equal(t, TrendImproving, c.Trend("users", 3))

	d := NewCollector()
	h = d.histories.get("users")
	for i := 0; i < 3; i++ {
		h.add(PerformanceSnapshot{HitRate: 0.8, AvgResponseTime: 50 * time.Millisecond})
	}
	for i := 0; i < 3; i++ {
		h.add(PerformanceSnapshot{HitRate: 0.8, AvgResponseTime: 90 * time.Millisecond})
	}
	assert.Equal(t, TrendDegrading, d.Trend("users", 3))

	assert.Equal(t, TrendStable, d.Trend("users", 10), "too little history is stable")

	s := NewCollector()
	h = s.histories.get("users")
	for i := 0; i < 6; i++ {
		h.add(PerformanceSnapshot{HitRate: 0.8, AvgResponseTime: 50 * time.Millisecond})
	}
	assert.Equal(t, TrendStable, s.Trend("users", 3))
}

func TestReset(t *testing.T) {
	c := NewCollector()
	recordGets(c, "users", 5, 5)
	c.Snapshot()

	c.Reset("users")
	cm := c.CacheMetrics("users")
	assert.Zero(t, cm.Hits)
	assert.Empty(t, c.History("users"))
}

func TestPrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(WithPrometheus(reg))
	recordGets(c, "users", 2, 1)
	c.RecordOperation("users", OpPut, time.Millisecond, true)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "coord_cache_ops_total")
	assert.Contains(t, names, "coord_cache_op_duration_seconds")
}
