package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// historyCap bounds each cache's snapshot ring buffer. At the default
// one-minute interval this holds a full day.
const historyCap = 1440

// history is the bounded snapshot ring for one cache.
type history struct {
	mu      sync.Mutex
	buf     []PerformanceSnapshot
	start   int
	size    int
	lastOps int64
	lastAt  time.Time
}

func newHistory() *history {
	return &history{buf: make([]PerformanceSnapshot, historyCap)}
}

func (h *history) add(s PerformanceSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < historyCap {
		h.buf[(h.start+h.size)%historyCap] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % historyCap
}

// list returns snapshots oldest first.
func (h *history) list() []PerformanceSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PerformanceSnapshot, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%historyCap]
	}
	return out
}

// purgeBefore drops snapshots older than cutoff. The ring already bounds
// memory; this keeps long-idle caches from reporting week-old history.
func (h *history) purgeBefore(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.size > 0 && h.buf[h.start].Timestamp.Before(cutoff) {
		h.start = (h.start + 1) % historyCap
		h.size--
	}
}

type historySet struct {
	mu sync.Mutex
	m  map[string]*history
}

func newHistorySet() *historySet {
	return &historySet{m: make(map[string]*history)}
}

func (hs *historySet) get(cache string) *history {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.m[cache]
	if !ok {
		h = newHistory()
		hs.m[cache] = h
	}
	return h
}

func (hs *historySet) drop(cache string) {
	hs.mu.Lock()
	delete(hs.m, cache)
	hs.mu.Unlock()
}

func (hs *historySet) all() map[string]*history {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	out := make(map[string]*history, len(hs.m))
	for name, h := range hs.m {
		out[name] = h
	}
	return out
}

// Snapshot appends one PerformanceSnapshot per known cache.
func (c *Collector) Snapshot() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	now := time.Now()

	for _, name := range c.Caches() {
		r := c.record(name)
		h := c.histories.get(name)

		hitRate, _ := r.hitRate()
		ops := r.ops.Load()

		h.mu.Lock()
		var opsPerSec float64
		if !h.lastAt.IsZero() {
			if elapsed := now.Sub(h.lastAt).Seconds(); elapsed > 0 {
				opsPerSec = float64(ops-h.lastOps) / elapsed
			}
		}
		h.lastOps = ops
		h.lastAt = now
		h.mu.Unlock()

		h.add(PerformanceSnapshot{
			Timestamp:       now,
			HitRate:         hitRate,
			MissRate:        1 - hitRate,
			AvgResponseTime: r.avgResponse(),
			OpsPerSecond:    opsPerSec,
			MemoryUsage:     mem.HeapAlloc,
			ErrorRate:       r.errorRate(),
		})
	}
}

// History returns the named cache's snapshots, oldest first.
func (c *Collector) History(cache string) []PerformanceSnapshot {
	return c.histories.get(cache).list()
}

// Purge drops snapshots older than the retention window across all caches.
func (c *Collector) Purge(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	for _, h := range c.histories.all() {
		h.purgeBefore(cutoff)
	}
}

// StartScheduled begins periodic snapshotting at interval and a retention
// sweep every hour. It returns a stop function.
func (c *Collector) StartScheduled(interval, retention time.Duration) (stop func(), err error) {
	sched := cron.New()
	if _, err := sched.AddFunc("@every "+interval.String(), c.Snapshot); err != nil {
		return nil, err
	}
	if _, err := sched.AddFunc("@every 1h", func() { c.Purge(retention) }); err != nil {
		return nil, err
	}
	sched.Start()
	c.log.WithField("interval", interval).Info("snapshot scheduler started")
	return func() { <-sched.Stop().Done() }, nil
}

// Trend thresholds: changes smaller than these are noise.
const (
	trendHitRateDelta = 0.05
	trendLatencyDelta = 10 * time.Millisecond
)

// Trend compares the mean of the most recent n snapshots against the
// preceding n. Fewer than 2n snapshots classify as stable. A degradation on
// either axis wins over an improvement on the other.
func (c *Collector) Trend(cache string, n int) Trend {
	snaps := c.History(cache)
	if n <= 0 || len(snaps) < 2*n {
		return TrendStable
	}
	recent := snaps[len(snaps)-n:]
	previous := snaps[len(snaps)-2*n : len(snaps)-n]

	mean := func(ss []PerformanceSnapshot) (hitRate float64, latency time.Duration) {
		var latSum time.Duration
		for _, s := range ss {
			hitRate += s.HitRate
			latSum += s.AvgResponseTime
		}
		return hitRate / float64(len(ss)), latSum / time.Duration(len(ss))
	}
	recHit, recLat := mean(recent)
	prevHit, prevLat := mean(previous)

	switch {
	case recHit < prevHit-trendHitRateDelta, recLat > prevLat+trendLatencyDelta:
		return TrendDegrading
	case recHit > prevHit+trendHitRateDelta, recLat < prevLat-trendLatencyDelta:
		return TrendImproving
	default:
		return TrendStable
	}
}
