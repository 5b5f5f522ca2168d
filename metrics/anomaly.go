package metrics

import (
	"fmt"
	"time"
)

// AnomalyType names a class of detected cache misbehavior.
type AnomalyType string

const (
	AnomalyLowHitRate       AnomalyType = "LOW_HIT_RATE"
	AnomalyHighErrorRate    AnomalyType = "HIGH_ERROR_RATE"
	AnomalyHighResponseTime AnomalyType = "HIGH_RESPONSE_TIME"
)

// Severity ranks an anomaly's impact.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Anomaly is a derived signal, recomputed on demand and never persisted.
type Anomaly struct {
	Cache       string
	Type        AnomalyType
	Severity    Severity
	Description string
	DetectedAt  time.Time
}

const (
	lowHitRateThreshold     = 0.5
	criticalHitRate         = 0.2
	highErrorRateThreshold  = 0.05
	criticalErrorRate       = 0.1
	highResponseThreshold   = 100 * time.Millisecond
	criticalResponse        = 500 * time.Millisecond
	// anomalySampleFloor avoids flagging caches that have barely been used;
	// a cold cache with two misses is not a low hit rate.
	anomalySampleFloor = 20
)

// DetectAnomalies recomputes the anomaly list from current counters.
func (c *Collector) DetectAnomalies() []Anomaly {
	c.mu.RLock()
	records := make(map[string]*record, len(c.records))
	for name, r := range c.records {
		records[name] = r
	}
	c.mu.RUnlock()

	now := time.Now()
	var anomalies []Anomaly
	for name, r := range records {
		if rate, ok := r.hitRate(); ok && r.hits.Load()+r.misses.Load() >= anomalySampleFloor && rate < lowHitRateThreshold {
			sev := SeverityMedium
			if rate < criticalHitRate {
				sev = SeverityHigh
			}
			anomalies = append(anomalies, Anomaly{
				Cache:       name,
				Type:        AnomalyLowHitRate,
				Severity:    sev,
				Description: fmt.Sprintf("hit rate %.2f below %.2f", rate, lowHitRateThreshold),
				DetectedAt:  now,
			})
		}
		if rate := r.errorRate(); rate > highErrorRateThreshold {
			sev := SeverityMedium
			if rate > criticalErrorRate {
				sev = SeverityHigh
			}
			anomalies = append(anomalies, Anomaly{
				Cache:       name,
				Type:        AnomalyHighErrorRate,
				Severity:    sev,
				Description: fmt.Sprintf("error rate %.2f above %.2f", rate, highErrorRateThreshold),
				DetectedAt:  now,
			})
		}
		if avg := r.avgResponse(); avg > highResponseThreshold {
			sev := SeverityMedium
			if avg > criticalResponse {
				sev = SeverityHigh
			}
			anomalies = append(anomalies, Anomaly{
				Cache:       name,
				Type:        AnomalyHighResponseTime,
				Severity:    sev,
				Description: fmt.Sprintf("mean operation time %s above %s", avg, highResponseThreshold),
				DetectedAt:  now,
			})
		}
	}
	return anomalies
}
