package gateway

import (
	"net/http"
	"sync"
	"time"
)

type metricName string

const (
	metricPushAccepted  metricName = "push_accepted"
	metricPushRejected  metricName = "push_rejected"
	metricRateLimited   metricName = "rate_limited"
	metricAuthFailures  metricName = "auth_failures"
	metricSubscribers   metricName = "active_subscribers"
	metricEventsDropped metricName = "events_dropped"
)

// AlertEvent describes an anomaly detected by the metrics collector.
type AlertEvent struct {
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is invoked when an anomaly threshold is crossed.
type AlertFunc func(AlertEvent)

// metricsCollector tracks plain counters plus a sliding window over push
// rejections: a spike of rejections usually means a client is stuck
// replaying a stale revision.
type metricsCollector struct {
	mu       sync.Mutex
	counters map[metricName]int64

	rejections         []time.Time
	rejectionWindow    time.Duration
	rejectionThreshold int
	alertFn            AlertFunc
}

const (
	defaultRejectionWindow    = 1 * time.Minute
	defaultRejectionThreshold = 50
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		counters:           make(map[metricName]int64),
		rejectionWindow:    defaultRejectionWindow,
		rejectionThreshold: defaultRejectionThreshold,
		alertFn:            alertFn,
	}
}

func (m *metricsCollector) incr(name metricName) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()

	if name == metricPushRejected {
		m.recordRejection()
	}
}

func (m *metricsCollector) add(name metricName, delta int64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *metricsCollector) recordRejection() {
	if m.alertFn == nil {
		return
	}
	m.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-m.rejectionWindow)
	kept := m.rejections[:0]
	for _, t := range m.rejections {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.rejections = append(kept, now)
	count := len(m.rejections)
	fire := count >= m.rejectionThreshold
	if fire {
		m.rejections = m.rejections[:0]
	}
	m.mu.Unlock()

	if fire {
		m.alertFn(AlertEvent{
			Message:   "push rejection spike",
			Count:     count,
			Threshold: m.rejectionThreshold,
			Timestamp: now,
		})
	}
}

func (m *metricsCollector) snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		out[string(name)] = v
	}
	return out
}

// Metrics serves the counter snapshot. Operational, not authorized.
func (g *Gateway) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.metrics.snapshot())
}
