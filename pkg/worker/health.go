package worker

import (
	"runtime"
	"sync"
	"time"
)

// HealthThresholds bound what counts as a healthy worker. Zero values fall
// back to defaults.
type HealthThresholds struct {
	// MaxHeartbeatAge is how stale the last heartbeat may be before the
	// worker is considered stuck.
	MaxHeartbeatAge time.Duration

	// MaxFailureRate is the tolerated share of failed jobs within the
	// failure window.
	MaxFailureRate float64

	// MaxMemoryBytes bounds process heap usage attributed to the pool.
	MaxMemoryBytes uint64
}

const (
	defaultMaxHeartbeatAge = 2 * time.Minute
	defaultMaxFailureRate  = 0.5
	defaultMaxMemoryBytes  = 1 << 30
	failureWindow          = 5 * time.Minute
)

func (t HealthThresholds) withDefaults() HealthThresholds {
	if t.MaxHeartbeatAge <= 0 {
		t.MaxHeartbeatAge = defaultMaxHeartbeatAge
	}

	if t.MaxFailureRate <= 0 {
		t.MaxFailureRate = defaultMaxFailureRate
	}

	if t.MaxMemoryBytes == 0 {
		t.MaxMemoryBytes = defaultMaxMemoryBytes
	}

	return t
}

// health tracks one worker's recent activity.
type health struct {
	mu sync.Mutex

	workerID      string
	startedAt     time.Time
	lastHeartbeat time.Time
	processed     int
	failed        int
	recent        []time.Time
	recentFailed  []time.Time
}

func newHealth(workerID string) *health {
	now := time.Now().UTC()

	return &health{
		workerID:      workerID,
		startedAt:     now,
		lastHeartbeat: now,
	}
}

func (h *health) beat() {
	h.mu.Lock()
	h.lastHeartbeat = time.Now().UTC()
	h.mu.Unlock()
}

func (h *health) record(failed bool) {
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastHeartbeat = now
	h.processed++
	h.recent = append(h.recent, now)

	if failed {
		h.failed++
		h.recentFailed = append(h.recentFailed, now)
	}

	cutoff := now.Add(-failureWindow)
	h.recent = pruneBefore(h.recent, cutoff)
	h.recentFailed = pruneBefore(h.recentFailed, cutoff)
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	out := stamps[:0]

	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			out = append(out, ts)
		}
	}

	return out
}

// HealthReport is a point-in-time snapshot of one worker. A breach marks the
// worker unhealthy but never kills it; the operator decides.
type HealthReport struct {
	WorkerID      string    `json:"worker_id"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	JobsProcessed int       `json:"jobs_processed"`
	JobsFailed    int       `json:"jobs_failed"`
	FailureRate   float64   `json:"failure_rate"`
	MemoryBytes   uint64    `json:"memory_bytes"`
	Healthy       bool      `json:"healthy"`
}

func (h *health) report(thresholds HealthThresholds) HealthReport {
	var memStats runtime.MemStats

	runtime.ReadMemStats(&memStats)

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-failureWindow)
	recent := len(pruneBefore(append([]time.Time(nil), h.recent...), cutoff))
	recentFailed := len(pruneBefore(append([]time.Time(nil), h.recentFailed...), cutoff))

	failureRate := 0.0
	if recent > 0 {
		failureRate = float64(recentFailed) / float64(recent)
	}

	healthy := now.Sub(h.lastHeartbeat) <= thresholds.MaxHeartbeatAge &&
		failureRate <= thresholds.MaxFailureRate &&
		memStats.Alloc <= thresholds.MaxMemoryBytes

	return HealthReport{
		WorkerID:      h.workerID,
		StartedAt:     h.startedAt,
		LastHeartbeat: h.lastHeartbeat,
		JobsProcessed: h.processed,
		JobsFailed:    h.failed,
		FailureRate:   failureRate,
		MemoryBytes:   memStats.Alloc,
		Healthy:       healthy,
	}
}
