// CLAUDE:SUMMARY Mutex-guarded counters for the render backend, exposed as a point-in-time Snapshot.
package browser

import (
	"sync"
	"time"
)

// Metrics accumulates backend statistics. All methods are safe for
// concurrent use.
type Metrics struct {
	mu sync.Mutex

	started       time.Time
	total         int64
	failed        int64
	restarts      int64
	durationSum   time.Duration
	queued        int
	active        int
	lastHealth    time.Time
	lastHealthOK  bool
	healthChecked bool
}

// Snapshot is a point-in-time copy of the backend counters.
type Snapshot struct {
	Uptime          time.Duration
	Conversions     int64
	Failed          int64
	Restarts        int64
	AverageDuration time.Duration
	Queued          int
	Active          int
	LastHealthCheck time.Time
	LastHealthOK    bool
}

func (s *Metrics) resetStart() {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
}

func (s *Metrics) recordRestart() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

func (s *Metrics) recordHealthCheck(ok bool) {
	s.mu.Lock()
	s.lastHealth = time.Now()
	s.lastHealthOK = ok
	s.healthChecked = true
	s.mu.Unlock()
}

func (s *Metrics) recordSuccess(d time.Duration) {
	s.mu.Lock()
	s.total++
	s.durationSum += d
	s.mu.Unlock()
}

func (s *Metrics) recordFailure() {
	s.mu.Lock()
	s.total++
	s.failed++
	s.mu.Unlock()
}

func (s *Metrics) enterQueue() {
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()
}

func (s *Metrics) leaveQueue() {
	s.mu.Lock()
	s.queued--
	s.mu.Unlock()
}

func (s *Metrics) startActive() {
	s.mu.Lock()
	s.queued--
	s.active++
	s.mu.Unlock()
}

func (s *Metrics) stopActive() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

func (s *Metrics) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Conversions: s.total,
		Failed:      s.failed,
		Restarts:    s.restarts,
		Queued:      s.queued,
		Active:      s.active,
	}
	if !s.started.IsZero() {
		snap.Uptime = time.Since(s.started)
	}
	succeeded := s.total - s.failed
	if succeeded > 0 {
		snap.AverageDuration = s.durationSum / time.Duration(succeeded)
	}
	if s.healthChecked {
		snap.LastHealthCheck = s.lastHealth
		snap.LastHealthOK = s.lastHealthOK
	}
	return snap
}
