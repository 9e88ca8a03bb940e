package monitor

import (
	"sync"
	"time"
)

// HealthStatus summarises how well the process source has been behaving.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// failureThreshold is the number of consecutive failures after which a
// source is reported as failed.
const failureThreshold = 3

// sourceHealth tracks consecutive enumeration failures and recovered match
// panics. Written by the scan loop and read by Scanner.Health from other
// goroutines, so fields are guarded by mu.
type sourceHealth struct {
	mu                sync.Mutex
	scanFailures      int
	lastScanErr       string
	lastScanFail      time.Time
	matchPanics       int
	lastEmittedStatus HealthStatus
}

func newSourceHealth() *sourceHealth {
	return &sourceHealth{lastEmittedStatus: StatusHealthy}
}

func (h *sourceHealth) recordScanSuccess(panics int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scanFailures = 0
	h.lastScanErr = ""
	h.matchPanics = panics
}

func (h *sourceHealth) recordScanFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scanFailures++
	h.lastScanErr = err.Error()
	h.lastScanFail = time.Now()
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *sourceHealth) statusLocked(threshold int) HealthStatus {
	if h.scanFailures >= threshold {
		return StatusFailed
	}
	if h.scanFailures > 0 || h.matchPanics > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *sourceHealth) status(threshold int) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(threshold)
}

// transition returns the current status and whether it differs from the
// last one returned by transition.
func (h *sourceHealth) transition(threshold int) (HealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := h.statusLocked(threshold)
	changed := status != h.lastEmittedStatus
	h.lastEmittedStatus = status
	return status, changed
}

// SourceHealth is a point-in-time copy of the scanner's source health.
type SourceHealth struct {
	Status       HealthStatus `json:"status"`
	ScanFailures int          `json:"scanFailures"`
	MatchPanics  int          `json:"matchPanics"`
	LastError    string       `json:"lastError,omitempty"`
	LastFailure  time.Time    `json:"lastFailure,omitempty"`
}

func (h *sourceHealth) snapshot(threshold int) SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return SourceHealth{
		Status:       h.statusLocked(threshold),
		ScanFailures: h.scanFailures,
		MatchPanics:  h.matchPanics,
		LastError:    h.lastScanErr,
		LastFailure:  h.lastScanFail,
	}
}
