package stage

import (
	"sync"
	"time"
)

// HeartbeatRecord is a progress signal from a running activity. Records are
// advisory and only feed liveness tracking and status output.
type HeartbeatRecord struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Worker    string    `json:"worker,omitempty"`
	Attempt   int       `json:"attempt"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HeartbeatSink receives emitted heartbeat records.
type HeartbeatSink func(HeartbeatRecord)

// Heartbeat reports activity progress. Progress is clamped to [0,1] and never
// moves backwards; records are emitted at most once per interval, plus once on
// completion. A nil *Heartbeat discards reports.
type Heartbeat struct {
	mu          sync.Mutex
	base        HeartbeatRecord
	minInterval time.Duration
	sink        HeartbeatSink
	now         func() time.Time

	progress  float64
	lastEmit  time.Time
	lastBeat  time.Time
	completed bool
}

// NewHeartbeat builds a reporter for one activity attempt.
func NewHeartbeat(runID, stageName, worker string, attempt int, minInterval time.Duration, sink HeartbeatSink) *Heartbeat {
	now := time.Now
	return &Heartbeat{
		base:        HeartbeatRecord{RunID: runID, Stage: stageName, Worker: worker, Attempt: attempt},
		minInterval: minInterval,
		sink:        sink,
		now:         now,
		lastBeat:    now(),
	}
}

// SetClock replaces the time source. Tests only.
func (h *Heartbeat) SetClock(now func() time.Time) {
	if h == nil || now == nil {
		return
	}
	h.mu.Lock()
	h.now = now
	h.lastBeat = now()
	h.mu.Unlock()
}

// Report records progress in [0,1] and reports whether a record was emitted.
func (h *Heartbeat) Report(progress float64, message string) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	now := h.now()
	h.lastBeat = now
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if progress > h.progress {
		h.progress = progress
	}
	final := h.progress >= 1 && !h.completed
	due := h.lastEmit.IsZero() || now.Sub(h.lastEmit) >= h.minInterval
	if !final && !due {
		h.mu.Unlock()
		return false
	}
	if final {
		h.completed = true
	}
	h.lastEmit = now
	record := h.base
	record.Progress = h.progress
	record.Message = message
	record.UpdatedAt = now
	sink := h.sink
	h.mu.Unlock()

	if sink != nil {
		sink(record)
	}
	return true
}

// ReportCount records progress as done out of total units.
func (h *Heartbeat) ReportCount(done, total int, message string) bool {
	if total <= 0 {
		return h.Report(0, message)
	}
	return h.Report(float64(done)/float64(total), message)
}

// Progress returns the highest progress reported so far.
func (h *Heartbeat) Progress() float64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// LastBeat returns when the activity last reported, emitted or not.
func (h *Heartbeat) LastBeat() time.Time {
	if h == nil {
		return time.Time{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastBeat
}
