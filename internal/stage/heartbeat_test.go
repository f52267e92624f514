package stage_test

import (
	"testing"
	"time"

	"framepipe/internal/stage"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func collect(records *[]stage.HeartbeatRecord) stage.HeartbeatSink {
	return func(r stage.HeartbeatRecord) { *records = append(*records, r) }
}

func TestHeartbeatRateLimits(t *testing.T) {
	clock := newFakeClock()
	var records []stage.HeartbeatRecord
	hb := stage.NewHeartbeat("run-1", "extract", "local", 1, time.Second, collect(&records))
	hb.SetClock(clock.Now)

	if !hb.Report(0.1, "") {
		t.Fatal("expected first report to emit")
	}
	clock.Advance(100 * time.Millisecond)
	if hb.Report(0.2, "") {
		t.Fatal("expected report inside the interval to be suppressed")
	}
	clock.Advance(time.Second)
	if !hb.Report(0.3, "") {
		t.Fatal("expected report after the interval to emit")
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Progress != 0.3 || records[1].RunID != "run-1" || records[1].Stage != "extract" {
		t.Fatalf("unexpected record %+v", records[1])
	}
}

func TestHeartbeatIsMonotonicAndClamped(t *testing.T) {
	clock := newFakeClock()
	var records []stage.HeartbeatRecord
	hb := stage.NewHeartbeat("run-1", "process", "", 1, 0, collect(&records))
	hb.SetClock(clock.Now)

	hb.Report(0.5, "")
	hb.Report(0.2, "")
	hb.Report(-3, "")
	if got := hb.Progress(); got != 0.5 {
		t.Fatalf("expected progress to stay at 0.5, got %v", got)
	}
	for _, r := range records {
		if r.Progress != 0.5 {
			t.Fatalf("expected emitted progress to never decrease, got %v", r.Progress)
		}
	}
	hb.Report(7, "")
	if got := hb.Progress(); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
}

func TestHeartbeatAlwaysEmitsCompletion(t *testing.T) {
	clock := newFakeClock()
	var records []stage.HeartbeatRecord
	hb := stage.NewHeartbeat("run-1", "extract", "", 1, time.Hour, collect(&records))
	hb.SetClock(clock.Now)

	hb.ReportCount(10, 30, "")
	if hb.ReportCount(20, 30, "") {
		t.Fatal("expected mid-interval report to be suppressed")
	}
	if !hb.ReportCount(30, 30, "done") {
		t.Fatal("expected completion to emit regardless of interval")
	}
	if hb.ReportCount(30, 30, "") {
		t.Fatal("expected completion to emit only once")
	}
	if len(records) != 2 || records[1].Progress != 1 || records[1].Message != "done" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestHeartbeatTracksLastBeatEvenWhenSuppressed(t *testing.T) {
	clock := newFakeClock()
	hb := stage.NewHeartbeat("run-1", "extract", "", 1, time.Hour, nil)
	hb.SetClock(clock.Now)
	hb.Report(0.1, "")
	clock.Advance(time.Minute)
	hb.Report(0.2, "")
	if !hb.LastBeat().Equal(clock.Now()) {
		t.Fatalf("expected last beat %s, got %s", clock.Now(), hb.LastBeat())
	}
}

func TestNilHeartbeatIsSafe(t *testing.T) {
	var hb *stage.Heartbeat
	if hb.Report(0.5, "") {
		t.Fatal("nil heartbeat should not emit")
	}
	if hb.Progress() != 0 || !hb.LastBeat().IsZero() {
		t.Fatal("nil heartbeat should report zero values")
	}
}
