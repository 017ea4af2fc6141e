package show

import (
	"sync"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
)

// MissedFrameLogger accumulates a count of dropped/missed frames and
// emits a single summary line at most once per interval, rather than one
// line per miss. This is distinct from monitoring.RateLimited (which
// silently discards suppressed calls): here the suppressed count itself
// is the useful signal, so it is carried forward into the next emission.
type MissedFrameLogger struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	interval   time.Duration
	lastReport time.Time
	missed     uint64
}

// NewMissedFrameLogger creates a logger that reports at most once per
// interval.
func NewMissedFrameLogger(clock timeutil.Clock, interval time.Duration) *MissedFrameLogger {
	return &MissedFrameLogger{clock: clock, interval: interval, lastReport: clock.Now()}
}

// RecordMiss registers one missed frame, emitting a summary line and
// resetting the count if at least one interval has elapsed since the last
// report.
func (l *MissedFrameLogger) RecordMiss() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.missed++
	now := l.clock.Now()
	if now.Sub(l.lastReport) < l.interval {
		return
	}

	monitoring.Logf("show: missed %d frame(s) in the last %s", l.missed, l.interval)
	l.missed = 0
	l.lastReport = now
}

// Pending reports the current unreported miss count, for tests.
func (l *MissedFrameLogger) Pending() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.missed
}

// RenderIssueLogger is the client-side counterpart: it accumulates
// render-loop issues (missing-newer stalls, missing-older startup gaps,
// bracket errors) per kind and emits at most one summary line per kind
// per interval, so a sustained stall produces one line a second rather
// than one per render tick.
type RenderIssueLogger struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	interval   time.Duration
	lastReport map[string]time.Time
	counts     map[string]uint64
}

// NewRenderIssueLogger creates a render issue logger that reports at most
// once per interval per distinct kind.
func NewRenderIssueLogger(clock timeutil.Clock, interval time.Duration) *RenderIssueLogger {
	return &RenderIssueLogger{
		clock:      clock,
		interval:   interval,
		lastReport: map[string]time.Time{},
		counts:     map[string]uint64{},
	}
}

// Record registers one occurrence of the named issue kind.
func (l *RenderIssueLogger) Record(kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counts[kind]++
	now := l.clock.Now()
	last, ok := l.lastReport[kind]
	if ok && now.Sub(last) < l.interval {
		return
	}

	monitoring.Logf("show: %s occurred %d time(s) in the last %s", kind, l.counts[kind], l.interval)
	l.counts[kind] = 0
	l.lastReport[kind] = now
}

// Pending reports the current unreported count for kind, for tests.
func (l *RenderIssueLogger) Pending(kind string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}
