// Package snapshotmgr implements the client's snapshot buffer: a
// time-ordered, bounded deque of received frames providing bracketed
// temporal interpolation against the smoothed clock, with explicit
// degraded-mode signaling.
package snapshotmgr

import (
	"math"

	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// ResultKind identifies which branch of Manager.Get produced a GetResult.
type ResultKind int

const (
	// NoData means the buffer is empty.
	NoData ResultKind = iota
	// Good means an exact hit or a bracketed interpolation was produced.
	Good
	// MissingNewer means the requested time is newer than every buffered
	// snapshot; the server is behind. The caller should hold its last
	// good frame.
	MissingNewer
	// MissingOlder means the requested time is older than every buffered
	// snapshot (the buffer has not yet accumulated enough history).
	MissingOlder
	// Error means no bracketing pair was found despite there being two or
	// more snapshots - an internal ordering bug. Reaching this branch
	// under correct insertion indicates a defect, not expected input.
	Error
)

// GetResult is the outcome of Manager.Get.
type GetResult struct {
	Kind   ResultKind
	Layers []wire.Layer // valid for Good, MissingNewer, MissingOlder
	Times  []wire.Timestamp // valid for Error: the full set of buffered times
}

// Manager owns a deque of Snapshots ordered by time descending (newest at
// the front) and a watermark of the oldest time it will still consider
// relevant. Not safe for concurrent use: callers must serialize insert and
// get behind a single lock, per the shared-resource policy.
type Manager struct {
	deque          []wire.Snapshot
	oldestRelevant wire.Timestamp
	haveWatermark  bool
}

// NewManager creates an empty snapshot manager.
func NewManager() *Manager {
	return &Manager{}
}

// Insert adds a snapshot, preserving strict descending order by time. If
// it is newer than the current front it is pushed directly; otherwise a
// linear scan from the front finds its insertion point.
func (m *Manager) Insert(snap wire.Snapshot) {
	if len(m.deque) == 0 || snap.Time > m.deque[0].Time {
		m.deque = append([]wire.Snapshot{snap}, m.deque...)
		return
	}
	idx := len(m.deque)
	for i, s := range m.deque {
		if snap.Time > s.Time {
			idx = i
			break
		}
	}
	m.deque = append(m.deque, wire.Snapshot{})
	copy(m.deque[idx+1:], m.deque[idx:])
	m.deque[idx] = snap
}

// Prune evicts every snapshot older than the watermark from the back.
func (m *Manager) Prune() {
	if !m.haveWatermark {
		return
	}
	n := len(m.deque)
	for n > 0 && m.deque[n-1].Time < m.oldestRelevant {
		n--
	}
	m.deque = m.deque[:n]
}

// Update drains nothing on its own (insertion is driven by the receiver
// loop calling Insert directly) but applies the staleness prune; callers
// invoke it once per display tick, mirroring the original's update().
func (m *Manager) Update() {
	m.Prune()
}

// setWatermark advances the watermark to t. It never moves the watermark
// backwards, so it is non-decreasing across any sequence of Get calls. The
// single-snapshot MissingNewer branch still advances it to that snapshot's
// time (see DESIGN.md Open Question 1).
func (m *Manager) setWatermark(t wire.Timestamp) {
	if m.haveWatermark && t < m.oldestRelevant {
		return
	}
	m.oldestRelevant = t
	m.haveWatermark = true
}

// Watermark returns the current oldest-relevant time, for tests asserting
// Testable Property 2 (pruning monotonicity).
func (m *Manager) Watermark() (wire.Timestamp, bool) {
	return m.oldestRelevant, m.haveWatermark
}

// Len reports the number of buffered snapshots, for tests.
func (m *Manager) Len() int {
	return len(m.deque)
}

// Get retrieves the interpolated (or bracketing) layers for time t, a
// possibly-fractional millisecond Timestamp. See spec §4.7 for the full
// case analysis this implements.
func (m *Manager) Get(t float64) GetResult {
	tr := wire.Timestamp(math.Round(t))

	switch len(m.deque) {
	case 0:
		return GetResult{Kind: NoData}

	case 1:
		only := m.deque[0]
		if only.Time < tr {
			m.setWatermark(only.Time)
			return GetResult{Kind: MissingNewer, Layers: only.Layers}
		}
		return GetResult{Kind: MissingOlder, Layers: only.Layers}
	}

	front := m.deque[0]
	if front.Time < tr {
		// Server is behind; watermark is left unchanged.
		return GetResult{Kind: MissingNewer, Layers: front.Layers}
	}

	for i := 0; i < len(m.deque)-1; i++ {
		newer := m.deque[i]
		older := m.deque[i+1]

		if tr == newer.Time {
			m.setWatermark(newer.Time)
			return GetResult{Kind: Good, Layers: newer.Layers}
		}
		if tr == older.Time {
			m.setWatermark(older.Time)
			return GetResult{Kind: Good, Layers: older.Layers}
		}
		if older.Time < tr && tr < newer.Time {
			// Deliberately negative: t <= newer.time, so this is <= 0.
			alpha := (t - float64(newer.Time)) / float64(newer.Time-older.Time)
			m.setWatermark(older.Time)
			return GetResult{Kind: Good, Layers: wire.InterpolateLayers(older.Layers, newer.Layers, alpha)}
		}
	}

	times := make([]wire.Timestamp, len(m.deque))
	for i, s := range m.deque {
		times[i] = s.Time
	}
	return GetResult{Kind: Error, Times: times}
}
