package snapshotmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelcast/tunnelcast/internal/wire"
)

func arc(level, rad float64) wire.ArcSegment {
	return wire.ArcSegment{Level: level, RadX: rad}
}

func snapAt(frame uint64, t int64, level, rad float64) wire.Snapshot {
	return wire.Snapshot{
		FrameNumber: frame,
		Time:        wire.Timestamp(t),
		Layers:      []wire.Layer{{arc(level, rad)}},
	}
}

// S1 - Empty manager.
func TestS1EmptyManagerNoData(t *testing.T) {
	m := NewManager()
	res := m.Get(0.0)
	assert.Equal(t, NoData, res.Kind)
}

// S2 - Single older snapshot.
func TestS2SingleOlderSnapshot(t *testing.T) {
	m := NewManager()
	s := snapAt(0, 0, 0.2, 0.3)
	m.Insert(s)

	res := m.Get(1.0)
	assert.Equal(t, MissingNewer, res.Kind)
	assert.True(t, wire.EqualLayer(s.Layers[0], res.Layers[0]))

	w, ok := m.Watermark()
	require.True(t, ok)
	assert.Equal(t, wire.Timestamp(0), w)
}

// S3 - Single newer snapshot.
func TestS3SingleNewerSnapshot(t *testing.T) {
	m := NewManager()
	s := snapAt(0, 10, 0.2, 0.3)
	m.Insert(s)

	res := m.Get(1.0)
	assert.Equal(t, MissingOlder, res.Kind)
	assert.True(t, wire.EqualLayer(s.Layers[0], res.Layers[0]))
	_, ok := m.Watermark()
	assert.False(t, ok, "watermark must not advance on MissingOlder")
}

// S4 - Two-frame exact hit and bracketed interpolation.
func TestS4TwoFrameExactHit(t *testing.T) {
	m := NewManager()
	a := snapAt(0, 0, 0.0, 0.0)
	b := snapAt(1, 10, 1.0, 1.0)
	m.Insert(a)
	m.Insert(b)

	res := m.Get(10.0)
	assert.Equal(t, Good, res.Kind)
	assert.True(t, wire.EqualLayer(b.Layers[0], res.Layers[0]))

	res = m.Get(0.0)
	assert.Equal(t, Good, res.Kind)
	assert.True(t, wire.EqualLayer(a.Layers[0], res.Layers[0]))

	res = m.Get(5.0)
	assert.Equal(t, Good, res.Kind)
	expectedAlpha := (5.0 - 10.0) / (10.0 - 0.0) // == -0.5
	expected := wire.InterpolateLayer(a.Layers[0], b.Layers[0], expectedAlpha)
	assert.True(t, wire.EqualLayer(expected, res.Layers[0]))
}

// S5 - Unordered insertion.
func TestS5UnorderedInsertion(t *testing.T) {
	m := NewManager()
	for _, tm := range []int64{10, 20, 30, 15} {
		m.Insert(snapAt(uint64(tm), tm, 0, 0))
	}

	require.Equal(t, 4, m.Len())
	want := []int64{30, 20, 15, 10}
	for i, w := range want {
		assert.Equal(t, wire.Timestamp(w), m.deque[i].Time)
	}
}

// S6 - Pruning.
func TestS6Pruning(t *testing.T) {
	m := NewManager()
	for _, tm := range []int64{0, 1, 2} {
		m.Insert(snapAt(uint64(tm), tm, 0, 0))
	}
	m.setWatermark(2)
	m.Prune()

	require.Equal(t, 1, m.Len())
	assert.Equal(t, wire.Timestamp(2), m.deque[0].Time)
}

// Testable Property 1: ordered insertion in arbitrary order yields a
// strictly descending deque.
func TestOrderedInsertionProperty(t *testing.T) {
	orders := [][]int64{
		{1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1},
		{3, 1, 4, 1 + 1, 5}, // distinct times only
		{100, 1, 50, 2, 75},
	}
	for _, order := range orders {
		m := NewManager()
		seen := map[int64]bool{}
		var distinct []int64
		for _, tm := range order {
			if seen[tm] {
				continue
			}
			seen[tm] = true
			distinct = append(distinct, tm)
			m.Insert(snapAt(uint64(tm), tm, 0, 0))
		}
		for i := 1; i < m.Len(); i++ {
			assert.Less(t, m.deque[i].Time, m.deque[i-1].Time)
		}
	}
}

// Testable Property 2: after any sequence of get() calls, the watermark
// is non-decreasing, including when a later query (12) brackets an older
// pair than an earlier one (25).
func TestPruningMonotonicityUnderTwoOrMoreSnapshots(t *testing.T) {
	m := NewManager()
	for _, tm := range []int64{0, 10, 20, 30} {
		m.Insert(snapAt(uint64(tm), tm, 0, 0))
	}

	var lastW wire.Timestamp
	haveLast := false
	for _, q := range []float64{5, 15, 25, 12, 28} {
		m.Get(q)
		w, ok := m.Watermark()
		if ok {
			if haveLast {
				assert.GreaterOrEqual(t, w, lastW)
			}
			lastW = w
			haveLast = true
		}
	}
}

// TestMissingNewerCreatesUnreachableBracket pins DESIGN.md Open Question
// 1: the single-snapshot MissingNewer branch sets W to that snapshot's
// time unconditionally. If a newer snapshot later arrives whose time is
// older than W but newer than the old front, the bracket it would form is
// unreachable because front.Time < tr triggers MissingNewer again instead
// of a bracket scan.
func TestMissingNewerCreatesUnreachableBracket(t *testing.T) {
	m := NewManager()
	m.Insert(snapAt(0, 0, 0, 0))

	res := m.Get(100.0) // advances W to 0 via MissingNewer
	assert.Equal(t, MissingNewer, res.Kind)
	w, _ := m.Watermark()
	assert.Equal(t, wire.Timestamp(0), w)

	// A later snapshot arrives with time 50: newer than the old front (0)
	// but still older than W would need to be for a bracket at t=100.
	m.Insert(snapAt(1, 50, 0, 0))

	res = m.Get(100.0)
	// Reproduces the source: still MissingNewer, not a bracket, because
	// front.Time (50) < tr (100) short-circuits before any bracket scan.
	assert.Equal(t, MissingNewer, res.Kind)
}

func TestGetRoundsFractionalTime(t *testing.T) {
	m := NewManager()
	m.Insert(snapAt(0, 5, 1, 1))
	res := m.Get(4.6) // rounds to 5
	assert.Equal(t, MissingOlder, res.Kind)
}
