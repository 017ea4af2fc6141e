package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArc(level, radX float64) ArcSegment {
	return ArcSegment{
		Level: level, Thickness: 0.5, Hue: 0.1, Sat: 0.8, Val: 0.9,
		X: 1.0, Y: 2.0, RadX: radX, RadY: 0.4, Start: 0.0, Stop: 0.25, RotAngle: 0.0,
	}
}

func TestArcSegmentEqualApprox(t *testing.T) {
	a := sampleArc(0.2, 0.3)
	b := a
	b.Level += 1e-7
	assert.True(t, a.Equal(b), "within linear epsilon should be equal")

	c := a
	c.Level += 1e-4
	assert.False(t, a.Equal(c), "outside linear epsilon should not be equal")
}

func TestShortestArcWraps(t *testing.T) {
	// 0.95 to 0.05 is a short hop of +0.1 across the wrap, not -0.9.
	d := shortestArcDistance(0.95, 0.05)
	assert.InDelta(t, 0.1, d, 1e-9)
}

func TestShortestAngleInvariant(t *testing.T) {
	angles := []float64{0, 0.1, 0.25, 0.49, 0.5, 0.51, 0.75, 0.99}
	alphas := []float64{0, 0.25, 0.5, 0.75, 1}
	for _, a := range angles {
		for _, b := range angles {
			for _, alpha := range alphas {
				v := LerpAngle(a, b, alpha)
				d := shortestArcDistance(a, v)
				// d already lies in [-0.5, 0.5); take its magnitude.
				assert.LessOrEqual(t, absMod(d), 0.5+1e-9)
			}
		}
	}
}

func absMod(d float64) float64 {
	if d < 0 {
		return -d
	}
	return d
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := Snapshot{
		FrameNumber: 42,
		Time:        Timestamp(1234),
		Layers: []Layer{
			{sampleArc(0.1, 0.2), sampleArc(0.3, 0.4)},
			{sampleArc(0.5, 0.6)},
		},
	}

	b, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	got, err := DecodeSnapshot(b)
	require.NoError(t, err)
	assert.True(t, snap.Equal(got), "round-tripped snapshot should be approximately equal")
}

func TestFloat64RoundTrip(t *testing.T) {
	b, err := EncodeFloat64(123.456)
	require.NoError(t, err)

	got, err := DecodeFloat64(b)
	require.NoError(t, err)
	assert.InDelta(t, 123.456, got, 1e-9)
}

func TestDecodeSnapshotBadBytes(t *testing.T) {
	_, err := DecodeSnapshot([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestInterpolateLayersDifferentLengthSnaps(t *testing.T) {
	a := []Layer{{sampleArc(0, 0)}}
	b := []Layer{{sampleArc(1, 1)}, {sampleArc(2, 2)}}

	low := InterpolateLayers(a, b, 0.2)
	assert.Equal(t, a, low)

	high := InterpolateLayers(a, b, 0.8)
	assert.Equal(t, b, high)
}
