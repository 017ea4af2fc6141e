// Package wire defines the on-the-wire data model shared between the show
// driver and its remote renderers, and the self-describing binary codec
// used to serialize it.
package wire

import "math"

// Timestamp is a 64-bit value in milliseconds relative to the server's
// monotonic reference. It is carried as an integer on the wire, but
// interpolation and clock arithmetic work in fractional seconds.
type Timestamp int64

// FromSeconds converts a fractional-seconds value to a millisecond
// Timestamp, rounding to the nearest millisecond.
func FromSeconds(s float64) Timestamp {
	return Timestamp(math.Round(s * 1000))
}

// Seconds converts the Timestamp back to fractional seconds.
func (t Timestamp) Seconds() float64 {
	return float64(t) / 1000
}

const angleEqEps = 1e-6
const linearEqEps = 1e-6

// ArcSegment is the atomic draw primitive: a single parameterized
// elliptical arc. Field order is pinned for wire stability; it matches the
// order listed in the data model.
type ArcSegment struct {
	Level    float64 `cbor:"0,keyasint"`
	Thickness float64 `cbor:"1,keyasint"`
	Hue      float64 `cbor:"2,keyasint"`
	Sat      float64 `cbor:"3,keyasint"`
	Val      float64 `cbor:"4,keyasint"`
	X        float64 `cbor:"5,keyasint"`
	Y        float64 `cbor:"6,keyasint"`
	RadX     float64 `cbor:"7,keyasint"`
	RadY     float64 `cbor:"8,keyasint"`
	Start    float64 `cbor:"9,keyasint"`
	Stop     float64 `cbor:"10,keyasint"`
	RotAngle float64 `cbor:"11,keyasint"`
}

// Layer is an ordered list of arc segments, drawn in order; within a
// Snapshot, later layers are drawn over earlier ones.
type Layer []ArcSegment

// Snapshot is a complete per-channel draw command list for a single point
// in server time.
type Snapshot struct {
	FrameNumber uint64   `cbor:"0,keyasint"`
	Time        Timestamp `cbor:"1,keyasint"`
	Layers      []Layer  `cbor:"2,keyasint"`
}

func approxEqualLinear(a, b float64) bool {
	return math.Abs(a-b) <= linearEqEps
}

// shortestArcDistance returns the signed shortest distance from a to b on
// the unit circle, in [-0.5, 0.5).
func shortestArcDistance(a, b float64) float64 {
	d := math.Mod(b-a, 1)
	d = math.Mod(d+1.5, 1) - 0.5
	return d
}

func approxEqualAngle(a, b float64) bool {
	d := shortestArcDistance(a, b)
	return math.Abs(d) <= angleEqEps
}

// Equal reports whether two ArcSegments are equal within the approximate
// equality contract: linear fields within 1e-6, angle fields within 1e-6
// of minimum included angle on the unit circle.
func (s ArcSegment) Equal(o ArcSegment) bool {
	return approxEqualLinear(s.Level, o.Level) &&
		approxEqualLinear(s.Thickness, o.Thickness) &&
		approxEqualAngle(s.Hue, o.Hue) &&
		approxEqualLinear(s.Sat, o.Sat) &&
		approxEqualLinear(s.Val, o.Val) &&
		approxEqualLinear(s.X, o.X) &&
		approxEqualLinear(s.Y, o.Y) &&
		approxEqualLinear(s.RadX, o.RadX) &&
		approxEqualLinear(s.RadY, o.RadY) &&
		approxEqualAngle(s.Start, o.Start) &&
		approxEqualAngle(s.Stop, o.Stop) &&
		approxEqualAngle(s.RotAngle, o.RotAngle)
}

// EqualLayer reports whether two layers have the same length and
// pairwise-equal segments.
func EqualLayer(a, b Layer) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether two Snapshots are equal: same frame number, same
// time, and pairwise-equal layers using the approximate ArcSegment
// equality contract.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.FrameNumber != o.FrameNumber || s.Time != o.Time {
		return false
	}
	if len(s.Layers) != len(o.Layers) {
		return false
	}
	for i := range s.Layers {
		if !EqualLayer(s.Layers[i], o.Layers[i]) {
			return false
		}
	}
	return true
}

// Lerp linearly interpolates a linear field from a to b at factor alpha.
// alpha is not clamped: the snapshot manager's bracketed interpolation
// deliberately passes negative values (see the snapshotmgr package).
func Lerp(a, b, alpha float64) float64 {
	return a + alpha*(b-a)
}

// LerpAngle interpolates an angular field (hue, start, stop, rot_angle)
// along the shorter arc on the unit interval.
func LerpAngle(a, b, alpha float64) float64 {
	return a + alpha*shortestArcDistance(a, b)
}

// InterpolateArcSegment produces the arc segment at factor alpha between a
// and b, linear for magnitude fields and shortest-arc for angular fields.
func InterpolateArcSegment(a, b ArcSegment, alpha float64) ArcSegment {
	return ArcSegment{
		Level:     Lerp(a.Level, b.Level, alpha),
		Thickness: Lerp(a.Thickness, b.Thickness, alpha),
		Hue:       LerpAngle(a.Hue, b.Hue, alpha),
		Sat:       Lerp(a.Sat, b.Sat, alpha),
		Val:       Lerp(a.Val, b.Val, alpha),
		X:         Lerp(a.X, b.X, alpha),
		Y:         Lerp(a.Y, b.Y, alpha),
		RadX:      Lerp(a.RadX, b.RadX, alpha),
		RadY:      Lerp(a.RadY, b.RadY, alpha),
		Start:     LerpAngle(a.Start, b.Start, alpha),
		Stop:      LerpAngle(a.Stop, b.Stop, alpha),
		RotAngle:  LerpAngle(a.RotAngle, b.RotAngle, alpha),
	}
}

// InterpolateLayer interpolates two layers pointwise if they have the same
// length; otherwise it snaps to the nearer endpoint rather than fabricate
// segments (alpha < 0.5 keeps a, else keeps b).
func InterpolateLayer(a, b Layer, alpha float64) Layer {
	if len(a) != len(b) {
		if alpha < 0.5 {
			return a
		}
		return b
	}
	out := make(Layer, len(a))
	for i := range a {
		out[i] = InterpolateArcSegment(a[i], b[i], alpha)
	}
	return out
}

// InterpolateLayers interpolates two layer-of-segments sequences pointwise
// if they have the same outer length; otherwise snaps to the nearer
// endpoint (alpha < 0.5 keeps a, else keeps b).
func InterpolateLayers(a, b []Layer, alpha float64) []Layer {
	if len(a) != len(b) {
		if alpha < 0.5 {
			return a
		}
		return b
	}
	out := make([]Layer, len(a))
	for i := range a {
		out[i] = InterpolateLayer(a[i], b[i], alpha)
	}
	return out
}
