// Package mixer implements the server-side layered mixer: a bank of
// beams, each with a level/bump/mask/video-routing configuration, that
// renders into per-video-channel layer lists.
//
// The actual parametric beam/tunnel generation and waveform/animation
// math are external collaborators out of scope here (see spec.md §1);
// this package provides the Mixer/Layer bookkeeping and render contract,
// plus a minimal deterministic demo beam standing in for the real
// generator in tests and the demo show driver.
package mixer

import (
	"math"

	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// NVideoChannels is the number of virtual video output channels a mixer
// can route layers to.
const NVideoChannels = 8

// VideoChannel identifies one virtual output, 0..NVideoChannels.
type VideoChannel int

// LayerIdx identifies one layer within a Mixer.
type LayerIdx int

// ClockBank is the external, already-synchronized set of named clocks
// (audio envelope, MIDI/OSC-derived beat clocks, etc.) a beam may consult
// while updating its state. Its contents are produced entirely by
// external collaborators out of scope here; this type exists only so the
// Mixer/Beam contract has somewhere to carry it.
type ClockBank map[string]float64

// Beam is the closed-variant contract a parametric tunnel generator must
// satisfy: advance its internal state by dt seconds, and render its
// current state as an ordered list of arc segments.
type Beam interface {
	UpdateState(dt float64, clocks ClockBank)
	Render() wire.Layer
}

// Layer pairs a beam with its mixing configuration: how bright it is, a
// momentary "bump" override, a mute-style mask, and which video channels
// it is routed to.
type Layer struct {
	Beam      Beam
	Level     float64 // unipolar [0, 1]
	Bump      bool
	Mask      bool
	VideoOuts map[VideoChannel]bool
}

func newLayer() *Layer {
	return &Layer{VideoOuts: map[VideoChannel]bool{}}
}

// Mixer owns an ordered bank of layers and renders them into per-channel
// arc segment lists.
type Mixer struct {
	Layers []*Layer
}

// NewMixer creates a mixer with n empty layers.
func NewMixer(n int) *Mixer {
	layers := make([]*Layer, n)
	for i := range layers {
		layers[i] = newLayer()
	}
	return &Mixer{Layers: layers}
}

// PutBeamInLayer installs beam into the layer at idx, replacing whatever
// was there.
func (m *Mixer) PutBeamInLayer(idx LayerIdx, beam Beam) {
	m.Layers[idx].Beam = beam
}

// SetLevel sets a layer's unipolar brightness level.
func (m *Mixer) SetLevel(idx LayerIdx, level float64) {
	m.Layers[idx].Level = level
}

// SetBump sets or clears a layer's momentary full-brightness override.
func (m *Mixer) SetBump(idx LayerIdx, bump bool) {
	m.Layers[idx].Bump = bump
}

// ToggleMask flips a layer's mute-style mask: a masked layer is skipped
// entirely during render regardless of level or bump.
func (m *Mixer) ToggleMask(idx LayerIdx) {
	l := m.Layers[idx]
	l.Mask = !l.Mask
}

// ToggleVideoChannel flips whether a layer's render output is routed to
// the given video channel.
func (m *Mixer) ToggleVideoChannel(idx LayerIdx, ch VideoChannel) {
	l := m.Layers[idx]
	l.VideoOuts[ch] = !l.VideoOuts[ch]
}

// UpdateState advances every layer's beam by dt seconds.
func (m *Mixer) UpdateState(dt float64, clocks ClockBank) {
	for _, l := range m.Layers {
		if l.Beam != nil {
			l.Beam.UpdateState(dt, clocks)
		}
	}
}

// Render produces, for each of the NVideoChannels virtual outputs, the
// ordered list of layers routed to it. A layer with level exactly 0 (and
// no bump) is skipped entirely rather than rendered and discarded, and a
// masked layer is always skipped. The nested [][]ArcSegment shape is kept
// on the wire per the design notes: any "look flattening" belongs to a
// step before snapshot construction, not here.
func (m *Mixer) Render(clocks ClockBank) [NVideoChannels][]wire.Layer {
	var out [NVideoChannels][]wire.Layer

	for _, l := range m.Layers {
		if l.Beam == nil || l.Mask {
			continue
		}
		level := l.Level
		if l.Bump {
			level = 1.0
		}
		if level == 0 {
			continue
		}

		rendered := scaleLayer(l.Beam.Render(), level)
		for ch := 0; ch < NVideoChannels; ch++ {
			if l.VideoOuts[VideoChannel(ch)] {
				out[ch] = append(out[ch], rendered)
			}
		}
	}

	return out
}

// scaleLayer applies a layer's brightness level to its segments' level
// field, so a dimmed layer dims every segment it contains.
func scaleLayer(layer wire.Layer, level float64) wire.Layer {
	out := make(wire.Layer, len(layer))
	for i, seg := range layer {
		seg.Level *= level
		out[i] = seg
	}
	return out
}

// DemoBeam is a minimal deterministic stand-in for a real parametric
// tunnel generator: a single arc segment whose hue and radius orbit at a
// fixed rate. It exists to exercise the mixer/show/transport pipeline end
// to end without depending on the out-of-scope animation math.
type DemoBeam struct {
	phase float64
}

// NewDemoBeam creates a DemoBeam starting at phase 0.
func NewDemoBeam() *DemoBeam {
	return &DemoBeam{}
}

// UpdateState advances the beam's phase at one full revolution every 4
// seconds.
func (b *DemoBeam) UpdateState(dt float64, _ ClockBank) {
	const revolutionSeconds = 4.0
	b.phase = math.Mod(b.phase+dt/revolutionSeconds, 1.0)
}

// Render emits a single orbiting arc segment.
func (b *DemoBeam) Render() wire.Layer {
	return wire.Layer{{
		Level:     1.0,
		Thickness: 0.1,
		Hue:       b.phase,
		Sat:       1.0,
		Val:       1.0,
		X:         0.5 + 0.3*math.Cos(2*math.Pi*b.phase),
		Y:         0.5 + 0.3*math.Sin(2*math.Pi*b.phase),
		RadX:      0.1,
		RadY:      0.1,
		Start:     0,
		Stop:      0.75,
		RotAngle:  b.phase,
	}}
}
