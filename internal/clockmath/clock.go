// Package clockmath implements the client-side smoothed clock: a
// linearly-blended pair of remote-time estimates that provides a
// continuous notion of "now" across time-sync resynchronizations.
package clockmath

import (
	"time"

	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// settleRate is how fast alpha rises toward 1, in units of alpha per
// second. The one-second settle window eliminates observable step
// discontinuities when the sync estimate is refined.
const settleRate = 1.0

// ClockEstimate anchors a remote-time estimate to a local instant: given
// any later local instant L, the estimated remote time is
// remote_time_at_reference + (L - local_reference).
type ClockEstimate struct {
	LocalReference        time.Time
	RemoteTimeAtReference float64 // seconds
}

// Now projects this estimate forward to local instant L and returns the
// estimated remote time, in milliseconds.
func (e ClockEstimate) Now(l time.Time) wire.Timestamp {
	elapsed := l.Sub(e.LocalReference).Seconds()
	return wire.FromSeconds(e.RemoteTimeAtReference + elapsed)
}

func (e ClockEstimate) nowSeconds(l time.Time) float64 {
	elapsed := l.Sub(e.LocalReference).Seconds()
	return e.RemoteTimeAtReference + elapsed
}

// SmoothedClock holds the previous and current ClockEstimate and a blend
// factor alpha in [0, 1]. State machine: Settled (alpha=1) --update-->
// Settling (alpha=0) --tick*--> Settled.
type SmoothedClock struct {
	prev  ClockEstimate
	curr  ClockEstimate
	alpha float64
}

// NewSmoothedClock creates a clock settled on the given initial estimate.
func NewSmoothedClock(initial ClockEstimate) *SmoothedClock {
	return &SmoothedClock{prev: initial, curr: initial, alpha: 1}
}

// UpdateCurrent records a freshly synchronized estimate, resetting alpha to
// 0 so the clock begins blending from the old projection toward the new
// one over the settle window.
func (c *SmoothedClock) UpdateCurrent(estimate ClockEstimate) {
	c.prev = c.curr
	c.curr = estimate
	c.alpha = 0
}

// Tick advances the blend factor by dt (seconds) toward 1, clamped.
func (c *SmoothedClock) Tick(dtSeconds float64) {
	c.alpha += dtSeconds * settleRate
	if c.alpha > 1 {
		c.alpha = 1
	}
}

// Now returns the blended remote-time estimate at local instant l, in
// milliseconds. If alpha == 1 the clock is fully settled and returns
// curr's projection unblended; otherwise it linearly blends prev and curr.
func (c *SmoothedClock) Now(l time.Time) wire.Timestamp {
	if c.alpha >= 1 {
		return c.curr.Now(l)
	}
	prevS := c.prev.nowSeconds(l)
	currS := c.curr.nowSeconds(l)
	return wire.FromSeconds(wire.Lerp(prevS, currS, c.alpha))
}

// Alpha reports the current blend factor, primarily for tests.
func (c *SmoothedClock) Alpha() float64 {
	return c.alpha
}
