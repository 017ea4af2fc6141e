// Package show implements the two show drivers: the server-side tick loop
// that advances the mixer and publishes per-channel snapshots, and the
// client-side loop that keeps a smoothed clock and snapshot buffer fed
// and renders from them. It also implements the client's remote-admin
// handler (served over a reqrep endpoint) and the server's HTTP debug
// status page.
package show

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/mixer"
	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/pubsub"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// ControlFunc is a mutation submitted to the server driver to apply
// between ticks (set a layer's level, swap a beam in, toggle a mask). It
// runs on the driver's own goroutine, so it may freely call Mixer methods
// without additional locking.
type ControlFunc func(*mixer.Mixer)

// maxPendingControls bounds how many control messages the driver applies
// per tick, so a command flood cannot starve rendering.
const maxPendingControls = 64

// ServerDriver runs the per-tick update/render/publish loop: advance the
// mixer, stamp a frame, and publish one snapshot per video channel (a
// channel with no routed layers gets a snapshot with no layers). Rendering is decoupled from publishing by a drop-latest queue
// per channel, following the original's get_frame backlog-draining
// pattern: a slow publish can never make the tick loop itself fall
// behind, and only the most recent frame is ever in flight.
type ServerDriver struct {
	mixer      *mixer.Mixer
	clock      timeutil.Clock
	publisher  *pubsub.Publisher
	tickPeriod time.Duration

	controlCh chan ControlFunc

	outbox [mixer.NVideoChannels]chan wire.Snapshot

	frameNumber atomic.Uint64
	startedAt   time.Time

	missed *MissedFrameLogger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewServerDriver creates a server driver that will tick at tickPeriod,
// advancing m and publishing its render output through pub.
func NewServerDriver(m *mixer.Mixer, clock timeutil.Clock, pub *pubsub.Publisher, tickPeriod time.Duration) *ServerDriver {
	d := &ServerDriver{
		mixer:      m,
		clock:      clock,
		publisher:  pub,
		tickPeriod: tickPeriod,
		controlCh:  make(chan ControlFunc, maxPendingControls),
		stopCh:     make(chan struct{}),
		missed:     NewMissedFrameLogger(clock, time.Second),
	}
	for i := range d.outbox {
		d.outbox[i] = make(chan wire.Snapshot, 1)
	}
	return d
}

// Submit enqueues a control mutation to be applied before the next tick.
// If the queue is full the oldest pending mutation is dropped in favor of
// the new one, since control commands represent current desired state
// rather than an event log.
func (d *ServerDriver) Submit(fn ControlFunc) {
	pushLatest(d.controlCh, fn)
}

// Start launches the tick loop and one publish worker per video channel.
func (d *ServerDriver) Start() error {
	if d.running.Swap(true) {
		return fmt.Errorf("show: server driver already running")
	}
	d.startedAt = d.clock.Now()

	for ch := range d.outbox {
		d.wg.Add(1)
		go d.publishWorker(ch)
	}

	d.wg.Add(1)
	go d.tickLoop()
	return nil
}

// FrameNumber reports the most recently stamped frame number, for tests
// and admin/debug surfaces.
func (d *ServerDriver) FrameNumber() uint64 {
	return d.frameNumber.Load()
}

// Stop halts the tick loop and publish workers and waits for them to
// exit.
func (d *ServerDriver) Stop() {
	if !d.running.Swap(false) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

func (d *ServerDriver) tickLoop() {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(d.tickPeriod)
	defer ticker.Stop()

	last := d.clock.Now()

	for {
		select {
		case <-d.stopCh:
			return
		case now := <-ticker.C():
			dt := now.Sub(last).Seconds()
			last = now
			d.applyPendingControls()

			clocks := mixer.ClockBank{}
			d.mixer.UpdateState(dt, clocks)

			frameNo := d.frameNumber.Add(1)
			ts := wire.FromSeconds(d.clock.Since(d.startedAt).Seconds())
			rendered := d.mixer.Render(clocks)

			for ch, layers := range rendered {
				snap := wire.Snapshot{FrameNumber: frameNo, Time: ts, Layers: layers}
				if full := pushLatest(d.outbox[ch], snap); full {
					d.missed.RecordMiss()
				}
			}
		}
	}
}

func (d *ServerDriver) applyPendingControls() {
	for i := 0; i < maxPendingControls; i++ {
		select {
		case fn := <-d.controlCh:
			fn(d.mixer)
		default:
			return
		}
	}
}

func (d *ServerDriver) publishWorker(channel int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case snap := <-d.outbox[channel]:
			encoded, err := wire.EncodeSnapshot(snap)
			if err != nil {
				monitoring.RateLimited("show-encode-failed", time.Second,
					"show: encoding snapshot for channel %d: %v", channel, err)
				continue
			}
			d.publisher.Publish(byte(channel), encoded)
		}
	}
}

// pushLatest sends v on ch without blocking, discarding the oldest queued
// value if the channel was already full (for the capacity-1 outboxes, the
// one value previously queued). Reports whether a queued value was
// discarded.
func pushLatest[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return false
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
	return true
}
