package show

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/clockmath"
	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/pubsub"
	"github.com/tunnelcast/tunnelcast/internal/snapshotmgr"
	"github.com/tunnelcast/tunnelcast/internal/timesync"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// RenderSink is the client's drawing collaborator. There is no windowing
// or GPU library in this module's dependency stack, so the real
// implementation (opening a window, rasterizing arc segments, presenting
// a frame) is an external collaborator out of scope here; this interface
// is the seam a real renderer plugs into.
type RenderSink interface {
	Render(layers []wire.Layer)
}

// The Issue* constants name the distinct RenderIssueLogger counters a
// ClientDriver reports.
const (
	IssueMissingNewer = "missing-newer"
	IssueMissingOlder = "missing-older"
	IssueBracketError = "bracket-error"
)

// ClientDriver runs the client's three background loops: receive
// snapshots into the buffer, periodically resynchronize the smoothed
// clock, and render at a fixed period using the render-delayed smoothed
// time. Grounded on the original's receive_snapshots/update_timesync/show
// thread split.
type ClientDriver struct {
	clock        timeutil.Clock
	sub          *pubsub.Subscriber
	timesync     *timesync.Client
	smoothed     *clockmath.SmoothedClock
	manager      *snapshotmgr.Manager
	sink         RenderSink
	renderPeriod time.Duration
	renderDelay  time.Duration
	resyncPeriod time.Duration
	issues       *RenderIssueLogger

	mu sync.Mutex // guards smoothed and manager, shared across the three loops

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	panicked atomic.Bool
}

// NewClientDriver wires the receive/resync/render loops together. initial
// is the ClockEstimate produced by the initial (blocking) Synchronize
// call performed before the driver starts.
func NewClientDriver(
	clock timeutil.Clock,
	sub *pubsub.Subscriber,
	ts *timesync.Client,
	initial clockmath.ClockEstimate,
	sink RenderSink,
	renderPeriod, renderDelay, resyncPeriod time.Duration,
) *ClientDriver {
	return &ClientDriver{
		clock:        clock,
		sub:          sub,
		timesync:     ts,
		smoothed:     clockmath.NewSmoothedClock(initial),
		manager:      snapshotmgr.NewManager(),
		sink:         sink,
		renderPeriod: renderPeriod,
		renderDelay:  renderDelay,
		resyncPeriod: resyncPeriod,
		issues:       NewRenderIssueLogger(clock, time.Second),
	}
}

// Start launches the three background loops under a context derived from
// parent, so cancelling parent also stops the driver, for callers that
// want to tie driver lifetime to a broader shutdown signal.
func (d *ClientDriver) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel

	d.wg.Add(2)
	go d.runGuarded(ctx, d.receiveLoop)
	go d.runGuarded(ctx, d.resyncLoop)

	// The original sleeps render_delay before opening the window, giving
	// the snapshot buffer (now filling via receiveLoop) time to prime.
	d.wg.Add(1)
	go func() {
		d.clock.Sleep(d.renderDelay)
		d.runGuarded(ctx, d.renderLoop)
	}()
}

// Stop cancels the background loops and waits for them to exit.
func (d *ClientDriver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Panicked reports whether any background loop panicked during this
// driver's lifetime. A ShowManager checks this after Stop to pick between
// "Running show panicked." and "Running show stopped cleanly." in its
// admin reply, mirroring the original's show_thread.join() error case.
func (d *ClientDriver) Panicked() bool {
	return d.panicked.Load()
}

// runGuarded runs one of the three background loops under a recover
// boundary: a panic inside receiveLoop/resyncLoop/renderLoop is caught,
// recorded, and logged instead of crashing the process, so a single bad
// frame or decode bug takes down only this client's show, not the
// program hosting it.
func (d *ClientDriver) runGuarded(ctx context.Context, loop func(context.Context)) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Store(true)
			monitoring.RateLimited("show-client-loop-panic", time.Second,
				"show: background loop panicked: %v", r)
		}
	}()
	loop(ctx)
}

func (d *ClientDriver) receiveLoop(ctx context.Context) {
	for {
		msg, err := d.sub.ReceiveContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.RateLimited("show-client-receive-failed", time.Second,
				"show: receiving snapshot: %v", err)
			continue
		}

		snap, err := wire.DecodeSnapshot(msg.Payload)
		if err != nil {
			monitoring.RateLimited("show-client-decode-failed", time.Second,
				"show: decoding snapshot: %v", err)
			continue
		}

		d.mu.Lock()
		d.manager.Insert(snap)
		d.manager.Update()
		d.mu.Unlock()
	}
}

func (d *ClientDriver) resyncLoop(ctx context.Context) {
	ticker := d.clock.NewTicker(d.resyncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			estimate, err := d.timesync.Synchronize(ctx)
			if err != nil {
				monitoring.RateLimited("show-client-resync-failed", time.Second,
					"show: time resync failed: %v", err)
				continue
			}
			d.mu.Lock()
			d.smoothed.UpdateCurrent(estimate)
			d.mu.Unlock()
		}
	}
}

func (d *ClientDriver) renderLoop(ctx context.Context) {
	ticker := d.clock.NewTicker(d.renderPeriod)
	defer ticker.Stop()

	last := d.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			dt := now.Sub(last).Seconds()
			last = now

			d.mu.Lock()
			d.smoothed.Tick(dt)
			renderAt := d.smoothed.Now(now).Seconds() - d.renderDelay.Seconds()
			result := d.manager.Get(renderAt * 1000)
			d.mu.Unlock()

			d.handleResult(result)
		}
	}
}

func (d *ClientDriver) handleResult(result snapshotmgr.GetResult) {
	switch result.Kind {
	case snapshotmgr.NoData:
		return
	case snapshotmgr.Good:
		d.sink.Render(result.Layers)
	case snapshotmgr.MissingNewer:
		d.issues.Record(IssueMissingNewer)
		d.sink.Render(result.Layers) // hold last good frame
	case snapshotmgr.MissingOlder:
		d.issues.Record(IssueMissingOlder)
		d.sink.Render(result.Layers)
	case snapshotmgr.Error:
		d.issues.Record(IssueBracketError)
	}
}

// NopRenderSink discards rendered layers, counting how many frames it was
// asked to draw. It stands in for a real windowing/GPU renderer so the
// pipeline can be exercised and tested end to end.
type NopRenderSink struct {
	mu     sync.Mutex
	frames uint64
}

// Render records one rendered frame.
func (s *NopRenderSink) Render(_ []wire.Layer) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

// Frames reports how many frames have been rendered.
func (s *NopRenderSink) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
