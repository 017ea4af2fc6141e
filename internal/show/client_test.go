package show

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tunnelcast/tunnelcast/internal/clockmath"
	"github.com/tunnelcast/tunnelcast/internal/pubsub"
	"github.com/tunnelcast/tunnelcast/internal/timesync"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// fakeTimeTransport always reports the same remote time, for a
// ClientDriver test that doesn't care about real clock arithmetic.
type fakeTimeTransport struct{}

func (fakeTimeTransport) Call(_ context.Context, _ []byte) ([]byte, error) {
	return wire.EncodeFloat64(0)
}

func TestClientDriverRendersReceivedSnapshots(t *testing.T) {
	pub := pubsub.NewPublisher("test-show-client-"+uuid.NewString(), 0)
	if err := pub.Start(); err != nil {
		t.Skipf("skipping: service discovery unavailable in this sandbox: %v", err)
	}
	defer pub.Stop()

	addr := pub.Addr().(*net.TCPAddr)
	sub, err := pubsub.NewSubscriber("127.0.0.1", uint16(addr.Port), 0)
	require.NoError(t, err)

	mc := timeutil.NewMockClock(time.Unix(0, 0))
	tsClient := timesync.NewClient(fakeTimeTransport{}, mc, timesync.WithSampleCount(2))
	initial := clockmath.ClockEstimate{LocalReference: mc.Now(), RemoteTimeAtReference: 0}
	sink := &NopRenderSink{}

	driver := NewClientDriver(mc, sub, tsClient, initial, sink,
		10*time.Millisecond, 0, time.Hour)
	driver.Start(context.Background())
	defer driver.Stop()

	time.Sleep(100 * time.Millisecond) // let the subscribe handshake land

	snap := wire.Snapshot{
		FrameNumber: 1,
		Time:        0,
		Layers:      []wire.Layer{{{Level: 1, Hue: 0.5}}},
	}
	encoded, err := wire.EncodeSnapshot(snap)
	require.NoError(t, err)
	pub.Publish(0, encoded)

	// Give the receive loop real wall-clock time to insert the snapshot
	// before advancing the mock clock to fire a render tick.
	time.Sleep(150 * time.Millisecond)
	mc.Advance(10 * time.Millisecond)

	require.Eventually(t, func() bool {
		return sink.Frames() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

// panicSink panics on every Render call, simulating a broken external
// renderer plugged into the RenderSink seam.
type panicSink struct{}

func (panicSink) Render(_ []wire.Layer) {
	panic("renderer exploded")
}

// TestClientDriverRecoversFromRenderLoopPanic pins the panic-isolation
// boundary: a panic inside a background loop must not crash the process
// (the test itself proves this by surviving), and must be recorded on
// the driver so a ShowManager can report "Running show panicked." rather
// than silently losing the show.
func TestClientDriverRecoversFromRenderLoopPanic(t *testing.T) {
	pub := pubsub.NewPublisher("test-show-client-panic-"+uuid.NewString(), 0)
	if err := pub.Start(); err != nil {
		t.Skipf("skipping: service discovery unavailable in this sandbox: %v", err)
	}
	defer pub.Stop()

	addr := pub.Addr().(*net.TCPAddr)
	sub, err := pubsub.NewSubscriber("127.0.0.1", uint16(addr.Port), 0)
	require.NoError(t, err)

	mc := timeutil.NewMockClock(time.Unix(0, 0))
	tsClient := timesync.NewClient(fakeTimeTransport{}, mc, timesync.WithSampleCount(2))
	initial := clockmath.ClockEstimate{LocalReference: mc.Now(), RemoteTimeAtReference: 0}

	driver := NewClientDriver(mc, sub, tsClient, initial, panicSink{},
		10*time.Millisecond, 0, time.Hour)
	driver.Start(context.Background())
	defer driver.Stop()

	time.Sleep(100 * time.Millisecond)

	snap := wire.Snapshot{
		FrameNumber: 1,
		Time:        0,
		Layers:      []wire.Layer{{{Level: 1, Hue: 0.5}}},
	}
	encoded, err := wire.EncodeSnapshot(snap)
	require.NoError(t, err)
	pub.Publish(0, encoded)

	time.Sleep(150 * time.Millisecond)
	mc.Advance(10 * time.Millisecond)

	require.Eventually(t, func() bool {
		return driver.Panicked()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRenderIssueLoggerReportsAtMostOncePerIntervalPerKind(t *testing.T) {
	mc := timeutil.NewMockClock(time.Unix(0, 0))
	l := NewRenderIssueLogger(mc, time.Second)

	l.Record(IssueMissingNewer) // first occurrence always reports immediately
	require.Equal(t, uint64(0), l.Pending(IssueMissingNewer))

	l.Record(IssueMissingNewer)
	require.Equal(t, uint64(1), l.Pending(IssueMissingNewer))

	mc.Advance(2 * time.Second)
	l.Record(IssueMissingNewer)
	require.Equal(t, uint64(0), l.Pending(IssueMissingNewer))

	// A distinct kind tracks its own interval independently.
	l.Record(IssueMissingOlder)
	require.Equal(t, uint64(0), l.Pending(IssueMissingOlder))
}
