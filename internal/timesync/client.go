// Package timesync implements the quasi-SNTP time-synchronization protocol
// between server and client: the server replies to any request with its
// current monotonic time, and the client issues a batch of probes and
// estimates the remote-vs-local offset with outlier rejection.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tunnelcast/tunnelcast/internal/clockmath"
	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// ErrInsufficientSamples is returned by Synchronize when fewer than
// floor(N/2) probes survive outlier rejection (or succeeded at all).
var ErrInsufficientSamples = errors.New("timesync: insufficient samples survived outlier rejection")

// Transport performs one request/reply round trip against the time-sync
// server. The request body is always empty; the reply body is the
// server's serialized current time. Implementations should respect ctx
// cancellation so a single slow sample cannot wedge Synchronize forever.
type Transport interface {
	Call(ctx context.Context, payload []byte) ([]byte, error)
}

// SyncSample is one probe's result: when it was sent, how long the round
// trip took, and what remote time the server reported.
type SyncSample struct {
	SentAt     time.Time
	RoundTrip  time.Duration
	RemoteTime float64 // fractional seconds
}

// Client issues probe batches and estimates the offset between local and
// remote clocks.
type Client struct {
	transport     Transport
	clock         timeutil.Clock
	n             int
	pollPeriod    time.Duration
	sampleTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSampleCount overrides the default probe count (10).
func WithSampleCount(n int) ClientOption {
	return func(c *Client) { c.n = n }
}

// WithPollPeriod overrides the default inter-probe sleep (500ms).
func WithPollPeriod(d time.Duration) ClientOption {
	return func(c *Client) { c.pollPeriod = d }
}

// WithSampleTimeout overrides the default per-sample deadline (3s).
func WithSampleTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.sampleTimeout = d }
}

// NewClient creates a time-sync client with default N=10 probes, 500ms
// poll period, and a 3-second per-sample deadline.
func NewClient(transport Transport, clock timeutil.Clock, opts ...ClientOption) *Client {
	c := &Client{
		transport:     transport,
		clock:         clock,
		n:             10,
		pollPeriod:    500 * time.Millisecond,
		sampleTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SynchronizationDuration estimates how long one Synchronize call will
// take, so a caller can log an ETA before blocking on the initial sync.
func (c *Client) SynchronizationDuration() time.Duration {
	return c.pollPeriod * time.Duration(c.n)
}

// Synchronize issues N probes, rejects round-trip outliers, and returns a
// ClockEstimate anchored to the local instant recorded at the start of the
// batch.
func (c *Client) Synchronize(ctx context.Context) (clockmath.ClockEstimate, error) {
	localReference := c.clock.Now()

	samples := make([]SyncSample, 0, c.n)
	for i := 0; i < c.n; i++ {
		sent := c.clock.Now()

		callCtx, cancel := context.WithTimeout(ctx, c.sampleTimeout)
		reply, err := c.transport.Call(callCtx, nil)
		cancel()
		if err != nil {
			monitoring.RateLimited("timesync-probe-failed", time.Second,
				"timesync: probe %d/%d failed: %v", i+1, c.n, err)
		} else {
			roundTrip := c.clock.Since(sent)
			remoteTime, decErr := wire.DecodeFloat64(reply)
			if decErr != nil {
				monitoring.RateLimited("timesync-probe-decode-failed", time.Second,
					"timesync: probe %d/%d: %v", i+1, c.n, decErr)
			} else {
				samples = append(samples, SyncSample{SentAt: sent, RoundTrip: roundTrip, RemoteTime: remoteTime})
			}
		}

		c.clock.Sleep(c.pollPeriod)
	}

	retained := rejectOutliers(samples)
	if len(retained) < c.n/2 {
		return clockmath.ClockEstimate{}, fmt.Errorf("%w: kept %d of %d", ErrInsufficientSamples, len(retained), c.n)
	}

	var estimates []float64
	for _, s := range retained {
		delta := s.SentAt.Add(s.RoundTrip / 2).Sub(localReference).Seconds()
		estimates = append(estimates, s.RemoteTime-delta)
	}

	return clockmath.ClockEstimate{
		LocalReference:        localReference,
		RemoteTimeAtReference: stat.Mean(estimates, nil),
	}, nil
}

// rejectOutliers sorts samples by round trip ascending and discards any
// sample whose round trip is at or above median + standard deviation.
func rejectOutliers(samples []SyncSample) []SyncSample {
	if len(samples) == 0 {
		return nil
	}

	sorted := make([]SyncSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RoundTrip < sorted[j].RoundTrip
	})

	rtSeconds := make([]float64, len(sorted))
	for i, s := range sorted {
		rtSeconds[i] = s.RoundTrip.Seconds()
	}

	median := rtSeconds[len(rtSeconds)/2]
	sigma := stat.StdDev(rtSeconds, nil)
	cutoff := median + sigma

	retained := make([]SyncSample, 0, len(sorted))
	for i, rt := range rtSeconds {
		if rt < cutoff {
			retained = append(retained, sorted[i])
		}
	}
	return retained
}
