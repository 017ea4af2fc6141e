package reqrep

import "context"

// PeerTransport adapts a single controller-managed peer to the
// timesync.Transport interface, so the time-sync client can issue probes
// over an ordinary reqrep connection without depending on this package
// directly.
type PeerTransport struct {
	Controller   *Controller
	InstanceName string
}

// Call sends payload to the configured peer and returns its reply. ctx
// cancellation is not honored mid-call: the underlying connection has no
// deadline support wired in yet, so a hung peer blocks until the OS-level
// TCP timeout. Per-sample timeouts are therefore best enforced by the
// caller via a bounded retry budget rather than ctx alone.
func (t *PeerTransport) Call(_ context.Context, payload []byte) ([]byte, error) {
	return t.Controller.Send(t.InstanceName, payload)
}
