package reqrep

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelcast/tunnelcast/internal/registry"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello request")

	require.NoError(t, writeFrame(&buf, payload))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // absurd length prefix
	_, err := readFrame(&buf)
	require.Error(t, err)
}

// localListener returns a free TCP port on loopback for direct
// net.Listen/net.Dial tests that don't go through the registry.
func localListener(t *testing.T) (net.Listener, int) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis, lis.Addr().(*net.TCPAddr).Port
}

func TestServeOneConnectionDirect(t *testing.T) {
	lis, _ := localListener(t)
	defer lis.Close()

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := readFrame(conn)
		if err != nil {
			return
		}
		writeFrame(conn, append([]byte("echo:"), req...))
	}()

	conn, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, []byte("ping")))
	reply, err := readFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestHandlerErrorDoesNotKillConnectionReply(t *testing.T) {
	lis, _ := localListener(t)
	defer lis.Close()

	srv := &Server{
		serviceName: "test-handler-error",
		handler: func(req []byte) ([]byte, error) {
			return nil, errors.New("boom")
		},
		stopCh: make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
	srv.listener = lis
	srv.running.Store(true)
	srv.wg.Add(1)
	go srv.acceptLoop()
	defer func() {
		srv.running.Store(false)
		lis.Close()
		srv.wg.Wait()
	}()

	conn, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, []byte("anything")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := readFrame(conn)
	require.NoError(t, err)
	assert.Contains(t, string(reply), "boom")
}

// TestControllerReusesConnectionAcrossSends exercises the real Server +
// Controller stack end to end: a Controller dials a peer once and must be
// able to send several requests over that same cached connection, since
// the server now keeps answering on a connection until it is closed
// rather than tearing down after one exchange. Skipped where multicast
// discovery is unavailable.
func TestControllerReusesConnectionAcrossSends(t *testing.T) {
	lis, port := localListener(t)
	lis.Close()

	var count atomic.Int32
	srv := NewServer("tc-test-reqrep-reuse", uint16(port), func(req []byte) ([]byte, error) {
		n := count.Add(1)
		return []byte(fmt.Sprintf("reply-%d:%s", n, req)), nil
	})

	if err := srv.Start(); err != nil {
		t.Skipf("reqrep: discovery unavailable in this environment: %v", err)
	}
	defer srv.Stop()

	ctrl, err := NewController("tc-test-reqrep-reuse")
	if err != nil {
		t.Skipf("reqrep: discovery unavailable in this environment: %v", err)
	}
	defer ctrl.Close()

	deadline := time.Now().Add(3 * time.Second)
	var names []string
	for time.Now().Before(deadline) {
		names = ctrl.List()
		if len(names) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(names) == 0 {
		t.Skip("reqrep: no peer observed in this environment")
	}

	reply1, err := ctrl.Send(names[0], []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "reply-1:one", string(reply1))

	reply2, err := ctrl.Send(names[0], []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, "reply-2:two", string(reply2))

	reply3, err := ctrl.Send(names[0], []byte("three"))
	require.NoError(t, err)
	assert.Equal(t, "reply-3:three", string(reply3))
}

func TestControllerSendUnknownPeer(t *testing.T) {
	c := &Controller{serviceName: "nope", peers: map[string]*peer{}}
	_, err := c.Send("ghost", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuchPeer)
}

func TestControllerListReflectsAppearAndDrop(t *testing.T) {
	c := &Controller{serviceName: "svc", peers: map[string]*peer{}}
	c.onAppear(registry.ServiceRecord{InstanceName: "inst-1", Host: "127.0.0.1", Port: 9000})
	assert.Contains(t, c.List(), "inst-1")

	c.onDrop("inst-1")
	assert.NotContains(t, c.List(), "inst-1")
}
