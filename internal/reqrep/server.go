// Package reqrep implements a request/reply control socket (bind a reply
// endpoint, call a handler per message) paired with a controller that
// maintains a pool of connections to browsed peers.
package reqrep

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/registry"
)

// Handler processes one request body and returns the reply body. A
// handler error must not tear down the server; the error's message is
// sent back to the caller as a human-readable reply instead.
type Handler func(req []byte) ([]byte, error)

// Server binds a reply socket, advertises it via the service registry,
// and accepts connections that each stay open for repeated
// request/reply exchanges, matching a Controller's one-dial-many-sends
// peer connection. Its lifecycle shape (listener, stop channel, running
// flag, WaitGroup) follows the teacher's visualiser.Publisher.
type Server struct {
	serviceName string
	port        uint16
	handler     Handler

	listener     net.Listener
	registration *registry.Registration

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a request/reply server that will bind to port and
// advertise itself under serviceName.
func NewServer(serviceName string, port uint16, handler Handler) *Server {
	return &Server{
		serviceName: serviceName,
		port:        port,
		handler:     handler,
		stopCh:      make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
	}
}

// Start binds the reply socket and registers the service. Bind or
// registration failure is fatal at startup, per the error taxonomy.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("reqrep: server for %q already running", s.serviceName)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("reqrep: bind failed for %q on port %d: %w", s.serviceName, s.port, err)
	}
	s.listener = lis

	instanceName := fmt.Sprintf("%s-%s", s.serviceName, uuid.NewString())
	reg, err := registry.Register(s.serviceName, instanceName, s.port)
	if err != nil {
		lis.Close()
		return fmt.Errorf("reqrep: discovery unavailable registering %q: %w", s.serviceName, err)
	}
	s.registration = reg

	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			monitoring.RateLimited("reqrep-accept-failed-"+s.serviceName, defaultLogInterval,
				"reqrep: accept failed for %q: %v", s.serviceName, err)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves every request/reply exchange on conn, in sequence,
// until the peer closes the connection or the server stops. A Controller
// dials once per peer and reuses that connection across many Send calls,
// so the server side must keep answering on it rather than closing after
// the first exchange.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	for {
		req, err := readFrame(conn)
		if err != nil {
			if err != io.EOF && s.running.Load() {
				monitoring.RateLimited("reqrep-read-failed-"+s.serviceName, defaultLogInterval,
					"reqrep: reading request for %q: %v", s.serviceName, err)
			}
			return
		}

		reply, herr := s.handler(req)
		if herr != nil {
			// Handler errors must not tear down the connection: reply with
			// a human-readable error string instead of the handler's
			// intended payload.
			reply = []byte(fmt.Sprintf("error: %v", herr))
		}

		if err := writeFrame(conn, reply); err != nil {
			monitoring.RateLimited("reqrep-write-failed-"+s.serviceName, defaultLogInterval,
				"reqrep: writing reply for %q: %v", s.serviceName, err)
			return
		}
	}
}

// Stop gracefully shuts down the server: stops accepting, deregisters,
// closes every open connection (each otherwise loops forever waiting on
// its peer), and waits for in-flight handlers to finish.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.stopCh)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.registration != nil {
		s.registration.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}
