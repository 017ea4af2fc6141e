package reqrep

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/registry"
)

const defaultLogInterval = time.Second

// ErrNoSuchPeer is returned by Controller.Send when the named instance is
// not currently known to the browse.
var ErrNoSuchPeer = errors.New("reqrep: no such peer")

type peer struct {
	mu   sync.Mutex // serializes sends: REQ/REP is strictly alternating
	host string
	port uint16
	conn net.Conn // lazily dialed, nil until first send
}

// Controller maintains, for each currently-appeared peer, a connection
// dialed on first use. It is the client side of the request/reply
// service, browsing serviceName via the registry.
type Controller struct {
	serviceName string
	browse      *registry.Browse

	mu    sync.Mutex
	peers map[string]*peer
}

// NewController starts browsing serviceName and returns a controller that
// will lazily connect to appeared peers.
func NewController(serviceName string) (*Controller, error) {
	c := &Controller{
		serviceName: serviceName,
		peers:       map[string]*peer{},
	}

	br, err := registry.Browse(serviceName, c.onAppear, c.onDrop)
	if err != nil {
		return nil, fmt.Errorf("reqrep: browsing %q: %w", serviceName, err)
	}
	c.browse = br
	return c, nil
}

func (c *Controller) onAppear(rec registry.ServiceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[rec.InstanceName] = &peer{host: rec.Host, port: rec.Port}
}

func (c *Controller) onDrop(instanceName string) {
	c.mu.Lock()
	p, ok := c.peers[instanceName]
	delete(c.peers, instanceName)
	c.mu.Unlock()

	if ok {
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}
}

// List returns the current set of known peer instance names.
func (c *Controller) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.peers))
	for name := range c.peers {
		names = append(names, name)
	}
	return names
}

// Send dials (if necessary) and sends a request to the named peer,
// blocking for its reply. Concurrent sends to the same peer are
// serialized.
func (c *Controller) Send(instanceName string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	p, ok := c.peers[instanceName]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchPeer, instanceName)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", p.host, p.port))
		if err != nil {
			return nil, fmt.Errorf("reqrep: dialing peer %q: %w", instanceName, err)
		}
		p.conn = conn
	}

	if err := writeFrame(p.conn, payload); err != nil {
		p.conn.Close()
		p.conn = nil
		return nil, err
	}

	reply, err := readFrame(p.conn)
	if err != nil {
		p.conn.Close()
		p.conn = nil
		return nil, err
	}
	return reply, nil
}

// Close stops browsing and closes every open peer connection.
func (c *Controller) Close() error {
	if err := c.browse.Close(); err != nil {
		monitoring.RateLimited("reqrep-controller-close-"+c.serviceName, defaultLogInterval,
			"reqrep: closing browse for %q: %v", c.serviceName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}
	return nil
}
