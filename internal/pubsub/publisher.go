// Package pubsub implements the multi-channel snapshot transport: a typed
// publisher that serializes a value and emits it on a one-byte topic, and
// a typed subscriber that filters by topic and deserializes.
//
// Topics are a single byte prepended to each message (the video-channel
// index) - sufficient for the <=8 video channels used here.
package pubsub

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelcast/tunnelcast/internal/monitoring"
	"github.com/tunnelcast/tunnelcast/internal/registry"
)

const clientSendBuffer = 16

// Publisher binds a publish socket, advertises it via the service
// registry, and fans frames out to connected subscribers. Slow
// subscribers simply miss messages: there is no acknowledgment, retry, or
// backpressure. Its lifecycle shape (listener, stop channel, running
// flag, WaitGroup, per-client registry with a RWMutex) follows the
// teacher's visualiser.Publisher.
type Publisher struct {
	serviceName string
	port        uint16

	listener     net.Listener
	registration *registry.Registration

	clients   map[string]*pubClient
	clientsMu sync.RWMutex

	frameCount atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type pubClient struct {
	id      string
	filter  byte
	hasAny  bool // true once the filter handshake has been read
	frameCh chan []byte
}

// NewPublisher creates a publisher that will bind to port and advertise
// itself under serviceName.
func NewPublisher(serviceName string, port uint16) *Publisher {
	return &Publisher{
		serviceName: serviceName,
		port:        port,
		clients:     map[string]*pubClient{},
		stopCh:      make(chan struct{}),
	}
}

// Addr returns the publisher's bound listen address, primarily useful
// when NewPublisher was given port 0 and the OS chose one. Returns nil if
// Start has not been called yet.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Start binds the publish socket and registers the service.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("pubsub: publisher for %q already running", p.serviceName)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", p.port))
	if err != nil {
		return fmt.Errorf("pubsub: bind failed for %q on port %d: %w", p.serviceName, p.port, err)
	}
	p.listener = lis

	instanceName := fmt.Sprintf("%s-%s", p.serviceName, uuid.NewString())
	reg, err := registry.Register(p.serviceName, instanceName, p.port)
	if err != nil {
		lis.Close()
		return fmt.Errorf("pubsub: discovery unavailable registering %q: %w", p.serviceName, err)
	}
	p.registration = reg

	p.running.Store(true)
	p.wg.Add(1)
	go p.acceptLoop()
	return nil
}

func (p *Publisher) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if !p.running.Load() {
				return
			}
			monitoring.RateLimited("pubsub-accept-failed-"+p.serviceName, time.Second,
				"pubsub: accept failed for %q: %v", p.serviceName, err)
			continue
		}
		p.wg.Add(1)
		go p.serveClient(conn)
	}
}

func (p *Publisher) serveClient(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	filterFrame, err := readFrame(conn)
	if err != nil || len(filterFrame) != 1 {
		monitoring.RateLimited("pubsub-handshake-failed-"+p.serviceName, time.Second,
			"pubsub: subscriber handshake failed for %q: %v", p.serviceName, err)
		return
	}

	client := &pubClient{
		id:      uuid.NewString(),
		filter:  filterFrame[0],
		hasAny:  true,
		frameCh: make(chan []byte, clientSendBuffer),
	}

	p.clientsMu.Lock()
	p.clients[client.id] = client
	p.clientsMu.Unlock()

	defer func() {
		p.clientsMu.Lock()
		delete(p.clients, client.id)
		p.clientsMu.Unlock()
	}()

	for {
		select {
		case <-p.stopCh:
			return
		case frame, ok := <-client.frameCh:
			if !ok {
				return
			}
			if err := writeFrame(conn, frame); err != nil {
				return
			}
		}
	}
}

// Publish emits a two-part message [channel, payload] to every subscriber
// whose filter matches channel. No acknowledgment, retry, or
// backpressure: a subscriber whose outbound buffer is full simply misses
// this message.
func (p *Publisher) Publish(channel byte, payload []byte) {
	if !p.running.Load() {
		return
	}

	frame := make([]byte, 1+len(payload))
	frame[0] = channel
	copy(frame[1:], payload)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if c.filter != channel {
			continue
		}
		select {
		case c.frameCh <- frame:
		default:
			monitoring.RateLimited("pubsub-client-slow-"+p.serviceName, time.Second,
				"pubsub: dropping frame for slow subscriber %s on %q", c.id, p.serviceName)
		}
	}
	p.frameCount.Add(1)
}

// Stop gracefully shuts down the publisher.
func (p *Publisher) Stop() error {
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	close(p.stopCh)

	if p.listener != nil {
		p.listener.Close()
	}
	if p.registration != nil {
		p.registration.Close()
	}
	p.wg.Wait()
	return nil
}
