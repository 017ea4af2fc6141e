package pubsub

import (
	"context"
	"fmt"
	"net"
)

// Message is a single received pub/sub payload, still attributed to its
// channel for callers subscribing with a wildcard-like use (currently
// unused since Subscriber filters server-side, but kept for symmetry with
// the wire contract).
type Message struct {
	Channel byte
	Payload []byte
}

// Subscriber connects to a publisher, performs the one-byte filter
// handshake, and receives matching messages.
type Subscriber struct {
	conn   net.Conn
	msgCh  chan Message
	errCh  chan error
	closed chan struct{}
}

// NewSubscriber dials host:port and subscribes to the given one-byte
// channel filter.
func NewSubscriber(host string, port uint16, filter byte) (*Subscriber, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("pubsub: dialing publisher at %s:%d: %w", host, port, err)
	}
	if err := writeFrame(conn, []byte{filter}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pubsub: sending filter handshake: %w", err)
	}

	s := &Subscriber{
		conn:   conn,
		msgCh:  make(chan Message, 64),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) readLoop() {
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			select {
			case s.errCh <- err:
			default:
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		msg := Message{Channel: frame[0], Payload: frame[1:]}
		select {
		case s.msgCh <- msg:
		case <-s.closed:
			return
		}
	}
}

// Receive returns the next matching payload. If blocking is false and no
// message is immediately available, it returns ok=false without waiting.
func (s *Subscriber) Receive(blocking bool) (Message, bool, error) {
	if blocking {
		select {
		case msg := <-s.msgCh:
			return msg, true, nil
		case err := <-s.errCh:
			return Message{}, false, err
		}
	}
	select {
	case msg := <-s.msgCh:
		return msg, true, nil
	case err := <-s.errCh:
		return Message{}, false, err
	default:
		return Message{}, false, nil
	}
}

// ReceiveContext is like Receive(true) but honors ctx cancellation, for
// callers that need their blocking receive to be interruptible by a
// run-flag-equivalent context instead of only by closing the connection.
func (s *Subscriber) ReceiveContext(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.msgCh:
		return msg, nil
	case err := <-s.errCh:
		return Message{}, err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close closes the underlying connection and stops the read loop.
func (s *Subscriber) Close() error {
	close(s.closed)
	return s.conn.Close()
}
