// Package registry implements zero-configuration service discovery:
// advertise and browse named services on a local network, resolve
// host+port, with appear/drop lifecycle callbacks.
//
// No mDNS/DNS-SD/Bonjour library is available anywhere in this module's
// dependency pack (see DESIGN.md), so discovery is implemented directly on
// UDP multicast: each registration periodically broadcasts a small beacon
// naming its service, instance and port; each browse listens for beacons
// matching a service name and ages out instances that stop beaconing. This
// reproduces the advertise/browse/resolve *contract* of the original
// Bonjour-backed implementation without a matching third-party library.
package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/monitoring"
)

// DefaultGroup is the multicast group and port beacons are sent to and
// received from. Analogous to mDNS's 224.0.0.251:5353, but private to this
// application rather than a shared system service.
const DefaultGroup = "239.255.42.99:9292"

// BeaconInterval is how often a registration re-announces itself.
const BeaconInterval = 250 * time.Millisecond

// ResolveTimeout is how long a browse waits for a beacon to confirm an
// instance before giving up on it, matching the 1-second resolve timeout
// named in the component design.
const ResolveTimeout = 1 * time.Second

// instanceTTL is how long a browse keeps an instance alive with no
// beacon before calling onDrop. A handful of missed beacons tolerates
// ordinary network jitter without flapping appear/drop callbacks.
const instanceTTL = 4 * BeaconInterval

// ServiceRecord describes one discovered service instance.
type ServiceRecord struct {
	InstanceName string
	Host         string
	Port         uint16
}

func serviceType(name string) string {
	return fmt.Sprintf("_%s._tcp", name)
}

// Registration is a handle returned by Register; the advertisement
// persists until Close is called.
type Registration struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops advertising and waits for the beacon goroutine to exit.
func (r *Registration) Close() error {
	r.cancel()
	<-r.done
	return nil
}

// Register begins advertising instanceName for serviceName on port. The
// registration persists until the returned handle is closed.
func Register(serviceName, instanceName string, port uint16) (*Registration, error) {
	addr, err := net.ResolveUDPAddr("udp4", DefaultGroup)
	if err != nil {
		return nil, fmt.Errorf("registry: resolving multicast group: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("registry: dialing multicast group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registration{cancel: cancel, done: make(chan struct{})}

	msg := fmt.Sprintf("%s|%s|%d", serviceType(serviceName), instanceName, port)

	go func() {
		defer close(reg.done)
		defer conn.Close()

		ticker := time.NewTicker(BeaconInterval)
		defer ticker.Stop()

		conn.Write([]byte(msg))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := conn.Write([]byte(msg)); err != nil {
					monitoring.RateLimited("registry-beacon-write-failed", time.Second,
						"registry: beacon write for %s failed: %v", instanceName, err)
				}
			}
		}
	}()

	return reg, nil
}

// Browse is a handle returned by Browse; discovery continues until Close
// is called.
type Browse struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops browsing and waits for the listener goroutine to exit.
func (b *Browse) Close() error {
	b.cancel()
	<-b.done
	return nil
}

// Browse listens for beacons matching serviceName, calling onAppear when
// an instance is first resolved and onDrop when it stops beaconing.
// Resolution uses a 1-second timeout internally (a beacon must be heard
// twice within ResolveTimeout before being trusted); timed-out or garbled
// beacons are silently ignored, matching the original's "silently ignore
// timed-out resolutions" policy.
func Browse(serviceName string, onAppear func(ServiceRecord), onDrop func(instanceName string)) (*Browse, error) {
	addr, err := net.ResolveUDPAddr("udp4", DefaultGroup)
	if err != nil {
		return nil, fmt.Errorf("registry: resolving multicast group: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("registry: listening on multicast group: %w", err)
	}
	conn.SetReadBuffer(65536)

	ctx, cancel := context.WithCancel(context.Background())
	br := &Browse{cancel: cancel, done: make(chan struct{})}
	wantType := serviceType(serviceName)

	type seenState struct {
		rec       ServiceRecord
		firstSeen time.Time
		confirmed bool
		lastSeen  time.Time
	}
	var mu sync.Mutex
	seen := map[string]*seenState{}

	go func() {
		defer close(br.done)
		defer conn.Close()

		ageTicker := time.NewTicker(BeaconInterval)
		defer ageTicker.Stop()

		buf := make([]byte, 2048)
		go func() {
			for {
				conn.SetReadDeadline(time.Now().Add(BeaconInterval))
				n, fromAddr, err := conn.ReadFromUDP(buf)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				rec, svcType, ok := parseBeacon(buf[:n])
				if !ok || svcType != wantType {
					continue
				}
				rec.Host = fromAddr.IP.String()

				mu.Lock()
				now := time.Now()
				st, exists := seen[rec.InstanceName]
				if !exists {
					seen[rec.InstanceName] = &seenState{rec: rec, firstSeen: now, lastSeen: now}
				} else {
					st.lastSeen = now
					if !st.confirmed && now.Sub(st.firstSeen) <= ResolveTimeout {
						st.confirmed = true
						mu.Unlock()
						onAppear(rec)
						continue
					}
					st.lastSeen = now
				}
				mu.Unlock()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ageTicker.C:
				mu.Lock()
				now := time.Now()
				for name, st := range seen {
					if now.Sub(st.lastSeen) > instanceTTL {
						wasConfirmed := st.confirmed
						delete(seen, name)
						if wasConfirmed {
							mu.Unlock()
							onDrop(name)
							mu.Lock()
						}
					}
				}
				mu.Unlock()
			}
		}
	}()

	return br, nil
}

func parseBeacon(b []byte) (ServiceRecord, string, bool) {
	parts := strings.SplitN(string(b), "|", 3)
	if len(parts) != 3 {
		return ServiceRecord{}, "", false
	}
	svcType, instance, portStr := parts[0], parts[1], parts[2]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServiceRecord{}, "", false
	}
	return ServiceRecord{InstanceName: instance, Port: uint16(port)}, svcType, true
}
