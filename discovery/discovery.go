// Package discovery implements the LAN presence beacon: a raw UDP
// multicast datagram broadcast and received on 239.255.101.10:10101,
// replacing the teacher's mDNS/zeroconf-based discovery (RFC 6762)
// with the project's own fixed binary format (wire.Beacon), since no
// mDNS TXT-record shape can carry it. The start/stop-with-sync.Once,
// buffered-event-channel and periodic-ticker shape is kept from the
// teacher's PeerScanner.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"syfd/wire"
)

const (
	// MulticastAddress is the fixed beacon group and port.
	MulticastAddress = "239.255.101.10:10101"
	// SendInterval is how often a presence beacon is broadcast.
	SendInterval = 5 * time.Second
	// MaxConsecutiveSendFailures triggers an automatic offline transition.
	MaxConsecutiveSendFailures = 3
)

// EventType identifies one discovery update.
type EventType string

const (
	// EventPeerSeen is emitted for every decoded non-quit beacon.
	EventPeerSeen EventType = "peer_seen"
	// EventPeerQuit is emitted when a peer's quit flag is set.
	EventPeerQuit EventType = "peer_quit"
	// EventUUIDCollision is emitted when a beacon claims the local UUID
	// from a different source address.
	EventUUIDCollision EventType = "uuid_collision"
	// EventSendFailuresExceeded is emitted after MaxConsecutiveSendFailures
	// consecutive beacon sends fail, signaling a forced offline transition.
	EventSendFailuresExceeded EventType = "send_failures_exceeded"
)

// Event carries one discovery update.
type Event struct {
	Type       EventType
	Beacon     wire.Beacon
	SourceAddr string
}

// Identity is the local presence advertised on every beacon tick.
type Identity struct {
	UUID      uuid.UUID
	FirstName string
	LastName  string
	IPv4      net.IP
	FTPort    uint16
	ITPort    uint16
	IconSHA1  *[20]byte
}

func (id Identity) toBeacon(quit bool) wire.Beacon {
	b := wire.Beacon{
		Quit:      quit,
		UUID:      id.UUID,
		FirstName: id.FirstName,
		LastName:  id.LastName,
		IPv4:      id.IPv4,
		FTPort:    id.FTPort,
		ITPort:    id.ITPort,
	}
	if id.IconSHA1 != nil {
		b.HasIcon = true
		b.IconSHA1 = *id.IconSHA1
	}
	return b
}

// Service broadcasts and listens for presence beacons on the LAN
// multicast group.
type Service struct {
	identity func() Identity

	conn    *net.UDPConn
	pktConn *ipv4.PacketConn

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	consecutiveFailures int
}

// New opens the multicast socket. identity is called fresh on every
// send so changes to name/ports/icon are picked up without a restart.
func New(identity func() Identity) (*Service, error) {
	groupAddr, err := net.ResolveUDPAddr("udp4", MulticastAddress)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve multicast address: %w", err)
	}

	// SO_REUSEADDR lets several services on one host share the group port.
	lc := net.ListenConfig{Control: func(_, _ string, rc syscall.RawConn) error {
		var sockErr error
		if err := rc.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return sockErr
	}}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", groupAddr.Port))
	if err != nil {
		return nil, fmt.Errorf("discovery: listen udp: %w", err)
	}
	conn := pc.(*net.UDPConn)

	pktConn := ipv4.NewPacketConn(conn)
	if err := pktConn.JoinGroup(nil, groupAddr); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("discovery: join multicast group: %w", err)
	}
	if err := pktConn.SetMulticastTTL(1); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("discovery: set multicast ttl: %w", err)
	}
	if err := pktConn.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("discovery: set multicast loopback: %w", err)
	}

	return &Service{
		identity: identity,
		conn:     conn,
		pktConn:  pktConn,
		events:   make(chan Event, 128),
	}, nil
}

// Start begins the send and receive loops.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(2)
		go s.sendLoop()
		go s.receiveLoop()
	})
}

// Stop sends a quit beacon, then tears down the socket.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		_ = s.AnnounceQuit()
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()
		s.wg.Wait()
		close(s.events)
	})
}

// AnnounceQuit sends one quit beacon under the current identity
// without stopping the send loop, per spec.md §4.2's UUID-collision
// regeneration step: the old UUID is announced offline so peers drop
// it, and the next periodic tick picks up whatever identity() now
// returns (e.g. a freshly regenerated UUID).
func (s *Service) AnnounceQuit() error {
	return s.sendBeacon(s.identity().toBeacon(true))
}

// Events returns the channel of discovery updates.
func (s *Service) Events() <-chan Event {
	return s.events
}

func (s *Service) sendLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(SendInterval)
	defer ticker.Stop()

	for {
		if err := s.sendBeacon(s.identity().toBeacon(false)); err != nil {
			s.consecutiveFailures++
			if s.consecutiveFailures >= MaxConsecutiveSendFailures {
				s.emit(Event{Type: EventSendFailuresExceeded})
				s.consecutiveFailures = 0
			}
		} else {
			s.consecutiveFailures = 0
		}

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) sendBeacon(b wire.Beacon) error {
	data, err := wire.Encode(b)
	if err != nil {
		return fmt.Errorf("discovery: encode beacon: %w", err)
	}
	dst, err := net.ResolveUDPAddr("udp4", MulticastAddress)
	if err != nil {
		return fmt.Errorf("discovery: resolve multicast address: %w", err)
	}
	if _, err := s.conn.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("discovery: send beacon: %w", err)
	}
	return nil
}

func (s *Service) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(s.ctx.Err(), context.Canceled) {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				continue
			}
		}

		b, err := wire.Decode(buf[:n])
		if err != nil {
			continue // malformed datagram from a non-SYF sender; ignore
		}

		localID := s.identity().UUID
		if b.UUID == localID {
			if addr != nil && addr.IP != nil && !s.isOwnSource(addr) {
				s.emit(Event{Type: EventUUIDCollision, Beacon: b, SourceAddr: addr.String()})
			}
			continue
		}

		sourceAddr := ""
		if addr != nil {
			sourceAddr = addr.String()
		}
		if b.Quit {
			s.emit(Event{Type: EventPeerQuit, Beacon: b, SourceAddr: sourceAddr})
		} else {
			s.emit(Event{Type: EventPeerSeen, Beacon: b, SourceAddr: sourceAddr})
		}
	}
}

// isOwnSource reports whether addr is this service's own socket: the
// bound UDP port on one of the host's addresses, which is where beacons
// looped back by the multicast group come from.
func (s *Service) isOwnSource(addr *net.UDPAddr) bool {
	local, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.Port != local.Port {
		return false
	}
	hostAddrs, _ := net.InterfaceAddrs()
	for _, a := range hostAddrs {
		if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(addr.IP) {
			return true
		}
	}
	return false
}

func (s *Service) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
