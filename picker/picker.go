// Package picker implements the local-socket ingress a standalone file
// picker process hands absolute paths through, per spec.md §4.6. The
// accept-loop/event-channel shape mirrors icontransfer.Server; framing
// reuses the wire package's length-prefixed primitives rather than a
// bespoke decoder.
package picker

import (
	"net"
	"os"
	"sync"
	"time"

	"syfd/applog"
	"syfd/wire"
)

// SocketName is the local endpoint name picker clients dial.
const SocketName = "SYFPickerProtocol"

// ConnTimeout bounds how long one connection may take to deliver its
// path list before it is dropped.
const ConnTimeout = 5 * time.Second

// maxPaths is a sanity ceiling on a single paths_received payload; the
// wire format's u32 count has no smaller bound of its own.
const maxPaths = 100000

// Event carries one accepted path list.
type Event struct {
	Paths []string
}

// Server listens on a POSIX Unix-domain socket named SocketName under
// a caller-chosen directory. No Windows named-pipe variant of Listen
// is implemented.
type Server struct {
	listener net.Listener
	log      applog.Logger

	events chan Event

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen removes any stale endpoint at socketPath and starts accepting
// connections, per spec.md §4.6's "before listening, any stale
// endpoint ... is removed".
func Listen(socketPath string, logger applog.Logger) (*Server, error) {
	if logger == nil {
		logger = applog.Default()
	}
	if err := removeStaleEndpoint(socketPath); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		log:      logger.With("picker"),
		events:   make(chan Event, 8),
		closed:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func removeStaleEndpoint(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Events returns the channel of accepted path lists.
func (s *Server) Events() <-chan Event {
	return s.events
}

// Close stops accepting connections and waits for in-flight ones to
// finish.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.events)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.Warnf("accept: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// handle reads one framed path list and emits it, or closes silently
// on any framing error, per spec.md §4.6.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(ConnTimeout)); err != nil {
		return
	}

	r := wire.NewReader(conn)
	count, err := r.Uint32()
	if err != nil || count > maxPaths {
		return
	}

	paths := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := r.UTF8String()
		if err != nil {
			return
		}
		paths = append(paths, p)
	}

	select {
	case s.events <- Event{Paths: paths}:
	case <-s.closed:
	}
}
