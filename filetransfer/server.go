package filetransfer

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"syfd/applog"
)

// Server accepts inbound FT TCP connections and hands each one off as
// a receiver-role Session with Run already started on its own
// goroutine, generalizing the teacher's network.Server accept loop
// (server.go) from its handshake-upgrade flow to this package's
// HELLO/ACK session startup.
type Server struct {
	listener net.Listener

	localUUID uuid.UUID
	anonymous bool

	sharingSink   SharingDecisionSink
	duplicateSink DuplicateFileDecisionSink
	destResolver  DestinationResolver
	store         checkpointStore
	log           applog.Logger

	incoming chan *Session

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ServerConfig carries the policy hooks and local identity a Server
// wires into every accepted Session.
type ServerConfig struct {
	LocalUUID     uuid.UUID
	Anonymous     bool
	SharingSink   SharingDecisionSink
	DuplicateSink DuplicateFileDecisionSink
	DestResolver  DestinationResolver
	Store         checkpointStore
	Logger        applog.Logger
}

// Listen starts a TCP listener and accept loop for inbound transfers.
// addr may be ":0" to bind an ephemeral port, matching the icon
// transfer and discovery beacon's own port-advertisement pattern.
func Listen(addr string, cfg ServerConfig) (*Server, error) {
	if addr == "" {
		addr = ":0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: listen on %q: %w", addr, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.Default()
	}
	s := &Server{
		listener:      listener,
		localUUID:     cfg.LocalUUID,
		anonymous:     cfg.Anonymous,
		sharingSink:   cfg.SharingSink,
		duplicateSink: cfg.DuplicateSink,
		destResolver:  cfg.DestResolver,
		store:         cfg.Store,
		log:           logger.With("filetransfer.server"),
		incoming:      make(chan *Session, 8),
		closed:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listening TCP port, as advertised in beacon frames.
func (s *Server) Port() uint16 {
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return uint16(tcpAddr.Port)
	}
	return 0
}

// Incoming yields each accepted Session once its HELLO/ACK handshake
// and sharing exchange are already running on their own goroutine; the
// caller's job is to watch Session.Events for further decisions.
func (s *Server) Incoming() <-chan *Session {
	return s.incoming
}

// Close stops accepting new connections and waits for the accept loop
// to exit; sessions already handed out keep running.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
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
		session := newSession(conn, RoleReceiver, s.localUUID, s.anonymous, s.log)
		session.sharingSink = s.sharingSink
		session.duplicateSink = s.duplicateSink
		session.destResolver = s.destResolver
		session.store = s.store

		go session.Run()

		select {
		case s.incoming <- session:
		case <-s.closed:
			session.Abort(fmt.Errorf("server closing"))
			return
		}
	}
}
