// Package icontransfer serves the local avatar over TCP and fetches a
// peer's avatar when its beacon advertises a hash the cache doesn't
// have, per spec.md §4.4. Framing is the 4-byte little-endian length
// prefix the spec prescribes, read directly rather than through the
// wire package's generic Bytes() helper, since the IT wire format has
// no command byte ahead of it.
package icontransfer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"syfd/applog"
	"syfd/model"
	"syfd/syfcrypto"
)

// RequestTimeout bounds one fetch attempt, per spec.md §4.4.
const RequestTimeout = 5 * time.Second

// Retry backoff schedule per spec.md §4.4 and the Open Question clamp.
const (
	RetryMinInterval = 15 * time.Second
	RetryMaxInterval = 15 * time.Minute
	RetryFactor      = 2
)

// Server answers icon requests for the local avatar. One accepted
// connection gets the 4-byte length plus raw JPEG bytes, then the
// connection is closed: spec.md §4.4's "idle if no icon" is a zero
// length with no payload.
type Server struct {
	listener net.Listener
	icon     func() *model.Icon
	log      applog.Logger

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Listen binds the icon server to addr (host:0 lets the OS choose a
// port, matching the discovery-advertised it_port contract).
func Listen(addr string, icon func() *model.Icon, logger applog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("icontransfer: listen %q: %w", addr, err)
	}
	if logger == nil {
		logger = applog.Default()
	}
	return &Server{listener: ln, icon: icon, log: logger.With("icontransfer.server")}, nil
}

// Port returns the OS-chosen TCP port the server is bound to.
func (s *Server) Port() uint16 {
	return uint16(s.listener.Addr().(*net.TCPAddr).Port)
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting connections and waits for in-flight handlers.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.listener.Close()
	})
	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetWriteDeadline(time.Now().Add(RequestTimeout))

	icon := s.icon()
	var payload []byte
	if icon != nil {
		payload = icon.Bytes
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
	if _, err := conn.Write(lenBuf); err != nil {
		s.log.Warnf("write length: %v", err)
		return
	}
	if len(payload) == 0 {
		return
	}
	if _, err := conn.Write(payload); err != nil {
		s.log.Warnf("write icon bytes: %v", err)
	}
}

// ErrNoIconAdvertised is returned by Fetch when the peer's length
// prefix is zero, i.e. it has no icon to serve.
var ErrNoIconAdvertised = errors.New("icontransfer: peer advertised no icon")

// Fetch connects to a peer's icon server, reads and validates the
// icon, and returns it. Callers are responsible for persisting it to
// the cache (storage.WriteCachedIcon) and swapping it into the
// PeerRecord.
func Fetch(addr string) (model.Icon, error) {
	conn, err := net.DialTimeout("tcp", addr, RequestTimeout)
	if err != nil {
		return model.Icon{}, fmt.Errorf("icontransfer: dial %q: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(RequestTimeout))

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return model.Icon{}, fmt.Errorf("icontransfer: read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	if n == 0 {
		return model.Icon{}, ErrNoIconAdvertised
	}
	if int(n) > model.IconMaxBytes {
		return model.Icon{}, fmt.Errorf("icontransfer: %w", syfcrypto.ErrIconTooLarge{Size: int(n)})
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(conn, data); err != nil {
		return model.Icon{}, fmt.Errorf("icontransfer: read icon bytes: %w", err)
	}

	return syfcrypto.ValidateIcon(data)
}

// FetchCoordinator runs one retrying fetch-and-cache loop per peer
// UUID whose advertised icon hash isn't cached yet. The per-peer
// goroutine exits as soon as a fetch succeeds or the coordinator is
// stopped.
type FetchCoordinator struct {
	onFetched func(peerID uuid.UUID, icon model.Icon)
	log       applog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFetchCoordinator creates a coordinator. onFetched is invoked from
// a per-peer goroutine on every successful fetch; callers typically
// persist the icon (storage.WriteCachedIcon) and update the registry.
func NewFetchCoordinator(onFetched func(peerID uuid.UUID, icon model.Icon), logger applog.Logger) *FetchCoordinator {
	if logger == nil {
		logger = applog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FetchCoordinator{
		onFetched: onFetched,
		log:       logger.With("icontransfer.fetch"),
		active:    make(map[uuid.UUID]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RequestFetch starts (or ignores, if one is already running) a
// retrying fetch loop for peerID against addr. Safe to call repeatedly
// as new beacons arrive; a fetch already in flight for the same peer
// is left alone rather than restarted.
func (c *FetchCoordinator) RequestFetch(peerID uuid.UUID, addr string) {
	c.mu.Lock()
	if _, running := c.active[peerID]; running {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.active[peerID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.active, peerID)
			c.mu.Unlock()
		}()
		c.run(ctx, peerID, addr)
	}()
}

func (c *FetchCoordinator) run(ctx context.Context, peerID uuid.UUID, addr string) {
	b := &backoff.Backoff{
		Min:    RetryMinInterval,
		Max:    RetryMaxInterval,
		Factor: RetryFactor,
	}

	for {
		icon, err := Fetch(addr)
		if err == nil {
			c.onFetched(peerID, icon)
			return
		}
		c.log.Warnf("fetch from peer %s failed: %v", peerID, err)

		delay := b.Duration()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// CancelFetch stops an in-flight fetch loop for peerID, if any (e.g.
// the peer went offline before the retry schedule converged).
func (c *FetchCoordinator) CancelFetch(peerID uuid.UUID) {
	c.mu.Lock()
	cancel, ok := c.active[peerID]
	delete(c.active, peerID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every in-flight fetch loop and waits for them to exit.
func (c *FetchCoordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}
