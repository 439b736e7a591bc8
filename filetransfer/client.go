package filetransfer

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"syfd/applog"
	"syfd/model"
)

// DialTimeout bounds how long Dial waits for the TCP connect, mirroring
// the teacher's network.Client dial timeout in network/client.go.
const DialTimeout = 10 * time.Second

// ClientConfig carries the identity and outbound intent for a sender
// session.
type ClientConfig struct {
	LocalUUID    uuid.UUID
	Anonymous    bool
	ExpectedPeer uuid.UUID // uuid.Nil disables the identity check (anonymous target)
	List         model.TransferList
	Logger       applog.Logger
}

// Dial connects to a peer's advertised FT port and starts a
// sender-role Session, whose Run has already been started on its own
// goroutine by the time Dial returns.
func Dial(addr string, cfg ClientConfig) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: dial %q: %w", addr, err)
	}

	s := newSession(conn, RoleSender, cfg.LocalUUID, cfg.Anonymous, cfg.Logger)
	s.expectedPeerUUID = cfg.ExpectedPeer
	s.list = cfg.List

	go s.Run()
	return s, nil
}
