package filetransfer

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"syfd/applog"
	"syfd/model"
	"syfd/wire"
)

// Role distinguishes the sending from the receiving end of a session.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func roleName(r Role) string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// EventType identifies one session lifecycle notification.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventSharingDecision   EventType = "sharing_decision_needed"
	EventDuplicateFile     EventType = "duplicate_file_needed"
	EventTransferCompleted EventType = "transfer_completed"
	EventClosed            EventType = "closed"
	EventAborted           EventType = "aborted"
)

// Event carries one session notification. Fields not relevant to Type
// are left zero.
type Event struct {
	Type    EventType
	Session *Session
	Err     error
}

// SharingDecisionSink resolves an inbound SHARE request. An Ask
// decision is signaled via EventSharingDecision and resolved later
// through Session.ResolveSharing.
type SharingDecisionSink interface {
	DecideSharing(session *Session, list model.TransferList, message string) model.ReceptionAction
}

// DuplicateFileDecisionSink resolves a destination-name conflict. An
// Ask decision is signaled via EventDuplicateFile and resolved later
// through Session.ResolveDuplicate.
type DuplicateFileDecisionSink interface {
	DecideDuplicate(session *Session, fd model.FileDescriptor, existingPath string) model.DuplicateFileAction
}

// DestinationResolver maps the sending peer's UUID to the concrete
// absolute base path files should land under, creating it if
// necessary (spec.md §4.4's reception_policy base_path plus the
// sender-name/date folder append flags are resolved by the caller
// before this is invoked).
type DestinationResolver func(peerUUID uuid.UUID) (string, error)

// Session is one FT transfer: a TCP connection plus the protocol state
// machine driving a sender's TransferList against a receiver's
// reception and duplicate-file policies.
type Session struct {
	ID   uuid.UUID // internal identifier, never placed on the wire
	Role Role

	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
	wMu  sync.Mutex // serializes writers: the protocol goroutine vs. Abort/Pause

	log applog.Logger

	localUUID        uuid.UUID
	anonymous        bool
	expectedPeerUUID uuid.UUID // set on outbound sessions once the target peer is known
	PeerUUID         uuid.UUID
	PeerAnonymous    bool

	sharingSink   SharingDecisionSink
	duplicateSink DuplicateFileDecisionSink
	destResolver  DestinationResolver
	store         checkpointStore

	list model.TransferList // sender: populated up front; receiver: populated from ITEMs

	events chan Event

	mu            sync.Mutex
	cond          *sync.Cond
	state         State
	pause         pauseStack
	err           error
	destBasePath  string
	applyToAllDup *model.DuplicateFileAction

	recvIndex          int // receiver: index into s.list.Files currently/next being processed
	pendingDupFD       *model.FileDescriptor
	pendingDupExisting string

	infoMu            sync.Mutex
	info              model.TransferInfo
	startedAt         time.Time
	transferStartedAt time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// checkpointStore is the subset of *storage.Store a Session needs to
// record in-flight progress; kept as a narrow interface so tests can
// stub it without a real SQLite database.
type checkpointStore interface {
	UpsertTransferCheckpoint(checkpoint checkpointRecord) error
	DeleteTransferCheckpoint(transferID, relativePath string) error
}

// checkpointRecord mirrors storage.TransferCheckpoint's fields so the
// session code depends only on checkpointStore; storage itself is
// imported only by the adapter in checkpoint.go.
type checkpointRecord struct {
	TransferID       string
	RelativePath     string
	Direction        string
	NextChunk        int64
	BytesTransferred int64
	TempPath         string
}

// saveCheckpoint records fd's in-progress position if a store was
// wired in; a nil store makes this a no-op rather than an error, since
// checkpoint persistence is optional introspection, not a correctness
// requirement.
func (s *Session) saveCheckpoint(fd model.FileDescriptor, tempPath string, bytesTransferred int64) {
	if s.store == nil {
		return
	}
	direction := "send"
	if s.Role == RoleReceiver {
		direction = "receive"
	}
	if err := s.store.UpsertTransferCheckpoint(checkpointRecord{
		TransferID:       s.ID.String(),
		RelativePath:     fd.RelativePath,
		Direction:        direction,
		NextChunk:        bytesTransferred / int64(MaxChunkLen),
		BytesTransferred: bytesTransferred,
		TempPath:         tempPath,
	}); err != nil {
		s.log.Warnf("save checkpoint for %q: %v", fd.RelativePath, err)
	}
}

// clearCheckpoint removes any persisted progress for fd once it
// reaches a terminal state (committed or rolled back).
func (s *Session) clearCheckpoint(fd model.FileDescriptor) {
	if s.store == nil {
		return
	}
	if err := s.store.DeleteTransferCheckpoint(s.ID.String(), fd.RelativePath); err != nil {
		s.log.Warnf("clear checkpoint for %q: %v", fd.RelativePath, err)
	}
}

func newSession(conn net.Conn, role Role, localUUID uuid.UUID, anonymous bool, logger applog.Logger) *Session {
	if logger == nil {
		logger = applog.Default()
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
	}
	br := bufio.NewReaderSize(conn, MaxBufferBytes)
	s := &Session{
		ID:        uuid.New(),
		Role:      role,
		conn:      conn,
		r:         wire.NewReader(br),
		w:         wire.NewWriter(conn),
		log:       logger.With(fmt.Sprintf("filetransfer.%s", roleName(role))),
		localUUID: localUUID,
		anonymous: anonymous,
		state:     StateNew,
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Events returns the channel of session lifecycle notifications.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Info returns a snapshot of the progress counters, speeds recomputed
// at read time under the same mutex the protocol goroutine updates
// counters through.
func (s *Session) Info() model.TransferInfo {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	info := s.info
	if !s.transferStartedAt.IsZero() {
		info.ElapsedMs = time.Since(s.startedAt).Milliseconds()
		elapsedTransfer := time.Since(s.transferStartedAt).Milliseconds() - info.PausedMs
		info.TransferMs = elapsedTransfer
		if elapsedTransfer > 0 {
			info.AverageSpeedBps = float64(info.TransferredBytes) / (float64(elapsedTransfer) / 1000)
		}
	}
	return info
}

func (s *Session) updateInfo(fn func(*model.TransferInfo)) {
	s.infoMu.Lock()
	fn(&s.info)
	s.infoMu.Unlock()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) writeLocked(fn func() error) error {
	s.wMu.Lock()
	defer s.wMu.Unlock()
	return fn()
}

// Pause requests a user-initiated pause. The protocol loop checks the
// gate at each chunk-sized step and blocks there until Resume or
// Abort, matching spec.md §4.5 ("stops consuming from the socket");
// our synchronous per-file loop approximates that by gating between
// steps rather than preempting an in-flight syscall.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.state.Paused() || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.pause.push(s.state)
	s.state = StatePausedByUser
	s.mu.Unlock()

	_ = s.writeLocked(func() error { return writeCommand(s.w, CmdPause) })
}

// Resume reverses a user-initiated Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.state != StatePausedByUser {
		s.mu.Unlock()
		return
	}
	prev, _ := s.pause.pop()
	s.state = prev
	s.cond.Broadcast()
	s.mu.Unlock()

	_ = s.writeLocked(func() error { return writeCommand(s.w, CmdPause) })
}

// waitIfLocallyPaused blocks the protocol goroutine while this side
// has paused itself, waking on Resume or Abort.
func (s *Session) waitIfLocallyPaused() (aborted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == StatePausedByUser {
		s.cond.Wait()
	}
	return s.state == StateAborted
}

// parkForDecision puts the session into an implicit pause while an
// Ask-routed sharing or duplicate-file decision is outstanding: no
// PAUSE is sent on the wire (per spec.md §4.5). continueSharing lifts
// it by setting a fresh state directly, ResolveDuplicate by popping
// the saved state. Pause is a no-op while parked; Resume is not
// blocked: it pops the saved state and sends PAUSE like any resume.
func (s *Session) parkForDecision() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Paused() || s.state.Terminal() {
		return
	}
	s.pause.push(s.state)
	s.state = StatePausedByUser
}

// togglePeerPause records a PAUSE command read from the peer: enters
// PausedByPeer the first time, exits it (self-toggling) the second.
func (s *Session) togglePeerPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePausedByPeer {
		prev, ok := s.pause.pop()
		if ok {
			s.state = prev
		}
		return
	}
	if s.state.Paused() || s.state.Terminal() {
		return
	}
	s.pause.push(s.state)
	s.state = StatePausedByPeer
}

// Abort terminates the session immediately: best-effort ABORT send,
// then socket reset. Safe to call concurrently with the protocol
// goroutine — net.Conn's Close/deadline methods are safe for
// concurrent use alongside a blocked Read/Write.
func (s *Session) Abort(cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateAborted
	s.err = cause
	s.cond.Broadcast()
	s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.writeLocked(func() error { return writeCommand(s.w, CmdAbort) })

	s.finish(Event{Type: EventAborted, Session: s, Err: cause})
}

func (s *Session) finish(ev Event) {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.done)
		s.emit(ev)
		close(s.events)
	})
}

// readNextCommand reads the next command byte, transparently toggling
// local pause state on any CmdPause received rather than surfacing it
// to protocol-step callers — per spec.md §4.5, PAUSE is self-toggling
// and orthogonal to the surrounding state machine.
func (s *Session) readNextCommand() (Command, error) {
	for {
		cmd, err := readCommand(s.r)
		if err != nil {
			return 0, err
		}
		if cmd == CmdPause {
			s.togglePeerPause()
			continue
		}
		return cmd, nil
	}
}
