package filetransfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"syfd/model"
)

// Run drives the session's handshake and sharing exchange to
// completion (or abort), dispatching to the per-file sender or
// receiver loop once files start moving. Intended to be run on its
// own goroutine, per spec.md §5's one-session-per-owning-loop model.
func (s *Session) Run() {
	s.startedAt = time.Now()
	s.setState(StateConnecting)

	var err error
	if s.Role == RoleSender {
		err = s.handshakeSender()
	} else {
		err = s.handshakeReceiver()
	}
	if err != nil {
		s.Abort(err)
		return
	}

	if s.Role == RoleSender {
		err = s.runSenderShare()
	} else {
		err = s.runReceiverShare()
	}
	if err != nil {
		s.Abort(err)
		return
	}
}

func (s *Session) handshakeSender() error {
	id := s.localUUID
	if s.anonymous {
		id = AnonymousUUID
	}
	if err := s.writeLocked(func() error { return writeHello(s.w, id) }); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	cmd, err := readCommand(s.r)
	if err != nil {
		return fmt.Errorf("read HELLO reply: %w", err)
	}
	if cmd != CmdHello {
		return violation("expected HELLO reply, got %s", cmd)
	}
	peerID, err := readHelloBody(s.r)
	if err != nil {
		return fmt.Errorf("read HELLO reply body: %w", err)
	}
	if s.expectedPeerUUID != uuid.Nil && peerID != s.expectedPeerUUID {
		return violation("peer uuid mismatch: expected %s got %s", s.expectedPeerUUID, peerID)
	}
	s.PeerUUID = peerID

	if err := s.writeLocked(func() error { return writeCommand(s.w, CmdAck) }); err != nil {
		return fmt.Errorf("send ACK: %w", err)
	}

	s.setState(StateConnected)
	s.emit(Event{Type: EventConnected, Session: s})
	return nil
}

func (s *Session) handshakeReceiver() error {
	cmd, err := readCommand(s.r)
	if err != nil {
		return fmt.Errorf("read HELLO: %w", err)
	}
	if cmd != CmdHello {
		return violation("expected HELLO, got %s", cmd)
	}
	peerID, err := readHelloBody(s.r)
	if err != nil {
		return fmt.Errorf("read HELLO body: %w", err)
	}
	s.PeerUUID = peerID
	s.PeerAnonymous = peerID == uuid.Nil

	id := s.localUUID
	if s.anonymous {
		id = AnonymousUUID
	}
	if err := s.writeLocked(func() error { return writeHello(s.w, id) }); err != nil {
		return fmt.Errorf("send HELLO reply: %w", err)
	}

	cmd, err = readCommand(s.r)
	if err != nil {
		return fmt.Errorf("read ACK: %w", err)
	}
	if cmd != CmdAck {
		return violation("expected ACK, got %s", cmd)
	}

	s.setState(StateConnected)
	s.emit(Event{Type: EventConnected, Session: s})
	return nil
}

// runSenderShare sends the SHARE/ITEM.../SHARE sequence, then awaits
// the receiver's ACCEPT or REJECT.
func (s *Session) runSenderShare() error {
	if err := s.writeLocked(func() error {
		if err := writeShareHeader(s.w, uint32(len(s.list.Files)), s.list.TotalBytes, ""); err != nil {
			return err
		}
		for _, fd := range s.list.Files {
			if err := writeItem(s.w, fd); err != nil {
				return err
			}
		}
		return writeCommand(s.w, CmdShare)
	}); err != nil {
		return fmt.Errorf("send SHARE: %w", err)
	}

	cmd, err := s.readNextCommand()
	if err != nil {
		return fmt.Errorf("read sharing decision: %w", err)
	}
	switch cmd {
	case CmdAccept:
		if _, err := readStringMessageBody(s.r); err != nil {
			return fmt.Errorf("read ACCEPT body: %w", err)
		}
		s.setState(StateInTransfer)
		s.transferStartedAt = time.Now()
		return s.runSenderFiles()
	case CmdReject:
		if _, err := readStringMessageBody(s.r); err != nil {
			return fmt.Errorf("read REJECT body: %w", err)
		}
		return s.closeGracefully()
	case CmdAbort:
		return violation("peer aborted during sharing")
	default:
		return violation("unexpected command %s awaiting sharing decision", cmd)
	}
}

// runReceiverShare reads the SHARE/ITEM.../SHARE sequence, validates
// it, resolves a reception decision, and replies.
func (s *Session) runReceiverShare() error {
	cmd, err := s.readNextCommand()
	if err != nil {
		return fmt.Errorf("read SHARE: %w", err)
	}
	if cmd != CmdShare {
		return violation("expected SHARE, got %s", cmd)
	}
	header, err := readShareHeaderBody(s.r)
	if err != nil {
		return fmt.Errorf("read SHARE header: %w", err)
	}

	files := make([]model.FileDescriptor, 0, header.TotalFiles)
	var sumBytes int64
	for {
		cmd, err := s.readNextCommand()
		if err != nil {
			return fmt.Errorf("read ITEM/terminating SHARE: %w", err)
		}
		if cmd == CmdShare {
			break
		}
		if cmd != CmdItem {
			return violation("expected ITEM, got %s", cmd)
		}
		fd, err := readItemBody(s.r)
		if err != nil {
			return fmt.Errorf("read ITEM body: %w", err)
		}
		if err := validateRelativePath(fd.RelativePath); err != nil {
			return err
		}
		fd.Status = model.Scheduled
		files = append(files, fd)
		sumBytes += fd.SizeBytes
	}

	if uint32(len(files)) != header.TotalFiles {
		return violation("SHARE advertised %d files, received %d", header.TotalFiles, len(files))
	}
	if sumBytes != header.TotalBytes {
		return violation("SHARE advertised %d total bytes, items summed to %d", header.TotalBytes, sumBytes)
	}

	s.list = model.TransferList{Files: files, TotalBytes: sumBytes}

	action := model.Ask
	if s.sharingSink != nil {
		action = s.sharingSink.DecideSharing(s, s.list, header.Message)
	}
	if action == model.Ask {
		s.parkForDecision()
		s.emit(Event{Type: EventSharingDecision, Session: s})
		return nil
	}
	return s.continueSharing(action, "")
}

// ResolveSharing is called by the orchestrator once the user decides
// an Ask-routed sharing request. Safe to call from any goroutine.
func (s *Session) ResolveSharing(action model.ReceptionAction, message string) {
	go func() {
		if err := s.continueSharing(action, message); err != nil {
			s.Abort(err)
		}
	}()
}

func (s *Session) continueSharing(action model.ReceptionAction, message string) error {
	switch action {
	case model.Accept:
		basePath, err := "", error(nil)
		if s.destResolver != nil {
			basePath, err = s.destResolver(s.PeerUUID)
		}
		if err != nil {
			return fmt.Errorf("resolve destination base path: %w", err)
		}
		s.mu.Lock()
		s.destBasePath = basePath
		s.mu.Unlock()

		if err := s.writeLocked(func() error { return writeStringMessage(s.w, CmdAccept, message) }); err != nil {
			return fmt.Errorf("send ACCEPT: %w", err)
		}
		s.setState(StateInTransfer)
		s.transferStartedAt = time.Now()
		return s.runReceiverFiles()
	case model.Reject:
		if err := s.writeLocked(func() error { return writeStringMessage(s.w, CmdReject, message) }); err != nil {
			return fmt.Errorf("send REJECT: %w", err)
		}
		// The sender closes after a REJECT; answer its CLOSE.
		cmd, err := s.readNextCommand()
		if err != nil {
			return fmt.Errorf("read CLOSE after REJECT: %w", err)
		}
		if cmd != CmdClose {
			return violation("expected CLOSE after REJECT, got %s", cmd)
		}
		s.setState(StateClosing)
		if err := s.writeLocked(func() error { return writeCommand(s.w, CmdClose) }); err != nil {
			return fmt.Errorf("reply CLOSE: %w", err)
		}
		s.setState(StateClosed)
		s.finish(Event{Type: EventClosed, Session: s})
		return nil
	default:
		return violation("invalid resolved sharing action %v", action)
	}
}

// closeGracefully performs the CLOSE/CLOSE handshake of spec.md §4.5's
// termination section.
func (s *Session) closeGracefully() error {
	s.setState(StateClosing)
	if err := s.writeLocked(func() error { return writeCommand(s.w, CmdClose) }); err != nil {
		return fmt.Errorf("send CLOSE: %w", err)
	}
	cmd, err := s.readNextCommand()
	if err != nil {
		return fmt.Errorf("read CLOSE reply: %w", err)
	}
	if cmd != CmdClose {
		return violation("expected CLOSE reply, got %s", cmd)
	}
	s.setState(StateClosed)
	s.finish(Event{Type: EventClosed, Session: s})
	return nil
}
