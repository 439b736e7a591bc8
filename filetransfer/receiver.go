package filetransfer

import (
	"fmt"
	"os"
	"path/filepath"

	"syfd/model"
)

// runReceiverFiles drives the receiver side of the per-file exchange
// for however many files of s.list remain from s.recvIndex onward, per
// spec.md §4.5. It returns nil both on a clean CLOSE and when parked
// on an Ask-routed duplicate-file decision; ResolveDuplicate resumes
// the loop from s.recvIndex on its own goroutine in the latter case.
func (s *Session) runReceiverFiles() error {
	for {
		if s.waitIfLocallyPaused() {
			return nil
		}

		cmd, err := s.readNextCommand()
		if err != nil {
			return fmt.Errorf("read per-file command: %w", err)
		}

		switch cmd {
		case CmdClose:
			return s.receiverClose()
		case CmdSkip:
			if err := s.receiveSkip(); err != nil {
				return err
			}
		case CmdStart:
			parked, err := s.receiveStart()
			if err != nil {
				return err
			}
			if parked {
				return nil
			}
		default:
			return violation("unexpected command %s between files", cmd)
		}
	}
}

func (s *Session) currentFD() (*model.FileDescriptor, error) {
	if s.recvIndex >= len(s.list.Files) {
		return nil, violation("peer referenced file beyond the advertised list")
	}
	return &s.list.Files[s.recvIndex], nil
}

func (s *Session) receiveSkip() error {
	fd, err := s.currentFD()
	if err != nil {
		return err
	}
	fd.Status = model.Failed
	s.updateInfo(func(i *model.TransferInfo) { i.SkippedFiles++; i.SkippedBytes += fd.SizeBytes })
	s.recvIndex++
	if err := s.writeLocked(func() error { return writeCommand(s.w, CmdReject) }); err != nil {
		return fmt.Errorf("reply REJECT to SKIP: %w", err)
	}
	return nil
}

// receiveStart handles one START: resolves a destination path (with
// duplicate-name conflict resolution), replies ACCEPT or REJECT, and
// on ACCEPT streams CHUNKs through to the COMMIT/ROLLBK exchange.
// Returns parked=true if an Ask-routed duplicate decision suspended
// processing; the caller must stop driving the loop in that case.
func (s *Session) receiveStart() (parked bool, err error) {
	fd, err := s.currentFD()
	if err != nil {
		return false, err
	}

	destPath := filepath.Join(s.destBasePath, filepath.FromSlash(fd.RelativePath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		s.log.Warnf("mkdir for %q: %v", fd.RelativePath, err)
		fd.Status = model.Rejected
		s.recvIndex++
		return false, s.replyStart(false)
	}

	finalPath := destPath
	if _, statErr := os.Stat(destPath); statErr == nil {
		resolved, action, parked := s.resolveDuplicate(fd, destPath)
		if parked {
			return true, nil
		}
		switch action {
		case model.DuplicateReplace:
			finalPath = destPath
		case model.DuplicateKeepBoth:
			finalPath = resolved
		case model.DuplicateKeep:
			fd.Status = model.Rejected
			s.recvIndex++
			return false, s.replyStart(false)
		default:
			return false, violation("invalid resolved duplicate action %v", action)
		}
	}

	return false, s.beginFileReceive(fd, finalPath)
}

// resolveDuplicate applies the "apply to all remaining" sticky choice
// if one is already set, otherwise consults duplicateSink. When the
// sink returns DuplicateAsk, the session is parked and the caller
// returns control to Run's caller; ResolveDuplicate resumes later.
func (s *Session) resolveDuplicate(fd *model.FileDescriptor, existingPath string) (resolvedPath string, action model.DuplicateFileAction, parked bool) {
	s.mu.Lock()
	sticky := s.applyToAllDup
	s.mu.Unlock()

	if sticky != nil {
		action = *sticky
	} else if s.duplicateSink != nil {
		action = s.duplicateSink.DecideDuplicate(s, *fd, existingPath)
	} else {
		action = model.DuplicateAsk
	}

	if action == model.DuplicateAsk {
		s.mu.Lock()
		s.pendingDupFD = fd
		s.pendingDupExisting = existingPath
		s.mu.Unlock()
		s.parkForDecision()
		s.emit(Event{Type: EventDuplicateFile, Session: s})
		return "", 0, true
	}
	if action == model.DuplicateKeepBoth {
		resolvedPath = s.nextKeepBothPath(existingPath)
		if resolvedPath == "" {
			action = model.DuplicateKeep
		}
	}
	return resolvedPath, action, false
}

// nextKeepBothPath finds dir/name_1.ext, dir/name_2.ext, ... up to a
// bounded number of attempts, returning "" if all are taken.
func (s *Session) nextKeepBothPath(existingPath string) string {
	dir := filepath.Dir(existingPath)
	name, ext := splitNameExt(filepath.Base(existingPath))
	for n := 1; n <= 1000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return ""
}

// ResolveDuplicate is called by the orchestrator once the user decides
// an Ask-routed duplicate-file conflict. Safe to call from any
// goroutine. If applyToAll is set, the choice sticks for the rest of
// this session's remaining files.
func (s *Session) ResolveDuplicate(action model.DuplicateFileAction, applyToAll bool) {
	if applyToAll {
		s.mu.Lock()
		a := action
		s.applyToAllDup = &a
		s.mu.Unlock()
	}
	go func() {
		s.mu.Lock()
		fd := s.pendingDupFD
		existing := s.pendingDupExisting
		s.pendingDupFD = nil
		s.pendingDupExisting = ""
		if s.state == StatePausedByUser {
			if prev, ok := s.pause.pop(); ok {
				s.state = prev
			}
		}
		s.mu.Unlock()

		if fd == nil {
			s.Abort(violation("ResolveDuplicate called with no pending decision"))
			return
		}

		finalPath := existing
		switch action {
		case model.DuplicateReplace:
			// finalPath already == existing
		case model.DuplicateKeepBoth:
			if p := s.nextKeepBothPath(existing); p != "" {
				finalPath = p
			} else {
				action = model.DuplicateKeep
			}
		}

		var err error
		if action == model.DuplicateKeep {
			fd.Status = model.Rejected
			s.recvIndex++
			err = s.replyStart(false)
		} else {
			err = s.beginFileReceive(fd, finalPath)
		}
		if err != nil {
			s.Abort(err)
			return
		}
		// The park was lifted above, restoring the InTransfer state
		// continueSharing set; resume driving the remaining files.
		if err := s.runReceiverFiles(); err != nil {
			s.Abort(err)
		}
	}()
}

func (s *Session) replyStart(accept bool) error {
	cmd := CmdReject
	if accept {
		cmd = CmdAccept
	}
	if err := s.writeLocked(func() error { return writeCommand(s.w, cmd) }); err != nil {
		return fmt.Errorf("reply to START: %w", err)
	}
	return nil
}

// beginFileReceive replies ACCEPT, opens a temp file beside finalPath,
// streams CHUNKs into it, then runs the receiver-side commit/rollback
// exchange.
func (s *Session) beginFileReceive(fd *model.FileDescriptor, finalPath string) error {
	if err := s.replyStart(true); err != nil {
		return err
	}
	fd.Status = model.InTransfer
	s.updateInfo(func(i *model.TransferInfo) { i.FileInTransfer = fd.RelativePath })

	tempPath := finalPath + ".syf-part"
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		fd.Status = model.Failed
		return violation("open temp file for %q: %v", fd.RelativePath, err)
	}
	defer func() { _ = out.Close() }()

	var received int64
	for received < fd.SizeBytes {
		cmd, err := s.readNextCommand()
		if err != nil {
			return fmt.Errorf("read CHUNK: %w", err)
		}
		switch cmd {
		case CmdChunk:
			data, err := readChunkBody(s.r)
			if err != nil {
				return fmt.Errorf("read CHUNK body: %w", err)
			}
			if _, werr := out.Write(data); werr != nil {
				fd.Status = model.Failed
				_ = out.Close()
				_ = os.Remove(tempPath)
				return s.sendStopAndAwaitRollback()
			}
			received += int64(len(data))
			s.updateInfo(func(i *model.TransferInfo) {
				i.TransferredBytes += int64(len(data))
				i.CurrentSpeedBps = currentSpeed(int64(len(data)))
			})
			s.saveCheckpoint(*fd, tempPath, received)
		case CmdRollbk:
			fd.Status = model.Failed
			_ = out.Close()
			_ = os.Remove(tempPath)
			s.recvIndex++
			s.clearCheckpoint(*fd)
			return s.writeLocked(func() error { return writeCommand(s.w, CmdRollbk) })
		default:
			return violation("unexpected command %s while receiving chunks", cmd)
		}
	}

	return s.finishFileReceive(fd, out, tempPath, finalPath)
}

// finishFileReceive awaits the sender's COMMIT or ROLLBK and, on
// COMMIT, atomically renames the temp file into place.
func (s *Session) finishFileReceive(fd *model.FileDescriptor, out *os.File, tempPath, finalPath string) error {
	cmd, err := s.readNextCommand()
	if err != nil {
		return fmt.Errorf("read COMMIT/ROLLBK: %w", err)
	}
	switch cmd {
	case CmdCommit:
		if err := out.Close(); err != nil {
			fd.Status = model.Failed
			_ = os.Remove(tempPath)
			s.recvIndex++
			s.clearCheckpoint(*fd)
			return s.writeLocked(func() error { return writeCommand(s.w, CmdRollbk) })
		}
		if err := os.Rename(tempPath, finalPath); err != nil {
			fd.Status = model.Failed
			_ = os.Remove(tempPath)
			s.recvIndex++
			s.clearCheckpoint(*fd)
			return s.writeLocked(func() error { return writeCommand(s.w, CmdRollbk) })
		}
		fd.Status = model.Transferred
		s.updateInfo(func(i *model.TransferInfo) { i.TransferredFiles++ })
		s.recvIndex++
		s.clearCheckpoint(*fd)
		return s.writeLocked(func() error { return writeCommand(s.w, CmdCommit) })
	case CmdRollbk:
		fd.Status = model.Failed
		_ = out.Close()
		_ = os.Remove(tempPath)
		s.recvIndex++
		s.clearCheckpoint(*fd)
		return s.writeLocked(func() error { return writeCommand(s.w, CmdRollbk) })
	default:
		return violation("expected COMMIT/ROLLBK, got %s", cmd)
	}
}

// sendStopAndAwaitRollback is the receiver-initiated rollback path: a
// local write failure mid-stream sends STOP and drains chunks until
// the sender's ROLLBK arrives.
func (s *Session) sendStopAndAwaitRollback() error {
	if err := s.writeLocked(func() error { return writeCommand(s.w, CmdStop) }); err != nil {
		return fmt.Errorf("send STOP: %w", err)
	}
	for {
		cmd, err := s.readNextCommand()
		if err != nil {
			return fmt.Errorf("await ROLLBK after STOP: %w", err)
		}
		switch cmd {
		case CmdChunk:
			if _, err := readChunkBody(s.r); err != nil {
				return fmt.Errorf("drain CHUNK after STOP: %w", err)
			}
		case CmdRollbk:
			s.recvIndex++
			return s.writeLocked(func() error { return writeCommand(s.w, CmdRollbk) })
		default:
			return violation("expected CHUNK/ROLLBK draining after STOP, got %s", cmd)
		}
	}
}

func (s *Session) receiverClose() error {
	s.setState(StateTransferCompleted)
	s.emit(Event{Type: EventTransferCompleted, Session: s})
	s.setState(StateClosing)
	if err := s.writeLocked(func() error { return writeCommand(s.w, CmdClose) }); err != nil {
		return fmt.Errorf("reply CLOSE: %w", err)
	}
	s.setState(StateClosed)
	s.finish(Event{Type: EventClosed, Session: s})
	return nil
}
