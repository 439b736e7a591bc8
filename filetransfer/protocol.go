// Package filetransfer implements the FT session state machine and
// wire protocol of spec.md §4.5: a TCP session per transfer, driving a
// sender's TransferList against a receiver's reception and duplicate-
// file policies. The command framing and per-file FileInFlight split
// (reader flavor vs. temp-file-then-rename writer flavor) generalize
// the teacher's outboundFileTransfer/inboundFileTransfer structs in
// network/file_transfer.go from its chunk-ack/nack handshake to this
// spec's SHARE/ITEM/START/CHUNK/COMMIT/ROLLBK exchange.
package filetransfer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"syfd/model"
	"syfd/wire"
)

// Command is one wire protocol command byte.
type Command byte

const (
	CmdAbort  Command = 0x00
	CmdClose  Command = 0x01
	CmdHello  Command = 0x02
	CmdAck    Command = 0x03
	CmdShare  Command = 0x10
	CmdItem   Command = 0x11
	CmdStart  Command = 0x12
	CmdSkip   Command = 0x13
	CmdChunk  Command = 0x14
	CmdAccept Command = 0x20
	CmdReject Command = 0x21
	CmdCommit Command = 0x22
	CmdRollbk Command = 0x23
	CmdStop   Command = 0x24
	CmdPause  Command = 0x30
)

func (c Command) String() string {
	switch c {
	case CmdAbort:
		return "ABORT"
	case CmdClose:
		return "CLOSE"
	case CmdHello:
		return "HELLO"
	case CmdAck:
		return "ACK"
	case CmdShare:
		return "SHARE"
	case CmdItem:
		return "ITEM"
	case CmdStart:
		return "START"
	case CmdSkip:
		return "SKIP"
	case CmdChunk:
		return "CHUNK"
	case CmdAccept:
		return "ACCEPT"
	case CmdReject:
		return "REJECT"
	case CmdCommit:
		return "COMMIT"
	case CmdRollbk:
		return "ROLLBK"
	case CmdStop:
		return "STOP"
	case CmdPause:
		return "PAUSE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(c))
	}
}

// MaxChunkLen is the largest accepted CHUNK payload, per spec.md §4.5.
const MaxChunkLen = 8192

// MaxBufferBytes is the flow-control high-water mark (8 * MaxChunkLen).
// TCP's own kernel send buffer provides the back-pressure the spec
// describes; this constant sizes the receive-side bufio.Reader so
// userspace buffering matches the same bound.
const MaxBufferBytes = 8 * MaxChunkLen

// AnonymousUUID is placed on the wire by an Offline initiator, per
// spec.md §4.5's "anonymous variant".
var AnonymousUUID uuid.UUID

// ErrProtocolViolation wraps any wire-level decode or ordering error;
// receiving it always triggers an abort.
var ErrProtocolViolation = errors.New("filetransfer: protocol violation")

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// readCommand reads the next command byte.
func readCommand(r *wire.Reader) (Command, error) {
	b, err := r.Byte()
	return Command(b), err
}

func writeCommand(w *wire.Writer, c Command) error {
	return w.Byte(byte(c))
}

// writeHello writes HELLO|<16-byte uuid>.
func writeHello(w *wire.Writer, id uuid.UUID) error {
	if err := writeCommand(w, CmdHello); err != nil {
		return err
	}
	return w.UUID(id)
}

// readHelloBody reads the 16-byte UUID following an already-consumed
// HELLO command byte.
func readHelloBody(r *wire.Reader) (uuid.UUID, error) {
	return r.UUID()
}

// writeShareHeader writes SHARE|u32 total_files|u64 total_bytes|string message.
func writeShareHeader(w *wire.Writer, totalFiles uint32, totalBytes int64, message string) error {
	if err := writeCommand(w, CmdShare); err != nil {
		return err
	}
	if err := w.Uint32(totalFiles); err != nil {
		return err
	}
	if err := w.Int64(totalBytes); err != nil {
		return err
	}
	return w.UTF8String(message)
}

type shareHeader struct {
	TotalFiles uint32
	TotalBytes int64
	Message    string
}

func readShareHeaderBody(r *wire.Reader) (shareHeader, error) {
	var h shareHeader
	totalFiles, err := r.Uint32()
	if err != nil {
		return h, err
	}
	totalBytes, err := r.Int64()
	if err != nil {
		return h, err
	}
	message, err := r.UTF8String()
	if err != nil {
		return h, err
	}
	h.TotalFiles, h.TotalBytes, h.Message = totalFiles, totalBytes, message
	return h, nil
}

// writeItem writes ITEM|FileDescriptor.
func writeItem(w *wire.Writer, fd model.FileDescriptor) error {
	if err := writeCommand(w, CmdItem); err != nil {
		return err
	}
	if err := w.UTF8String(fd.RelativePath); err != nil {
		return err
	}
	if err := w.Int64(fd.SizeBytes); err != nil {
		return err
	}
	return w.Int64(fd.LastModifiedUnix)
}

func readItemBody(r *wire.Reader) (model.FileDescriptor, error) {
	var fd model.FileDescriptor
	relPath, err := r.UTF8String()
	if err != nil {
		return fd, err
	}
	size, err := r.Int64()
	if err != nil {
		return fd, err
	}
	modified, err := r.Int64()
	if err != nil {
		return fd, err
	}
	fd.RelativePath = relPath
	fd.SizeBytes = size
	fd.LastModifiedUnix = modified
	return fd, nil
}

// writeStringMessage writes <cmd>|string message, used by ACCEPT/REJECT.
func writeStringMessage(w *wire.Writer, cmd Command, message string) error {
	if err := writeCommand(w, cmd); err != nil {
		return err
	}
	return w.UTF8String(message)
}

func readStringMessageBody(r *wire.Reader) (string, error) {
	return r.UTF8String()
}

// writeChunk writes CHUNK|u32 len|bytes, rejecting oversize payloads.
func writeChunk(w *wire.Writer, data []byte) error {
	if len(data) > MaxChunkLen {
		return violation("chunk payload %d exceeds MaxChunkLen", len(data))
	}
	if err := writeCommand(w, CmdChunk); err != nil {
		return err
	}
	return w.Bytes(data)
}

func readChunkBody(r *wire.Reader) ([]byte, error) {
	return r.Bytes(MaxChunkLen)
}
