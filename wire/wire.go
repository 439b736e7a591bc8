// Package wire implements the one binary framer shared by the discovery,
// icon-transfer, file-transfer and picker-ingress protocols: little-endian
// integers and length-prefixed strings, per spec.md §9's "choose a single
// typed binary-framer and reuse it" design note.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/google/uuid"
)

// MaxMessageLen clamps every UTF8String payload to 500 runes, on both
// write and read, per spec.md §4.5.
const MaxMessageLen = 500

var (
	// ErrStringTooLong indicates a UTF16String payload exceeded its
	// maxRunes bound.
	ErrStringTooLong = errors.New("wire: string exceeds max length")
	// ErrNegativeLength indicates a decoded length prefix would underflow.
	ErrNegativeLength = errors.New("wire: negative or absurd length prefix")
)

// Reader wraps an io.Reader with the little-endian primitive decoders
// used by every SYF wire format.
type Reader struct {
	r io.Reader
}

// NewReader wraps r. Callers that read many small values should pass a
// *bufio.Reader to avoid a syscall per field.
func NewReader(r io.Reader) *Reader {
	if _, ok := r.(*bufio.Reader); ok {
		return &Reader{r: r}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// Writer wraps an io.Writer with the little-endian primitive encoders.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (r *Reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Byte reads one byte (a command code or flags byte).
func (r *Reader) Byte() (byte, error) {
	buf, err := r.readFull(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	buf, err := r.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	buf, err := r.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	buf, err := r.readFull(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Int64 reads a little-endian int64.
func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// UUID reads a raw 16-byte RFC 4122 identifier.
func (r *Reader) UUID() (uuid.UUID, error) {
	buf, err := r.readFull(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], buf)
	return id, nil
}

// Bytes reads a 4-byte length prefix followed by that many raw bytes,
// bounded by maxLen.
func (r *Reader) Bytes(maxLen int) ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if int(n) < 0 || int(n) > maxLen {
		return nil, ErrNegativeLength
	}
	if n == 0 {
		return []byte{}, nil
	}
	return r.readFull(int(n))
}

// UTF8String reads a 4-byte length prefix followed by that many UTF-8
// bytes and clamps the result to MaxMessageLen runes. A length prefix
// above MaxMessageLen*4 bytes (the 4 bytes/rune upper bound) is
// rejected before any payload is read.
func (r *Reader) UTF8String() (string, error) {
	raw, err := r.Bytes(MaxMessageLen * 4)
	if err != nil {
		return "", err
	}
	s := string(raw)
	if runes := []rune(s); len(runes) > MaxMessageLen {
		s = string(runes[:MaxMessageLen])
	}
	return s, nil
}

// UTF16String reads a 4-byte byte-length prefix followed by that many
// UTF-16LE code units; a payload of more than maxRunes code units is
// rejected with ErrStringTooLong.
func (r *Reader) UTF16String(maxRunes int) (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if n%2 != 0 {
		return "", errors.New("wire: odd-length utf16 payload")
	}
	units := int(n) / 2
	if units > maxRunes {
		return "", ErrStringTooLong
	}
	if units == 0 {
		return "", nil
	}
	raw, err := r.readFull(int(n))
	if err != nil {
		return "", err
	}
	u16 := make([]uint16, units)
	for i := 0; i < units; i++ {
		u16[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	return string(utf16.Decode(u16)), nil
}

// Byte writes one byte.
func (w *Writer) Byte(b byte) error {
	_, err := w.w.Write([]byte{b})
	return err
}

// Uint16 writes a little-endian uint16.
func (w *Writer) Uint16(v uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	_, err := w.w.Write(buf)
	return err
}

// Uint32 writes a little-endian uint32.
func (w *Writer) Uint32(v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := w.w.Write(buf)
	return err
}

// Uint64 writes a little-endian uint64.
func (w *Writer) Uint64(v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	_, err := w.w.Write(buf)
	return err
}

// Int64 writes a little-endian int64.
func (w *Writer) Int64(v int64) error {
	return w.Uint64(uint64(v))
}

// UUID writes a raw 16-byte identifier.
func (w *Writer) UUID(id uuid.UUID) error {
	_, err := w.w.Write(id[:])
	return err
}

// Bytes writes a 4-byte length prefix followed by raw bytes.
func (w *Writer) Bytes(b []byte) error {
	if err := w.Uint32(uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.w.Write(b)
	return err
}

// UTF8String writes a 4-byte length prefix followed by UTF-8 bytes,
// clamped to MaxMessageLen runes.
func (w *Writer) UTF8String(s string) error {
	if len([]rune(s)) > MaxMessageLen {
		runes := []rune(s)
		s = string(runes[:MaxMessageLen])
	}
	return w.Bytes([]byte(s))
}

// UTF16String writes a 4-byte byte-length prefix followed by UTF-16LE
// code units, clamped to maxRunes.
func (w *Writer) UTF16String(s string, maxRunes int) error {
	runes := []rune(s)
	if len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}
	u16 := utf16.Encode(runes)
	buf := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], v)
	}
	if err := w.Uint32(uint32(len(buf))); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	_, err := w.w.Write(buf)
	return err
}

// CheckReservedFlags rejects any bit outside the known mask, per
// spec.md §4.2 ("all other bits reserved-zero; any set ⇒ reject").
func CheckReservedFlags(flags byte, knownMask byte) error {
	if flags&^knownMask != 0 {
		return fmt.Errorf("wire: reserved flag bits set: %08b", flags)
	}
	return nil
}
