package filetransfer

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"syfd/model"
	"syfd/wire"
)

func TestCommandStringKnownAndUnknown(t *testing.T) {
	if got := CmdChunk.String(); got != "CHUNK" {
		t.Fatalf("CmdChunk.String() = %q", got)
	}
	if got := Command(0x7f).String(); got != "UNKNOWN(0x7f)" {
		t.Fatalf("unknown command String() = %q", got)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	id := uuid.New()
	if err := writeHello(w, id); err != nil {
		t.Fatalf("writeHello: %v", err)
	}

	r := wire.NewReader(&buf)
	cmd, err := readCommand(r)
	if err != nil {
		t.Fatalf("readCommand: %v", err)
	}
	if cmd != CmdHello {
		t.Fatalf("cmd = %s, want HELLO", cmd)
	}
	got, err := readHelloBody(r)
	if err != nil {
		t.Fatalf("readHelloBody: %v", err)
	}
	if got != id {
		t.Fatalf("uuid = %s, want %s", got, id)
	}
}

func TestShareHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := writeShareHeader(w, 3, 1024, "hello there"); err != nil {
		t.Fatalf("writeShareHeader: %v", err)
	}

	r := wire.NewReader(&buf)
	if _, err := readCommand(r); err != nil {
		t.Fatalf("readCommand: %v", err)
	}
	h, err := readShareHeaderBody(r)
	if err != nil {
		t.Fatalf("readShareHeaderBody: %v", err)
	}
	if h.TotalFiles != 3 || h.TotalBytes != 1024 || h.Message != "hello there" {
		t.Fatalf("header = %+v", h)
	}
}

func TestItemRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	fd := model.FileDescriptor{RelativePath: "docs/readme.txt", SizeBytes: 42, LastModifiedUnix: 1700000000}
	if err := writeItem(w, fd); err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	r := wire.NewReader(&buf)
	if _, err := readCommand(r); err != nil {
		t.Fatalf("readCommand: %v", err)
	}
	got, err := readItemBody(r)
	if err != nil {
		t.Fatalf("readItemBody: %v", err)
	}
	if got.RelativePath != fd.RelativePath || got.SizeBytes != fd.SizeBytes || got.LastModifiedUnix != fd.LastModifiedUnix {
		t.Fatalf("item = %+v, want %+v", got, fd)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	payload := bytes.Repeat([]byte{0xab}, 4096)
	if err := writeChunk(w, payload); err != nil {
		t.Fatalf("writeChunk: %v", err)
	}

	r := wire.NewReader(&buf)
	if _, err := readCommand(r); err != nil {
		t.Fatalf("readCommand: %v", err)
	}
	got, err := readChunkBody(r)
	if err != nil {
		t.Fatalf("readChunkBody: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("chunk payload mismatch, got %d bytes", len(got))
	}
}

func TestWriteChunkRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	oversize := make([]byte, MaxChunkLen+1)
	if err := writeChunk(w, oversize); err == nil {
		t.Fatalf("expected error for oversize chunk")
	}
}

func TestStringMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := writeStringMessage(w, CmdAccept, "welcome"); err != nil {
		t.Fatalf("writeStringMessage: %v", err)
	}

	r := wire.NewReader(&buf)
	cmd, err := readCommand(r)
	if err != nil {
		t.Fatalf("readCommand: %v", err)
	}
	if cmd != CmdAccept {
		t.Fatalf("cmd = %s, want ACCEPT", cmd)
	}
	msg, err := readStringMessageBody(r)
	if err != nil {
		t.Fatalf("readStringMessageBody: %v", err)
	}
	if msg != "welcome" {
		t.Fatalf("message = %q", msg)
	}
}
