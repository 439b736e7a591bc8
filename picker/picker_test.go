package picker

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"syfd/wire"
)

func socketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), SocketName)
}

func writeFramedPaths(t *testing.T, conn net.Conn, paths []string) {
	t.Helper()
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	if err := w.Uint32(uint32(len(paths))); err != nil {
		t.Fatalf("encode count: %v", err)
	}
	for _, p := range paths {
		if err := w.UTF8String(p); err != nil {
			t.Fatalf("encode path: %v", err)
		}
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListenRemovesStaleEndpoint(t *testing.T) {
	sp := socketPath(t)
	if err := os.WriteFile(sp, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}
	srv, err := Listen(sp, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
}

func TestAcceptedPathsEmitEvent(t *testing.T) {
	sp := socketPath(t)
	srv, err := Listen(sp, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("unix", sp)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := []string{"/home/alice/photo.jpg", "/home/alice/docs/report.pdf"}
	writeFramedPaths(t, conn, want)

	select {
	case ev := <-srv.Events():
		if len(ev.Paths) != len(want) {
			t.Fatalf("got %d paths, want %d", len(ev.Paths), len(want))
		}
		for i, p := range want {
			if ev.Paths[i] != p {
				t.Fatalf("path[%d] = %q, want %q", i, ev.Paths[i], p)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestMalformedFramingClosesSilently(t *testing.T) {
	sp := socketPath(t)
	srv, err := Listen(sp, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("unix", sp)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Claim 5 paths but send nothing further: truncated framing.
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 5)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.Close()

	select {
	case ev, ok := <-srv.Events():
		if ok {
			t.Fatalf("expected no event for malformed framing, got %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
		// no event arrived before timeout: expected
	}
}

func TestEmptyPathListEmitsEmptyEvent(t *testing.T) {
	sp := socketPath(t)
	srv, err := Listen(sp, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("unix", sp)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	writeFramedPaths(t, conn, nil)

	select {
	case ev := <-srv.Events():
		if len(ev.Paths) != 0 {
			t.Fatalf("expected 0 paths, got %d", len(ev.Paths))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}
