package storage

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestWriteAndReadCachedIconRoundTrip(t *testing.T) {
	iconsDir := t.TempDir()
	peerUUID := uuid.New()
	data := []byte("fake jpeg bytes")

	if err := WriteCachedIcon(iconsDir, peerUUID, data); err != nil {
		t.Fatalf("WriteCachedIcon: %v", err)
	}

	got, digest, err := ReadCachedIcon(iconsDir, peerUUID)
	if err != nil {
		t.Fatalf("ReadCachedIcon: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("icon bytes mismatch: got %q want %q", got, data)
	}
	if digest != sha1.Sum(data) {
		t.Fatal("sha1 digest mismatch")
	}
}

func TestReadCachedIconMissingReturnsError(t *testing.T) {
	iconsDir := t.TempDir()
	if _, _, err := ReadCachedIcon(iconsDir, uuid.New()); err == nil {
		t.Fatal("expected error reading missing icon")
	}
}

func TestRemoveCachedIconIsIdempotent(t *testing.T) {
	iconsDir := t.TempDir()
	peerUUID := uuid.New()

	if err := WriteCachedIcon(iconsDir, peerUUID, []byte("data")); err != nil {
		t.Fatalf("WriteCachedIcon: %v", err)
	}
	if err := RemoveCachedIcon(iconsDir, peerUUID); err != nil {
		t.Fatalf("first RemoveCachedIcon: %v", err)
	}
	if err := RemoveCachedIcon(iconsDir, peerUUID); err != nil {
		t.Fatalf("second RemoveCachedIcon should be a no-op: %v", err)
	}
	if _, err := os.Stat(IconCachePath(iconsDir, peerUUID)); !os.IsNotExist(err) {
		t.Fatalf("expected icon file to be gone, stat err: %v", err)
	}
}

func TestIconCachePathUsesUUIDFilename(t *testing.T) {
	peerUUID := uuid.New()
	path := IconCachePath("/conf/icons", peerUUID)
	want := filepath.Join("/conf/icons", peerUUID.String()+".jpg")
	if path != want {
		t.Fatalf("unexpected cache path: got %q want %q", path, want)
	}
}
