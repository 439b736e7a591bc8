package storage

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"syfd/syflock"
)

// IconCachePath returns the on-disk location of a peer's cached icon
// under <conf_path>/icons, per spec.md §6.
func IconCachePath(iconsDir string, peerUUID uuid.UUID) string {
	return filepath.Join(iconsDir, peerUUID.String()+".jpg")
}

// ReadCachedIcon reads a peer's cached icon and its SHA-1 digest under
// the same sibling lock WriteCachedIcon takes, or returns
// fs.ErrNotExist if nothing has been cached yet.
func ReadCachedIcon(iconsDir string, peerUUID uuid.UUID) ([]byte, [20]byte, error) {
	path := IconCachePath(iconsDir, peerUUID)
	var data []byte
	err := syflock.WithSiblingLock(path, func() error {
		var readErr error
		data, readErr = os.ReadFile(path)
		return readErr
	})
	if err != nil {
		return nil, [20]byte{}, err
	}
	return data, sha1.Sum(data), nil
}

// WriteCachedIcon atomically writes a peer's icon bytes to the cache,
// guarded by the sibling "<file>.lock" advisory lock spec.md §6
// prescribes so a concurrent read never observes a half-written file.
func WriteCachedIcon(iconsDir string, peerUUID uuid.UUID, data []byte) error {
	path := IconCachePath(iconsDir, peerUUID)
	return syflock.WithSiblingLock(path, func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write icon cache: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("commit icon cache: %w", err)
		}
		return nil
	})
}

// RemoveCachedIcon deletes a peer's cached icon, if any.
func RemoveCachedIcon(iconsDir string, peerUUID uuid.UUID) error {
	path := IconCachePath(iconsDir, peerUUID)
	return syflock.WithSiblingLock(path, func() error {
		err := os.Remove(path)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	})
}
