// Package syfcrypto validates avatar icons transferred over the
// icon-transfer protocol: a SHA-1 content hash (used both as the
// beacon's optional icon_hash field and as the local change-detection
// key) and the mandatory 128x128 JPEG dimension check. Named syfcrypto
// rather than crypto because, per spec.md's Non-goals, there is no
// encryption or signing in this codebase — only hashing and format
// validation.
package syfcrypto

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"image"
	_ "image/jpeg"

	"syfd/model"
)

// ErrIconTooLarge indicates a JPEG payload exceeded model.IconMaxBytes.
type ErrIconTooLarge struct {
	Size int
}

func (e ErrIconTooLarge) Error() string {
	return fmt.Sprintf("syfcrypto: icon is %d bytes, exceeds max %d", e.Size, model.IconMaxBytes)
}

// ErrIconWrongDimensions indicates a decoded JPEG was not 128x128.
type ErrIconWrongDimensions struct {
	Width, Height int
}

func (e ErrIconWrongDimensions) Error() string {
	return fmt.Sprintf("syfcrypto: icon is %dx%d, want %dx%d", e.Width, e.Height, model.IconWidth, model.IconHeight)
}

// SHA1 returns the SHA-1 digest of an icon's raw bytes.
func SHA1(data []byte) [20]byte {
	return sha1.Sum(data)
}

// ValidateIcon checks size, JPEG decodability and exact 128x128
// dimensions, returning the populated model.Icon on success.
func ValidateIcon(data []byte) (model.Icon, error) {
	if len(data) == 0 {
		return model.Icon{}, fmt.Errorf("syfcrypto: icon payload is empty")
	}
	if len(data) > model.IconMaxBytes {
		return model.Icon{}, ErrIconTooLarge{Size: len(data)}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Icon{}, fmt.Errorf("syfcrypto: decode icon: %w", err)
	}
	if cfg.Width != model.IconWidth || cfg.Height != model.IconHeight {
		return model.Icon{}, ErrIconWrongDimensions{Width: cfg.Width, Height: cfg.Height}
	}

	return model.Icon{Bytes: data, SHA1: SHA1(data)}, nil
}

// VerifyDigest reports whether data's SHA-1 digest matches want.
func VerifyDigest(data []byte, want [20]byte) bool {
	return SHA1(data) == want
}
