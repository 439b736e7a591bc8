package syfcrypto

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"syfd/model"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestValidateIconAccepts128x128(t *testing.T) {
	data := encodeTestJPEG(t, 128, 128)

	icon, err := ValidateIcon(data)
	if err != nil {
		t.Fatalf("ValidateIcon: %v", err)
	}
	if icon.SHA1 != SHA1(data) {
		t.Fatal("expected icon SHA1 to match computed digest")
	}
}

func TestValidateIconRejectsWrongDimensions(t *testing.T) {
	data := encodeTestJPEG(t, 64, 64)

	_, err := ValidateIcon(data)
	if err == nil {
		t.Fatal("expected error for non-128x128 icon")
	}
	var dimErr ErrIconWrongDimensions
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected ErrIconWrongDimensions, got %v (%T)", err, err)
	}
	if dimErr.Width != 64 || dimErr.Height != 64 {
		t.Fatalf("unexpected dimensions in error: %+v", dimErr)
	}
}

func TestValidateIconRejectsOversizePayload(t *testing.T) {
	oversized := make([]byte, model.IconMaxBytes+1)
	_, err := ValidateIcon(oversized)
	if err == nil {
		t.Fatal("expected error for oversized icon payload")
	}
	var sizeErr ErrIconTooLarge
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected ErrIconTooLarge, got %v (%T)", err, err)
	}
}

func TestValidateIconRejectsEmptyPayload(t *testing.T) {
	if _, err := ValidateIcon(nil); err == nil {
		t.Fatal("expected error for empty icon payload")
	}
}

func TestVerifyDigestDetectsMismatch(t *testing.T) {
	data := []byte("icon bytes")
	if !VerifyDigest(data, SHA1(data)) {
		t.Fatal("expected digest to verify against itself")
	}
	tampered := SHA1([]byte("different bytes"))
	if VerifyDigest(data, tampered) {
		t.Fatal("expected digest verification to fail for mismatched data")
	}
}
