package wire

import (
	"net"
	"testing"

	"github.com/google/uuid"
)

func sampleBeacon() Beacon {
	return Beacon{
		Quit:      false,
		HasIcon:   true,
		UUID:      uuid.New(),
		FirstName: "Alice",
		LastName:  "Anderson",
		IPv4:      net.IPv4(192, 168, 1, 42),
		FTPort:    40001,
		ITPort:    40002,
		IconSHA1:  [20]byte{1, 2, 3, 4, 5},
	}
}

func TestBeaconRoundTrip(t *testing.T) {
	in := sampleBeacon()
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.UUID != in.UUID || out.FirstName != in.FirstName || out.LastName != in.LastName ||
		!out.IPv4.Equal(in.IPv4) || out.FTPort != in.FTPort || out.ITPort != in.ITPort ||
		out.HasIcon != in.HasIcon || out.Quit != in.Quit || out.IconSHA1 != in.IconSHA1 {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestBeaconNoIconZeroesITPort(t *testing.T) {
	in := sampleBeacon()
	in.HasIcon = false
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ITPort != 0 {
		t.Fatalf("expected IT port 0 when no icon, got %d", out.ITPort)
	}
}

func TestBeaconMinMaxSizeAccepted(t *testing.T) {
	in := Beacon{
		UUID: uuid.New(),
		IPv4: net.IPv4(10, 0, 0, 1),
	}
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode minimal: %v", err)
	}
	if len(encoded) != BeaconMinLen {
		t.Fatalf("expected minimal encoding length %d, got %d", BeaconMinLen, len(encoded))
	}
	if _, err := Decode(encoded); err != nil {
		t.Fatalf("Decode minimal: %v", err)
	}

	maxIn := Beacon{
		HasIcon:   true,
		UUID:      uuid.New(),
		FirstName: "0123456789abcdef",
		LastName:  "0123456789abcdef",
		IPv4:      net.IPv4(10, 0, 0, 1),
	}
	maxEncoded, err := Encode(maxIn)
	if err != nil {
		t.Fatalf("Encode maximal: %v", err)
	}
	if len(maxEncoded) != BeaconMaxLen {
		t.Fatalf("expected maximal encoding length %d, got %d", BeaconMaxLen, len(maxEncoded))
	}
	if _, err := Decode(maxEncoded); err != nil {
		t.Fatalf("Decode maximal: %v", err)
	}
}

func TestBeaconOutOfRangeSizeRejected(t *testing.T) {
	in := Beacon{UUID: uuid.New(), IPv4: net.IPv4(10, 0, 0, 1)}
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tooShort := encoded[:len(encoded)-1]
	if _, err := Decode(tooShort); err == nil {
		t.Fatal("expected rejection of datagram one byte under minimum")
	}

	tooLong := append(append([]byte{}, encoded...), make([]byte, BeaconMaxLen)...)
	if _, err := Decode(tooLong); err == nil {
		t.Fatal("expected rejection of datagram over maximum")
	}
}

func TestBeaconReservedFlagRejected(t *testing.T) {
	in := sampleBeacon()
	in.HasIcon = false
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[5] |= 1 << 7 // set a reserved flag bit
	if _, err := Decode(encoded); err == nil {
		t.Fatal("expected rejection of reserved flag bit")
	}
}

func TestBeaconNameOver16RunesRejected(t *testing.T) {
	in := sampleBeacon()
	in.FirstName = "0123456789abcdefg" // 17 runes
	if _, err := Encode(in); err == nil {
		t.Fatal("expected rejection of 17-rune name")
	}
}

func TestBeaconBadMagicRejected(t *testing.T) {
	in := sampleBeacon()
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[0] = 'X'
	if _, err := Decode(encoded); err == nil {
		t.Fatal("expected rejection of bad magic")
	}
}
