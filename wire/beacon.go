package wire

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
)

// BeaconMagic identifies a discovery datagram.
var BeaconMagic = [4]byte{'S', 'Y', 'F', 'D'}

// BeaconVersion is the only wire version understood.
const BeaconVersion = 1

const (
	BeaconFlagQuit    byte = 1 << 0
	BeaconFlagHasIcon byte = 1 << 1
	beaconKnownFlags       = BeaconFlagQuit | BeaconFlagHasIcon
)

// Beacon is the decoded discovery datagram payload (spec.md §4.2).
type Beacon struct {
	Quit       bool
	HasIcon    bool
	UUID       uuid.UUID
	FirstName  string
	LastName   string
	IPv4       net.IP
	FTPort     uint16
	ITPort     uint16
	IconSHA1   [20]byte
}

// beaconFixedHeaderLen is magic(4) + version(1) + flags(1) + uuid(16).
const beaconFixedHeaderLen = 4 + 1 + 1 + 16

// BeaconMinLen and BeaconMaxLen bound the encoded datagram: the fixed
// header, two empty names, a v4 address and two ports is the floor;
// two 16-rune names plus a present icon hash is the ceiling.
const (
	BeaconMinLen = beaconFixedHeaderLen + 4 + 0 + 4 + 0 + 4 + 2 + 2
	BeaconMaxLen = beaconFixedHeaderLen + 4 + 32 + 4 + 32 + 4 + 2 + 2 + 20
)

// Encode serializes a Beacon to its wire form.
func Encode(b Beacon) ([]byte, error) {
	if len([]rune(b.FirstName)) > model16 || len([]rune(b.LastName)) > model16 {
		return nil, errors.New("wire: beacon name exceeds 16 runes")
	}
	ipv4 := b.IPv4.To4()
	if ipv4 == nil {
		return nil, errors.New("wire: beacon requires an IPv4 address")
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)

	if _, err := buf.Write(BeaconMagic[:]); err != nil {
		return nil, err
	}
	if err := w.Byte(BeaconVersion); err != nil {
		return nil, err
	}

	var flags byte
	if b.Quit {
		flags |= BeaconFlagQuit
	}
	if b.HasIcon {
		flags |= BeaconFlagHasIcon
	}
	if err := w.Byte(flags); err != nil {
		return nil, err
	}
	if err := w.UUID(b.UUID); err != nil {
		return nil, err
	}
	if err := w.UTF16String(b.FirstName, model16); err != nil {
		return nil, err
	}
	if err := w.UTF16String(b.LastName, model16); err != nil {
		return nil, err
	}
	if _, err := buf.Write(ipv4); err != nil {
		return nil, err
	}
	if err := w.Uint16(b.FTPort); err != nil {
		return nil, err
	}
	itPort := b.ITPort
	if !b.HasIcon {
		itPort = 0
	}
	if err := w.Uint16(itPort); err != nil {
		return nil, err
	}
	if b.HasIcon {
		if _, err := buf.Write(b.IconSHA1[:]); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

const model16 = 16

// Decode parses a raw datagram into a Beacon. Datagrams outside
// [BeaconMinLen, BeaconMaxLen] are rejected before any field is read.
func Decode(datagram []byte) (Beacon, error) {
	if len(datagram) < BeaconMinLen || len(datagram) > BeaconMaxLen {
		return Beacon{}, fmt.Errorf("wire: beacon length %d out of range [%d,%d]", len(datagram), BeaconMinLen, BeaconMaxLen)
	}

	r := NewReader(bytes.NewReader(datagram))

	magic, err := r.readFull(4)
	if err != nil {
		return Beacon{}, err
	}
	if !bytes.Equal(magic, BeaconMagic[:]) {
		return Beacon{}, errors.New("wire: bad beacon magic")
	}

	version, err := r.Byte()
	if err != nil {
		return Beacon{}, err
	}
	if version != BeaconVersion {
		return Beacon{}, fmt.Errorf("wire: unsupported beacon version %d", version)
	}

	flags, err := r.Byte()
	if err != nil {
		return Beacon{}, err
	}
	if err := CheckReservedFlags(flags, beaconKnownFlags); err != nil {
		return Beacon{}, err
	}

	id, err := r.UUID()
	if err != nil {
		return Beacon{}, err
	}

	firstName, err := r.UTF16String(model16)
	if err != nil {
		return Beacon{}, err
	}
	lastName, err := r.UTF16String(model16)
	if err != nil {
		return Beacon{}, err
	}

	ipv4Raw, err := r.readFull(4)
	if err != nil {
		return Beacon{}, err
	}

	ftPort, err := r.Uint16()
	if err != nil {
		return Beacon{}, err
	}
	itPort, err := r.Uint16()
	if err != nil {
		return Beacon{}, err
	}

	hasIcon := flags&BeaconFlagHasIcon != 0
	var iconHash [20]byte
	if hasIcon {
		raw, err := r.readFull(20)
		if err != nil {
			return Beacon{}, err
		}
		copy(iconHash[:], raw)
	}

	return Beacon{
		Quit:      flags&BeaconFlagQuit != 0,
		HasIcon:   hasIcon,
		UUID:      id,
		FirstName: firstName,
		LastName:  lastName,
		IPv4:      net.IPv4(ipv4Raw[0], ipv4Raw[1], ipv4Raw[2], ipv4Raw[3]),
		FTPort:    ftPort,
		ITPort:    itPort,
		IconSHA1:  iconHash,
	}, nil
}
