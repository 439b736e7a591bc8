// Package model holds the data types shared across the discovery, icon
// transfer, file transfer and registry packages.
package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// AgeUnconfirmed and AgeLocalSentinel are the two non-numeric PeerRecord
// age states; any value in [0, AgeMax] is a real aging tick count.
const (
	AgeUnconfirmed   = -1
	AgeLocalSentinel = -2
	AgeMax           = 4
)

// OperationalMode is the local identity's online/offline switch.
type OperationalMode int

const (
	Online OperationalMode = iota
	Offline
)

func (m OperationalMode) String() string {
	if m == Offline {
		return "offline"
	}
	return "online"
}

// ReceptionAction decides what happens to an inbound sharing request.
type ReceptionAction int

const (
	Ask ReceptionAction = iota
	Accept
	Reject
)

// DuplicateFileAction decides what happens when a received file's name
// already exists at the destination.
type DuplicateFileAction int

const (
	DuplicateAsk DuplicateFileAction = iota
	DuplicateReplace
	DuplicateKeep
	DuplicateKeepBoth
)

// ReceptionPolicy controls how inbound sharing requests and destination
// paths are resolved for one peer, or as the local default.
type ReceptionPolicy struct {
	UseDefaults            bool
	Action                 ReceptionAction
	BasePath               string
	AppendSenderNameFolder bool
	AppendDateFolder       bool
}

// NoNameSentinel replaces an empty first or last name.
const NoNameSentinel = "NO NAME"

// MaxNameLength is the maximum accepted rune length for first/last names.
const MaxNameLength = 16

// UserIdentity is the local device's identity and bindings.
type UserIdentity struct {
	UUID             uuid.UUID
	FirstName        string
	LastName         string
	Icon             *Icon
	ReceptionPolicy  ReceptionPolicy
	OperationalMode  OperationalMode
	BoundIPv4        string
	FTPort           uint16
	ITPort           uint16
}

// ClampName truncates a name to MaxNameLength runes, replacing an empty
// result is left to the caller (see NoNameSentinel).
func ClampName(name string) string {
	runes := []rune(name)
	if len(runes) <= MaxNameLength {
		return name
	}
	return string(runes[:MaxNameLength])
}

// PeerRecord is a remote user as known to the local UserRegistry.
type PeerRecord struct {
	UUID                    uuid.UUID
	FirstName               string
	LastName                string
	Icon                    *Icon
	ReceptionPolicy         ReceptionPolicy
	ReceptionPolicyOverride *ReceptionPolicy
	OperationalMode         OperationalMode
	BoundIPv4               string
	FTPort                  uint16
	ITPort                  uint16
	Age                     int
}

// Unconfirmed reports whether the peer has aged out or was never confirmed.
func (p PeerRecord) Unconfirmed() bool {
	return p.Age == AgeUnconfirmed
}

// EffectivePolicy resolves the policy to apply for this peer: the
// per-peer override when set with UseDefaults false, otherwise the
// supplied local default.
func (p PeerRecord) EffectivePolicy(localDefault ReceptionPolicy) ReceptionPolicy {
	if p.ReceptionPolicyOverride != nil && !p.ReceptionPolicyOverride.UseDefaults {
		return *p.ReceptionPolicyOverride
	}
	return localDefault
}

// IconMaxBytes bounds the accepted icon payload size (16 KiB).
const IconMaxBytes = 16 * 1024

// IconWidth and IconHeight are the required decoded JPEG dimensions.
const (
	IconWidth  = 128
	IconHeight = 128
)

// Icon is a validated 128x128 JPEG avatar plus its SHA-1 content hash.
type Icon struct {
	Bytes    []byte
	SHA1     [20]byte
	CachePath string
}

// FileStatus is the terminal-or-pending status of one FileDescriptor.
type FileStatus int

const (
	Scheduled FileStatus = iota
	InTransfer
	Transferred
	Rejected
	Failed
)

func (s FileStatus) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case InTransfer:
		return "in_transfer"
	case Transferred:
		return "transferred"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileDescriptor describes one file within a TransferList.
type FileDescriptor struct {
	RelativePath     string
	SizeBytes        int64
	LastModifiedUnix int64
	Status           FileStatus
}

// TransferList is the sender's outbound intent: a base path and the
// ordered set of files discovered under it.
type TransferList struct {
	BaseAbsolutePath string
	Files            []FileDescriptor
	TotalBytes       int64
}

// TransferInfo is a point-in-time progress snapshot for one Session.
type TransferInfo struct {
	TotalFiles        int
	TransferredFiles  int
	SkippedFiles      int
	TotalBytes        int64
	TransferredBytes  int64
	SkippedBytes      int64
	ElapsedMs         int64
	TransferMs        int64
	PausedMs          int64
	CurrentSpeedBps   float64
	AverageSpeedBps   float64
	FileInTransfer    string
}

// RemainingFiles returns total - transferred - skipped.
func (t TransferInfo) RemainingFiles() int {
	return t.TotalFiles - t.TransferredFiles - t.SkippedFiles
}

// RemainingBytes returns the bytes not yet transferred or skipped.
func (t TransferInfo) RemainingBytes() int64 {
	return t.TotalBytes - t.TransferredBytes - t.SkippedBytes
}

// RemainingTime returns the estimated remaining duration, or false when
// the average speed is zero or non-finite ("unknown" per spec).
func (t TransferInfo) RemainingTime() (time.Duration, bool) {
	if t.AverageSpeedBps <= 0 || math.IsInf(t.AverageSpeedBps, 0) || math.IsNaN(t.AverageSpeedBps) {
		return 0, false
	}
	remaining := t.RemainingBytes()
	if remaining <= 0 {
		return 0, true
	}
	seconds := float64(remaining) / t.AverageSpeedBps
	return time.Duration(seconds * float64(time.Second)), true
}
