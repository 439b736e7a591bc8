package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// TransferDirectionSend and TransferDirectionReceive label which side
// of a transfer one TransferRecord/TransferCheckpoint describes.
const (
	TransferDirectionSend    = "send"
	TransferDirectionReceive = "receive"
)

// TransferStatus* values mirror model.FileStatus for the persisted
// audit trail.
const (
	TransferStatusScheduled   = "scheduled"
	TransferStatusInTransfer  = "in_transfer"
	TransferStatusTransferred = "transferred"
	TransferStatusRejected    = "rejected"
	TransferStatusFailed      = "failed"
)

const (
	// EventSeverityInfo indicates routine, expected activity.
	EventSeverityInfo = "info"
	// EventSeverityWarning indicates recoverable but noteworthy activity.
	EventSeverityWarning = "warning"
	// EventSeverityCritical indicates a condition an operator should see.
	EventSeverityCritical = "critical"
)

// TransferRecord is the SQLite representation of one file's place within a
// completed or in-progress file-transfer session, the supplemental audit
// trail alongside the transactional temp-file commit discipline used while
// the transfer is actually running.
type TransferRecord struct {
	TransferID   string
	PeerUUID     string
	Direction    string // TransferDirectionSend or TransferDirectionReceive
	RelativePath string
	SizeBytes    int64
	Status       string
	StartedAt    int64
	CompletedAt  *int64
}

// TransferCheckpoint is the recorded per-file progress of an in-flight
// transfer, keyed by transfer ID and relative path.
type TransferCheckpoint struct {
	TransferID       string
	RelativePath     string
	Direction        string
	NextChunk        int64
	BytesTransferred int64
	TempPath         string
	UpdatedAt        int64
}

// DaemonEvent is a structured, queryable record of one notable runtime
// occurrence (peer discovery churn, duplicate-name detection, UUID
// collisions, rejected transfers) kept for operator inspection.
type DaemonEvent struct {
	ID        int64
	EventType string
	PeerUUID  *string
	Details   string
	Severity  string
	Timestamp int64
}

// EventFilter narrows GetEvents query results.
type EventFilter struct {
	EventType     string
	PeerUUID      string
	Severity      string
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
	Offset        int
}

func validateTransferDirection(direction string) error {
	switch direction {
	case TransferDirectionSend, TransferDirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case TransferStatusScheduled, TransferStatusInTransfer, TransferStatusTransferred, TransferStatusRejected, TransferStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func validateEventSeverity(severity string) error {
	switch severity {
	case EventSeverityInfo, EventSeverityWarning, EventSeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid event severity %q", severity)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

type scanner interface {
	Scan(dest ...any) error
}
