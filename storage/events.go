package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetEventRetention configures automatic daemon_events pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention = retention
}

// LogEvent inserts a structured daemon event (peer churn, duplicate-name
// detection, UUID collisions, rejected transfers) and applies retention
// pruning.
func (s *Store) LogEvent(event DaemonEvent) error {
	if strings.TrimSpace(event.EventType) == "" {
		return errors.New("event_type is required")
	}
	if event.Severity == "" {
		event.Severity = EventSeverityInfo
	}
	if err := validateEventSeverity(event.Severity); err != nil {
		return err
	}
	if event.Details == "" {
		event.Details = "{}"
	}
	if !json.Valid([]byte(event.Details)) {
		return errors.New("details must be valid JSON text")
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	var peerUUID *string
	if event.PeerUUID != nil {
		trimmed := strings.TrimSpace(*event.PeerUUID)
		if trimmed != "" {
			peerUUID = &trimmed
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO daemon_events (
			event_type,
			peer_uuid,
			details,
			severity,
			timestamp
		) VALUES (?, ?, ?, ?, ?)`,
		event.EventType,
		nullString(peerUUID),
		event.Details,
		event.Severity,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert daemon event %q: %w", event.EventType, err)
	}

	if s.eventRetention > 0 {
		cutoff := time.Now().Add(-s.eventRetention).UnixMilli()
		if _, err := s.PruneEvents(cutoff); err != nil {
			return fmt.Errorf("prune daemon events: %w", err)
		}
	}

	return nil
}

// GetEvents returns recent daemon events with optional filtering.
func (s *Store) GetEvents(filter EventFilter) ([]DaemonEvent, error) {
	if filter.Severity != "" {
		if err := validateEventSeverity(filter.Severity); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		event_type,
		peer_uuid,
		details,
		severity,
		timestamp
	FROM daemon_events`)

	where := make([]string, 0, 5)
	args := make([]any, 0, 7)

	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.PeerUUID != "" {
		where = append(where, "peer_uuid = ?")
		args = append(args, filter.PeerUUID)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}
	if filter.ToTimestamp != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, *filter.ToTimestamp)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get daemon events: %w", err)
	}
	defer rows.Close()

	events := make([]DaemonEvent, 0)
	for rows.Next() {
		event, err := scanDaemonEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daemon event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daemon event rows: %w", err)
	}

	return events, nil
}

// PruneEvents removes daemon events older than cutoffTimestamp.
func (s *Store) PruneEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM daemon_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune daemon events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for daemon event prune: %w", err)
	}

	return rowsAffected, nil
}

func scanDaemonEvent(row scanner) (*DaemonEvent, error) {
	var (
		event    DaemonEvent
		peerUUID sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.EventType,
		&peerUUID,
		&event.Details,
		&event.Severity,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	event.PeerUUID = stringPtr(peerUUID)
	return &event, nil
}
