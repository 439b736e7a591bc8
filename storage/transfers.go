package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveTransferRecord inserts a new transfer-history row for one file
// within a session.
func (s *Store) SaveTransferRecord(record TransferRecord) error {
	if record.TransferID == "" {
		return errors.New("transfer_id is required")
	}
	if record.PeerUUID == "" {
		return errors.New("peer_uuid is required")
	}
	if record.RelativePath == "" {
		return errors.New("relative_path is required")
	}
	if err := validateTransferDirection(record.Direction); err != nil {
		return err
	}
	if record.Status == "" {
		record.Status = TransferStatusScheduled
	}
	if err := validateTransferStatus(record.Status); err != nil {
		return err
	}
	if record.StartedAt == 0 {
		record.StartedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfer_history (
			transfer_id,
			peer_uuid,
			direction,
			relative_path,
			size_bytes,
			status,
			started_at,
			completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TransferID,
		record.PeerUUID,
		record.Direction,
		record.RelativePath,
		record.SizeBytes,
		record.Status,
		record.StartedAt,
		nullInt64(record.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transfer record %q/%q: %w", record.TransferID, record.RelativePath, err)
	}

	return nil
}

// UpdateTransferRecordStatus updates the status (and, for terminal
// statuses, completed_at) of one transfer-history row.
func (s *Store) UpdateTransferRecordStatus(transferID, relativePath, status string, completedAt int64) error {
	if transferID == "" || relativePath == "" {
		return errors.New("transfer_id and relative_path are required")
	}
	if err := validateTransferStatus(status); err != nil {
		return err
	}
	if completedAt == 0 {
		completedAt = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`UPDATE transfer_history
		SET status = ?, completed_at = ?
		WHERE transfer_id = ? AND relative_path = ?`,
		status,
		completedAt,
		transferID,
		relativePath,
	)
	if err != nil {
		return fmt.Errorf("update transfer record status %q/%q: %w", transferID, relativePath, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer record status %q/%q: %w", transferID, relativePath, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetTransferRecord fetches one transfer-history row by transfer ID and
// relative path.
func (s *Store) GetTransferRecord(transferID, relativePath string) (*TransferRecord, error) {
	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			peer_uuid,
			direction,
			relative_path,
			size_bytes,
			status,
			started_at,
			completed_at
		FROM transfer_history
		WHERE transfer_id = ? AND relative_path = ?`,
		transferID,
		relativePath,
	)

	record, err := scanTransferRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer record %q/%q: %w", transferID, relativePath, err)
	}

	return record, nil
}

// ListTransferHistory returns transfer-history rows for one peer, most
// recent first, bounded by limit (0 means no limit applied here beyond
// a sane default of 200).
func (s *Store) ListTransferHistory(peerUUID string, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.Query(
		`SELECT
			transfer_id,
			peer_uuid,
			direction,
			relative_path,
			size_bytes,
			status,
			started_at,
			completed_at
		FROM transfer_history
		WHERE peer_uuid = ?
		ORDER BY started_at DESC
		LIMIT ?`,
		peerUUID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfer history for peer %q: %w", peerUUID, err)
	}
	defer rows.Close()

	records := make([]TransferRecord, 0)
	for rows.Next() {
		record, err := scanTransferRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer record row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer record rows: %w", err)
	}

	return records, nil
}

// UpsertTransferCheckpoint inserts or updates the recorded progress of
// one file while it is being received.
func (s *Store) UpsertTransferCheckpoint(checkpoint TransferCheckpoint) error {
	if checkpoint.TransferID == "" || checkpoint.RelativePath == "" {
		return errors.New("transfer_id and relative_path are required")
	}
	if err := validateTransferDirection(checkpoint.Direction); err != nil {
		return err
	}
	if checkpoint.NextChunk < 0 {
		return errors.New("next_chunk must be >= 0")
	}
	if checkpoint.BytesTransferred < 0 {
		return errors.New("bytes_transferred must be >= 0")
	}
	if checkpoint.UpdatedAt == 0 {
		checkpoint.UpdatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfer_checkpoints (
			transfer_id,
			relative_path,
			direction,
			next_chunk,
			bytes_transferred,
			temp_path,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id, relative_path) DO UPDATE SET
			next_chunk = excluded.next_chunk,
			bytes_transferred = excluded.bytes_transferred,
			temp_path = excluded.temp_path,
			updated_at = excluded.updated_at`,
		checkpoint.TransferID,
		checkpoint.RelativePath,
		checkpoint.Direction,
		checkpoint.NextChunk,
		checkpoint.BytesTransferred,
		checkpoint.TempPath,
		checkpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transfer checkpoint %q/%q: %w", checkpoint.TransferID, checkpoint.RelativePath, err)
	}
	return nil
}

// DeleteTransferCheckpoint removes one checkpoint row, called once the
// file is committed or rolled back.
func (s *Store) DeleteTransferCheckpoint(transferID, relativePath string) error {
	if transferID == "" || relativePath == "" {
		return errors.New("transfer_id and relative_path are required")
	}

	_, err := s.db.Exec(
		`DELETE FROM transfer_checkpoints
		WHERE transfer_id = ? AND relative_path = ?`,
		transferID,
		relativePath,
	)
	if err != nil {
		return fmt.Errorf("delete transfer checkpoint %q/%q: %w", transferID, relativePath, err)
	}
	return nil
}

// GetTransferCheckpoint fetches one checkpoint by transfer ID and
// relative path.
func (s *Store) GetTransferCheckpoint(transferID, relativePath string) (*TransferCheckpoint, error) {
	if transferID == "" || relativePath == "" {
		return nil, errors.New("transfer_id and relative_path are required")
	}

	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			relative_path,
			direction,
			next_chunk,
			bytes_transferred,
			temp_path,
			updated_at
		FROM transfer_checkpoints
		WHERE transfer_id = ? AND relative_path = ?`,
		transferID,
		relativePath,
	)

	checkpoint, err := scanTransferCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer checkpoint %q/%q: %w", transferID, relativePath, err)
	}
	return checkpoint, nil
}

func scanTransferRecord(row scanner) (*TransferRecord, error) {
	var (
		record      TransferRecord
		completedAt sql.NullInt64
	)

	if err := row.Scan(
		&record.TransferID,
		&record.PeerUUID,
		&record.Direction,
		&record.RelativePath,
		&record.SizeBytes,
		&record.Status,
		&record.StartedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	record.CompletedAt = int64Ptr(completedAt)
	return &record, nil
}

func scanTransferCheckpoint(row scanner) (*TransferCheckpoint, error) {
	var checkpoint TransferCheckpoint
	if err := row.Scan(
		&checkpoint.TransferID,
		&checkpoint.RelativePath,
		&checkpoint.Direction,
		&checkpoint.NextChunk,
		&checkpoint.BytesTransferred,
		&checkpoint.TempPath,
		&checkpoint.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}
