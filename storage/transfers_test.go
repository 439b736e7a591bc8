package storage

import "testing"

func TestSaveAndGetTransferRecord(t *testing.T) {
	store := newTestStore(t)

	record := TransferRecord{
		TransferID:   "sess-1",
		PeerUUID:     "peer-uuid-1",
		Direction:    TransferDirectionSend,
		RelativePath: "docs/report.pdf",
		SizeBytes:    4096,
		Status:       TransferStatusScheduled,
	}
	if err := store.SaveTransferRecord(record); err != nil {
		t.Fatalf("SaveTransferRecord: %v", err)
	}

	got, err := store.GetTransferRecord("sess-1", "docs/report.pdf")
	if err != nil {
		t.Fatalf("GetTransferRecord: %v", err)
	}
	if got.Status != TransferStatusScheduled {
		t.Fatalf("expected scheduled status, got %q", got.Status)
	}
	if got.CompletedAt != nil {
		t.Fatalf("expected nil completed_at, got %v", *got.CompletedAt)
	}
}

func TestUpdateTransferRecordStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateTransferRecordStatus("missing", "a.txt", TransferStatusTransferred, 0)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTransferRecordStatusSetsCompletedAt(t *testing.T) {
	store := newTestStore(t)

	record := TransferRecord{
		TransferID:   "sess-2",
		PeerUUID:     "peer-uuid-2",
		Direction:    TransferDirectionReceive,
		RelativePath: "a.txt",
		SizeBytes:    10,
	}
	if err := store.SaveTransferRecord(record); err != nil {
		t.Fatalf("SaveTransferRecord: %v", err)
	}
	if err := store.UpdateTransferRecordStatus("sess-2", "a.txt", TransferStatusTransferred, 1234); err != nil {
		t.Fatalf("UpdateTransferRecordStatus: %v", err)
	}

	got, err := store.GetTransferRecord("sess-2", "a.txt")
	if err != nil {
		t.Fatalf("GetTransferRecord: %v", err)
	}
	if got.Status != TransferStatusTransferred {
		t.Fatalf("expected transferred status, got %q", got.Status)
	}
	if got.CompletedAt == nil || *got.CompletedAt != 1234 {
		t.Fatalf("expected completed_at 1234, got %v", got.CompletedAt)
	}
}

func TestListTransferHistoryOrdersMostRecentFirst(t *testing.T) {
	store := newTestStore(t)

	for i, path := range []string{"one.txt", "two.txt", "three.txt"} {
		record := TransferRecord{
			TransferID:   "sess-3",
			PeerUUID:     "peer-uuid-3",
			Direction:    TransferDirectionSend,
			RelativePath: path,
			SizeBytes:    int64(i + 1),
			StartedAt:    int64(1000 + i),
		}
		if err := store.SaveTransferRecord(record); err != nil {
			t.Fatalf("SaveTransferRecord %q: %v", path, err)
		}
	}

	history, err := store.ListTransferHistory("peer-uuid-3", 0)
	if err != nil {
		t.Fatalf("ListTransferHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history))
	}
	if history[0].RelativePath != "three.txt" {
		t.Fatalf("expected most recent first, got %q", history[0].RelativePath)
	}
}

func TestTransferCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)

	checkpoint := TransferCheckpoint{
		TransferID:       "sess-4",
		RelativePath:     "movie.mp4",
		Direction:        TransferDirectionReceive,
		NextChunk:        12,
		BytesTransferred: 12 * 8192,
		TempPath:         "/tmp/movie.mp4.part",
	}
	if err := store.UpsertTransferCheckpoint(checkpoint); err != nil {
		t.Fatalf("UpsertTransferCheckpoint: %v", err)
	}

	got, err := store.GetTransferCheckpoint("sess-4", "movie.mp4")
	if err != nil {
		t.Fatalf("GetTransferCheckpoint: %v", err)
	}
	if got.NextChunk != 12 || got.BytesTransferred != 12*8192 {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}

	checkpoint.NextChunk = 13
	checkpoint.BytesTransferred = 13 * 8192
	if err := store.UpsertTransferCheckpoint(checkpoint); err != nil {
		t.Fatalf("UpsertTransferCheckpoint update: %v", err)
	}
	got, err = store.GetTransferCheckpoint("sess-4", "movie.mp4")
	if err != nil {
		t.Fatalf("GetTransferCheckpoint after update: %v", err)
	}
	if got.NextChunk != 13 {
		t.Fatalf("expected updated next_chunk 13, got %d", got.NextChunk)
	}

	if err := store.DeleteTransferCheckpoint("sess-4", "movie.mp4"); err != nil {
		t.Fatalf("DeleteTransferCheckpoint: %v", err)
	}
	if _, err := store.GetTransferCheckpoint("sess-4", "movie.mp4"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
