package filetransfer

import "syfd/storage"

// storeAdapter satisfies checkpointStore on top of a *storage.Store,
// letting ServerConfig.Store be constructed from another package
// despite checkpointStore and checkpointRecord staying unexported.
type storeAdapter struct {
	store *storage.Store
}

// NewCheckpointStore wraps store so a Session can record per-file
// progress to the transfer_checkpoints table while it runs. This is
// for live introspection of an in-flight transfer (a picker-side UI
// polling storage.GetTransferCheckpoint), not restart survival:
// nothing reads these rows back on daemon startup, since resuming a
// transfer across a daemon restart is out of scope.
func NewCheckpointStore(store *storage.Store) checkpointStore {
	if store == nil {
		return nil
	}
	return storeAdapter{store: store}
}

func (a storeAdapter) UpsertTransferCheckpoint(checkpoint checkpointRecord) error {
	return a.store.UpsertTransferCheckpoint(storage.TransferCheckpoint{
		TransferID:       checkpoint.TransferID,
		RelativePath:     checkpoint.RelativePath,
		Direction:        checkpoint.Direction,
		NextChunk:        checkpoint.NextChunk,
		BytesTransferred: checkpoint.BytesTransferred,
		TempPath:         checkpoint.TempPath,
	})
}

func (a storeAdapter) DeleteTransferCheckpoint(transferID, relativePath string) error {
	return a.store.DeleteTransferCheckpoint(transferID, relativePath)
}
