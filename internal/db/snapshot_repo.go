package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"appmanager/internal/errors"
	"appmanager/internal/types"
)

// SnapshotRepository persists the target and current snapshots of a device
type SnapshotRepository struct {
	db       *DB
	deviceID string
}

// NewSnapshotRepository creates a snapshot repository scoped to deviceID
func NewSnapshotRepository(db *DB, deviceID string) *SnapshotRepository {
	return &SnapshotRepository{db: db, deviceID: deviceID}
}

// Save writes a snapshot document, replacing the previous one
func (r *SnapshotRepository) Save(ctx context.Context, kind SnapshotKind, snap *types.StateSnapshot, version int64) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return errors.InternalError("encode snapshot", err)
	}

	query := `
		INSERT INTO state_snapshots (device_id, kind, document, version, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(device_id, kind) DO UPDATE SET
			document = excluded.document,
			version = excluded.version,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, r.deviceID, kind, string(doc), version); err != nil {
		return errors.DatabaseQueryError("save snapshot", err)
	}
	return nil
}

// Load reads a snapshot document. A missing document yields an empty
// snapshot and version 0.
func (r *SnapshotRepository) Load(ctx context.Context, kind SnapshotKind) (*types.StateSnapshot, int64, error) {
	query := `
		SELECT device_id, kind, document, version, updated_at
		FROM state_snapshots
		WHERE device_id = ? AND kind = ?
	`

	var rec SnapshotRecord
	if err := r.db.GetContext(ctx, &rec, query, r.deviceID, kind); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return types.NewSnapshot(), 0, nil
		}
		return nil, 0, errors.DatabaseQueryError("load snapshot", err)
	}

	snap := types.NewSnapshot()
	if err := json.Unmarshal([]byte(rec.Document), snap); err != nil {
		return nil, 0, errors.InternalError("decode snapshot", err)
	}
	if snap.Apps == nil {
		snap.Apps = make(map[int]*types.Application)
	}
	return snap, rec.Version, nil
}
