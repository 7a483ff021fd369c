package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"

	"appmanager/internal/errors"
)

// DeviceRepository handles the device identity row
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get returns the device with the given id
func (r *DeviceRepository) Get(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT id, name, metadata, created_at, updated_at
		FROM device_identity
		WHERE id = ?
	`

	device := &Device{}
	if err := r.db.GetContext(ctx, device, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewWithDetails(errors.ErrNotFound, "Device not found", fmt.Sprintf("ID: %s", id))
		}
		return nil, errors.DatabaseQueryError("get device", err)
	}
	return device, nil
}

// Ensure returns the device identity, creating it on first start.
// An empty id reuses the oldest registered device or generates a new uuid.
// The name and metadata are refreshed on every call.
func (r *DeviceRepository) Ensure(ctx context.Context, id, name string, metadata JSONB) (*Device, error) {
	if id == "" {
		err := r.db.GetContext(ctx, &id, `SELECT id FROM device_identity ORDER BY created_at ASC LIMIT 1`)
		if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.DatabaseQueryError("find device", err)
		}
		if id == "" {
			id = uuid.New().String()
		}
	}

	query := `
		INSERT INTO device_identity (id, name, metadata)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, metadata = excluded.metadata
	`
	if _, err := r.db.ExecContext(ctx, query, id, name, metadata); err != nil {
		return nil, errors.DatabaseQueryError("upsert device", err)
	}

	return r.Get(ctx, id)
}
