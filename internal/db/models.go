package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB represents a JSON object stored in a TEXT column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*j = nil
			return nil
		}
		return json.Unmarshal(v, j)
	case string:
		if v == "" {
			*j = nil
			return nil
		}
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
}

// Device is the identity every persisted document is keyed by
type Device struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Metadata  JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SnapshotKind distinguishes the two persisted snapshots
type SnapshotKind string

const (
	SnapshotTarget  SnapshotKind = "target"
	SnapshotCurrent SnapshotKind = "current"
)

// SnapshotRecord is one row of state_snapshots
type SnapshotRecord struct {
	DeviceID  string       `db:"device_id"`
	Kind      SnapshotKind `db:"kind"`
	Document  string       `db:"document"`
	Version   int64        `db:"version"`
	UpdatedAt time.Time    `db:"updated_at"`
}
