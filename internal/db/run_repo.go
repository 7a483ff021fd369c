package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/jmoiron/sqlx"

	"appmanager/internal/errors"
	"appmanager/internal/types"
)

// RunRepository stores the reconciliation run log of a device
type RunRepository struct {
	db       *DB
	deviceID string
}

// NewRunRepository creates a run repository scoped to deviceID
func NewRunRepository(db *DB, deviceID string) *RunRepository {
	return &RunRepository{db: db, deviceID: deviceID}
}

// Start inserts a run that has just begun
func (r *RunRepository) Start(ctx context.Context, run *types.ReconciliationRun) error {
	query := `
		INSERT INTO reconciliation_runs (id, device_id, trigger_reason, status, started_at, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, run.ID, r.deviceID, run.Trigger, run.Status, run.StartedAt.UTC(), run.Error)
	if err != nil {
		return errors.DatabaseQueryError("insert run", err)
	}
	return nil
}

// Finish records the outcome and every step of a run
func (r *RunRepository) Finish(ctx context.Context, run *types.ReconciliationRun) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var finished interface{}
		if run.FinishedAt != nil {
			finished = run.FinishedAt.UTC()
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE reconciliation_runs
			SET status = ?, finished_at = ?, error = ?
			WHERE id = ? AND device_id = ?
		`, run.Status, finished, run.Error, run.ID, r.deviceID)
		if err != nil {
			return errors.DatabaseQueryError("update run", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_steps WHERE run_id = ?`, run.ID); err != nil {
			return errors.DatabaseQueryError("clear steps", err)
		}

		for _, step := range run.Steps {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO reconciliation_steps
					(run_id, seq, kind, app_id, service_id, service_name, container_id, outcome, error, duration_ms)
				VALUES
					(:run_id, :seq, :kind, :app_id, :service_id, :service_name, :container_id, :outcome, :error, :duration_ms)
			`, stepRow{RunID: run.ID, StepResult: step})
			if err != nil {
				return errors.DatabaseQueryError("insert step", err)
			}
		}
		return nil
	})
}

type stepRow struct {
	RunID string `db:"run_id"`
	types.StepResult
}

// Get returns a run with its steps
func (r *RunRepository) Get(ctx context.Context, id string) (*types.ReconciliationRun, error) {
	run := &types.ReconciliationRun{}
	err := r.db.GetContext(ctx, run, `
		SELECT id, trigger_reason, status, started_at, finished_at, error
		FROM reconciliation_runs
		WHERE id = ? AND device_id = ?
	`, id, r.deviceID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.RunNotFound(id)
		}
		return nil, errors.DatabaseQueryError("get run", err)
	}

	if err := r.db.SelectContext(ctx, &run.Steps, `
		SELECT seq, kind, app_id, service_id, service_name, container_id, outcome, error, duration_ms
		FROM reconciliation_steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id); err != nil {
		return nil, errors.DatabaseQueryError("get steps", err)
	}
	if run.Steps == nil {
		run.Steps = []types.StepResult{}
	}
	return run, nil
}

// List returns runs newest first, without their steps
func (r *RunRepository) List(ctx context.Context, opts PaginationOptions) (*PaginatedResponse[types.ReconciliationRun], error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.InvalidInput(err.Error(), "valid pagination")
	}

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM reconciliation_runs WHERE device_id = ?`, r.deviceID); err != nil {
		return nil, errors.DatabaseQueryError("count runs", err)
	}

	var runs []types.ReconciliationRun
	if err := r.db.SelectContext(ctx, &runs, `
		SELECT id, trigger_reason, status, started_at, finished_at, error
		FROM reconciliation_runs
		WHERE device_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, r.deviceID, opts.PageSize, opts.Offset()); err != nil {
		return nil, errors.DatabaseQueryError("list runs", err)
	}
	for i := range runs {
		runs[i].Steps = []types.StepResult{}
	}

	return NewPaginatedResponse(runs, opts, total), nil
}

// Prune keeps only the newest keep runs
func (r *RunRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM reconciliation_runs
		WHERE device_id = ? AND id NOT IN (
			SELECT id FROM reconciliation_runs
			WHERE device_id = ?
			ORDER BY started_at DESC, rowid DESC
			LIMIT ?
		)
	`, r.deviceID, r.deviceID, keep)
	if err != nil {
		return 0, errors.DatabaseQueryError("prune runs", err)
	}
	return res.RowsAffected()
}
