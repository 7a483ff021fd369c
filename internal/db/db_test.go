package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/db"
	"appmanager/internal/errors"
	"appmanager/internal/testutil"
	"appmanager/internal/types"
)

func TestMigrateIsIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	require.NoError(t, database.Migrate())

	version, dirty, err := database.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	assert.NoError(t, database.HealthCheck(context.Background()))
}

func TestDeviceEnsure(t *testing.T) {
	database := testutil.SetupTestDB(t)
	repo := db.NewDeviceRepository(database)
	ctx := context.Background()

	device, err := repo.Ensure(ctx, "", "renamed", db.JSONB{"runtime": "docker"})
	require.NoError(t, err)
	assert.Equal(t, testutil.TestDeviceID, device.ID, "existing identity is reused")
	assert.Equal(t, "renamed", device.Name)
	assert.Equal(t, "docker", device.Metadata["runtime"])

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestSnapshotSaveLoad(t *testing.T) {
	database := testutil.SetupTestDB(t)
	repo := db.NewSnapshotRepository(database, testutil.TestDeviceID)
	ctx := context.Background()

	empty, version, err := repo.Load(ctx, db.SnapshotTarget)
	require.NoError(t, err)
	assert.Empty(t, empty.Apps)
	assert.Equal(t, int64(0), version)

	snap := types.NewSnapshot()
	snap.Apps[1001] = &types.Application{
		AppID:   1001,
		AppName: "web",
		Services: []types.Service{{
			ServiceID:   1,
			ServiceName: "nginx",
			ImageName:   "nginx:alpine",
			Config: types.ServiceConfig{
				Ports: []types.PortMapping{{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}},
			},
		}},
	}
	require.NoError(t, repo.Save(ctx, db.SnapshotTarget, snap, 3))
	require.NoError(t, repo.Save(ctx, db.SnapshotTarget, snap, 4))

	loaded, version, err := repo.Load(ctx, db.SnapshotTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
	assert.True(t, snap.Equal(loaded))
	assert.Equal(t, "web", loaded.Apps[1001].AppName)

	current, _, err := repo.Load(ctx, db.SnapshotCurrent)
	require.NoError(t, err)
	assert.Empty(t, current.Apps, "kinds are stored separately")
}

func TestRunLifecycle(t *testing.T) {
	database := testutil.SetupTestDB(t)
	repo := db.NewRunRepository(database, testutil.TestDeviceID)
	ctx := context.Background()

	run := &types.ReconciliationRun{
		ID:        "run-1",
		Trigger:   "apply",
		Status:    types.StateApplying,
		StartedAt: time.Now(),
	}
	require.NoError(t, repo.Start(ctx, run))

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = types.StateError
	run.Error = "1 step failed"
	run.Steps = []types.StepResult{
		{Seq: 1, Kind: types.OpRemove, AppID: 1001, ServiceID: 1, ServiceName: "nginx", Outcome: types.OutcomeSuccess},
		{Seq: 2, Kind: types.OpCreate, AppID: 1001, ServiceID: 1, ServiceName: "nginx", Outcome: types.OutcomeFailure, Error: "boom"},
	}
	require.NoError(t, repo.Finish(ctx, run))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateError, got.Status)
	assert.Equal(t, "apply", got.Trigger)
	require.NotNil(t, got.FinishedAt)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, types.OutcomeFailure, got.Steps[1].Outcome)
	assert.Equal(t, "boom", got.Steps[1].Error)

	_, err = repo.Get(ctx, "nope")
	assert.True(t, errors.HasCode(err, errors.ErrRunNotFound))
}

func TestRunListAndPrune(t *testing.T) {
	database := testutil.SetupTestDB(t)
	repo := db.NewRunRepository(database, testutil.TestDeviceID)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Start(ctx, &types.ReconciliationRun{
			ID:        fmt.Sprintf("run-%d", i),
			Trigger:   "poll",
			Status:    types.StateIdle,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := repo.List(ctx, db.PaginationOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "run-4", page.Data[0].ID)

	removed, err := repo.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	page, err = repo.List(ctx, db.DefaultPaginationOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)

	_, err = repo.List(ctx, db.PaginationOptions{Page: 0, PageSize: 2})
	assert.Error(t, err)
}
