package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/db"
	"appmanager/internal/errors"
	"appmanager/internal/store"
	"appmanager/internal/testutil"
	"appmanager/internal/types"
)

func webApp() *types.Application {
	return &types.Application{
		AppID:   1001,
		AppName: "web",
		Services: []types.Service{{
			ServiceID:   1,
			ServiceName: "nginx",
			ImageName:   "nginx:alpine",
			Config: types.ServiceConfig{
				Ports: []types.PortMapping{{HostPort: 8080, ContainerPort: 80}},
			},
		}},
	}
}

func TestSetTargetValidatesAndNormalizes(t *testing.T) {
	s := store.New(nil)
	ctx := context.Background()

	snap := types.NewSnapshot()
	snap.Apps[1001] = webApp()
	require.NoError(t, s.SetTarget(ctx, snap))
	assert.Equal(t, int64(1), s.TargetVersion())

	target := s.GetTarget()
	cfg := target.Apps[1001].Services[0].Config
	assert.Equal(t, "tcp", cfg.Ports[0].Protocol)
	assert.Equal(t, "nginx:alpine", cfg.Image)
	assert.Equal(t, types.RestartAlways, cfg.RestartPolicy)

	bad := types.NewSnapshot()
	dup := webApp()
	dup.Services = append(dup.Services, dup.Services[0])
	dup.Services[1].ServiceName = "other"
	bad.Apps[1001] = dup

	err := s.SetTarget(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrValidationFailed))
	assert.Equal(t, int64(1), s.TargetVersion(), "rejected writes leave target untouched")
	assert.Len(t, s.GetTarget().Apps[1001].Services, 1)
}

func TestReadsAreCopies(t *testing.T) {
	s := store.New(nil)
	ctx := context.Background()
	require.NoError(t, s.SetTargetApp(ctx, webApp()))

	copy1 := s.GetTarget()
	copy1.Apps[1001].Services[0].ImageName = "mutated"
	delete(copy1.Apps, 1001)

	copy2 := s.GetTarget()
	require.Contains(t, copy2.Apps, 1001)
	assert.Equal(t, "nginx:alpine", copy2.Apps[1001].Services[0].ImageName)
}

func TestPerAppPatch(t *testing.T) {
	s := store.New(nil)
	ctx := context.Background()

	require.NoError(t, s.SetTargetApp(ctx, webApp()))
	other := &types.Application{AppID: 1002, AppName: "db", Services: []types.Service{
		{ServiceID: 1, ServiceName: "postgres", ImageName: "postgres:16"},
	}}
	require.NoError(t, s.SetTargetApp(ctx, other))
	assert.Len(t, s.GetTarget().Apps, 2)

	require.NoError(t, s.RemoveTargetApp(ctx, 1001))
	assert.Equal(t, []int{1002}, s.GetTarget().AppIDs())

	err := s.RemoveTargetApp(ctx, 1001)
	assert.True(t, errors.HasCode(err, errors.ErrAppNotFound))
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	database := testutil.SetupTestDB(t)
	repo := db.NewSnapshotRepository(database, testutil.TestDeviceID)
	ctx := context.Background()

	s := store.New(repo)
	require.NoError(t, s.SetTargetApp(ctx, webApp()))

	current := types.NewSnapshot()
	current.Apps[1001] = webApp()
	current.Apps[1001].Services[0].ContainerID = "c0001"
	require.NoError(t, s.SetCurrent(ctx, current))

	restarted := store.New(repo)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, int64(1), restarted.TargetVersion())
	assert.Contains(t, restarted.GetTarget().Apps, 1001)
	assert.Equal(t, "c0001", restarted.GetCurrent().Apps[1001].Services[0].ContainerID)
}

func TestConcurrentTargetWrites(t *testing.T) {
	s := store.New(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			app := webApp()
			app.AppID = 2000 + id
			app.Services[0].Config.Ports = nil
			assert.NoError(t, s.SetTargetApp(ctx, app))
			_ = s.GetTarget()
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.GetTarget().Apps, 20)
	assert.Equal(t, int64(20), s.TargetVersion())
}
