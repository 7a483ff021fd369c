package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/container"
	"appmanager/internal/db"
	"appmanager/internal/errors"
	"appmanager/internal/reconciler"
	"appmanager/internal/store"
	"appmanager/internal/testutil"
	"appmanager/internal/types"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	runtime *testutil.FakeRuntime
	store   *store.Store
	rec     *reconciler.Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database := testutil.SetupTestDB(t)
	runs := db.NewRunRepository(database, testutil.TestDeviceID)

	fake := testutil.NewFakeRuntime()
	rt := container.NewResilientRuntime(fake, container.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		CallTimeout:    time.Second,
	})
	st := store.New(db.NewSnapshotRepository(database, testutil.TestDeviceID))
	rec := reconciler.New(st, rt, reconciler.Options{Recorder: runs})

	srv := New(nil, Dependencies{
		Store:      st,
		Reconciler: rec,
		Runtime:    rt,
		Runs:       runs,
		Database:   database,
		Device:     &db.Device{ID: testutil.TestDeviceID, Name: "test-device"},
	})
	return &testEnv{server: srv, handler: srv.Handler(), runtime: fake, store: st, rec: rec}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(t, e.handler, method, path, body)
}

const webTarget = `{
  "apps": {
    "1001": {
      "appName": "web",
      "services": [
        {"serviceId": 1, "serviceName": "nginx", "imageName": "nginx:alpine",
         "config": {"ports": [{"hostPort": 8080, "containerPort": 80}], "environment": {"MODE": "edge"}}},
        {"serviceId": 2, "serviceName": "postgres", "imageName": "postgres:16",
         "config": {"volumes": [{"source": "pgdata", "target": "/var/lib/postgresql/data"}]}}
      ]
    },
    "1002": {
      "appId": 1002,
      "appName": "cache",
      "services": [{"serviceId": 1, "serviceName": "redis", "imageName": "redis:7"}]
    }
  }
}`

func (e *testEnv) converge(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/v2/state/target", webTarget)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/v2/applications/apply?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	e.runtime.ResetCalls()
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestSetTargetThenApply(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v2/state/target", webTarget)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var written TargetResponse
	testutil.DecodeResponse(t, rec, &written)
	assert.Equal(t, int64(1), written.Version)
	assert.False(t, written.Applied)
	assert.Empty(t, env.runtime.Containers(), "writing target does not converge")

	rec = env.do(t, http.MethodGet, "/v2/state/target", nil)
	var target types.StateSnapshot
	testutil.DecodeResponse(t, rec, &target)
	require.Contains(t, target.Apps, 1001)
	assert.Equal(t, 1001, target.Apps[1001].AppID, "appId is taken from the key")

	rec = env.do(t, http.MethodPost, "/v2/applications/apply?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var applied ApplyResponse
	testutil.DecodeResponse(t, rec, &applied)
	require.NotNil(t, applied.Run)
	assert.Equal(t, types.StateIdle, applied.Run.Status)
	assert.Len(t, applied.Run.Steps, 3)

	rec = env.do(t, http.MethodGet, "/v2/applications/state", nil)
	var current types.StateSnapshot
	testutil.DecodeResponse(t, rec, &current)
	assert.Equal(t, 3, current.ServiceCount())

	rec = env.do(t, http.MethodGet, "/v2/applications/1001/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var app types.Application
	testutil.DecodeResponse(t, rec, &app)
	assert.Equal(t, "web", app.AppName)
	assert.Len(t, app.Services, 2)
}

func TestApplyIsAcceptedAsync(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v2/applications/apply", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, env.rec.Pending())

	rec = env.do(t, http.MethodPost, "/v2/applications/apply", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, "a queued apply is coalesced, not rejected")
}

func TestTargetWriteCanQueueApply(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, "/v2/state/target?apply=true", webTarget)
	require.Equal(t, http.StatusOK, rec.Code)
	var written TargetResponse
	testutil.DecodeResponse(t, rec, &written)
	assert.True(t, written.Applied)
	assert.True(t, env.rec.Pending())
}

func TestInvalidTargetIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)

	body := `{"apps": {"1001": {"appName": "web", "services": [
		{"serviceId": 1, "serviceName": "a", "imageName": "nginx"},
		{"serviceId": 1, "serviceName": "b", "imageName": "nginx"}]}}}`
	rec := env.do(t, http.MethodPut, "/v2/state/target", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := testutil.ParseErrorResponse(t, rec)
	assert.Equal(t, errors.ErrValidationFailed, resp.Error.Code)

	assert.Equal(t, int64(1), env.store.TargetVersion())
	assert.Equal(t, 3, env.store.GetCurrent().ServiceCount(), "current untouched")
	assert.Empty(t, env.runtime.Calls())
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, "/v2/state/target", `{"apps": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrInvalidInput, testutil.ParseErrorResponse(t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/v2/applications/abc/state", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppTargetPatch(t *testing.T) {
	env := newTestEnv(t)

	app := map[string]interface{}{
		"appName": "web",
		"services": []map[string]interface{}{
			{"serviceId": 1, "serviceName": "nginx", "imageName": "nginx:alpine"},
		},
	}
	rec := env.do(t, http.MethodPut, "/v2/applications/1001/target", app)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	app["appId"] = 7
	rec = env.do(t, http.MethodPut, "/v2/applications/1001/target", app)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v2/applications/1001/target", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/v2/applications/1001/target", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.ErrAppNotFound, testutil.ParseErrorResponse(t, rec).Error.Code)
}

func TestServiceActions(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)

	rec := env.do(t, http.MethodPost, "/v2/applications/1001/restart-service", ServiceActionRequest{ServiceName: "nginx"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ActionResponse
	testutil.DecodeResponse(t, rec, &resp)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "action:restart-service", resp.Run.Trigger)
	assert.Len(t, env.runtime.CallsTo("Stop"), 1)
	assert.Len(t, env.runtime.CallsTo("Start"), 1)

	rec = env.do(t, http.MethodPost, "/v2/applications/1001/stop-service", ServiceActionRequest{ServiceName: "postgres", Force: true})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v2/applications/1001/start-service", ServiceActionRequest{ServiceName: "postgres"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v2/applications/1001/restart", ForceRequest{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v2/applications/1001/stop-service", ServiceActionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v2/applications/1001/stop-service", ServiceActionRequest{ServiceName: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.ErrServiceNotFound, testutil.ParseErrorResponse(t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/v2/applications/4242/restart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionFailuresMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)

	env.runtime.FailWith("Start", "", testutil.Rejected("start"), -1)
	rec := env.do(t, http.MethodPost, "/v2/applications/1002/restart", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, errors.ErrOperationFailed, testutil.ParseErrorResponse(t, rec).Error.Code)

	env.runtime.ClearFailures()
	env.runtime.FailWith("Stop", "", testutil.Unavailable("stop"), -1)
	rec = env.do(t, http.MethodPost, "/v2/applications/1002/restart", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, errors.ErrRuntimeUnavailable, testutil.ParseErrorResponse(t, rec).Error.Code)
}

func TestPurge(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)
	require.Contains(t, env.runtime.Volumes(), container.VolumeName(1001, "pgdata"))

	rec := env.do(t, http.MethodPost, "/v2/applications/1001/purge", ForceRequest{Force: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, env.runtime.Volumes(), container.VolumeName(1001, "pgdata"))
	assert.True(t, env.rec.Pending())

	rec = env.do(t, http.MethodPost, "/v1/purge", V1AppActionRequest{AppID: 1002})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/purge", V1AppActionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestV1Endpoints(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)

	rec := env.do(t, http.MethodGet, "/v1/device", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var device DeviceResponse
	testutil.DecodeResponse(t, rec, &device)
	assert.Equal(t, testutil.TestDeviceID, device.DeviceID)
	assert.Equal(t, 2, device.AppCount)
	assert.Equal(t, 3, device.ServiceCount)
	assert.Equal(t, types.StateIdle, device.Status)
	assert.Equal(t, int64(1), device.AppliedVersion)

	rec = env.do(t, http.MethodGet, "/v1/apps/1002", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var app V1AppResponse
	testutil.DecodeResponse(t, rec, &app)
	assert.Equal(t, "redis", app.ServiceName)
	assert.Equal(t, types.StatusRunning, app.Status)

	rec = env.do(t, http.MethodGet, "/v1/apps/1001", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "multi-service apps need v2")

	rec = env.do(t, http.MethodPost, "/v1/apps/1002/stop", ForceRequest{Force: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/v1/apps/1002", nil)
	testutil.DecodeResponse(t, rec, &app)
	assert.Equal(t, types.StatusExited, app.Status)

	rec = env.do(t, http.MethodPost, "/v1/apps/1002/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/apps/1001/stop", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/restart", V1AppActionRequest{AppID: 1001})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthy(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/healthy", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.runtime.FailWith("Ping", "", testutil.Unavailable("ping"), -1)
	rec = env.do(t, http.MethodGet, "/v1/healthy", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "a passing probe is reused within the TTL")
	assert.Len(t, env.runtime.CallsTo("Ping"), 1)

	env.server.health.Clear()
	rec = env.do(t, http.MethodGet, "/v1/healthy", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/healthy", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, env.runtime.CallsTo("Ping"), 3, "failed probes are not cached")
}

func TestRunLog(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)

	rec := env.do(t, http.MethodGet, "/v2/reconciliation/runs?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page db.PaginatedResponse[types.ReconciliationRun]
	testutil.DecodeResponse(t, rec, &page)
	require.Equal(t, 1, page.TotalItems)

	rec = env.do(t, http.MethodGet, "/v2/reconciliation/runs/"+page.Data[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run types.ReconciliationRun
	testutil.DecodeResponse(t, rec, &run)
	assert.Len(t, run.Steps, 3)

	rec = env.do(t, http.MethodGet, "/v2/reconciliation/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v2/reconciliation/runs?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v2/reconciliation/status", nil)
	var status StatusResponse
	testutil.DecodeResponse(t, rec, &status)
	assert.Equal(t, types.StateIdle, status.State)
	assert.Equal(t, page.Data[0].ID, status.LastRunID)
}

func TestReadsDoNotWaitForPass(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)

	env.runtime.Delay = 200 * time.Millisecond
	require.NoError(t, env.store.SetTargetApp(context.Background(), &types.Application{
		AppID: 1003, AppName: "slow",
		Services: []types.Service{{ServiceID: 1, ServiceName: "worker", ImageName: "busybox"}},
	}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = env.rec.Reconcile(context.Background(), reconciler.TriggerApply)
	}()
	defer func() { <-done }()
	require.Eventually(t, func() bool {
		return env.rec.State() == types.StateApplying
	}, time.Second, time.Millisecond)

	start := time.Now()
	rec := env.do(t, http.MethodGet, "/v2/applications/state", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestErrorHandlerMapsTaxonomy(t *testing.T) {
	e := echo.New()
	cases := []struct {
		err    error
		status int
	}{
		{errors.ValidationFailed("x", "y", "bad"), http.StatusBadRequest},
		{errors.AppNotFound(1), http.StatusNotFound},
		{errors.ConflictError("host port 8080", "nginx"), http.StatusConflict},
		{errors.RuntimeUnavailable("list", nil), http.StatusServiceUnavailable},
		{errors.OperationFailed("start", "c1", nil), http.StatusBadGateway},
		{echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		ErrorHandler(tc.err, e.NewContext(req, rec))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.NotEmpty(t, testutil.ParseErrorResponse(t, rec).Error.Code)
	}
}
