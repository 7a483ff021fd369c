package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/testutil"
)

func TestServiceLogs(t *testing.T) {
	env := newTestEnv(t)
	env.converge(t)
	app, ok := env.store.GetCurrent().App(1002)
	require.True(t, ok)
	env.runtime.WriteLog(app.Services[0].ContainerID, "Ready to accept connections")

	rec := env.do(t, http.MethodGet, "/v2/applications/1002/logs?service=redis&tail=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LogsResponse
	testutil.DecodeResponse(t, rec, &resp)
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "Ready to accept connections\n", resp.Services[0].Output)

	rec = env.do(t, http.MethodGet, "/v2/applications/1002/logs?tail=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v2/applications/1002/logs?service=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
