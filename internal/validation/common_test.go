package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/errors"
	"appmanager/internal/types"
)

func validApp() *types.Application {
	return &types.Application{
		AppID:   1001,
		AppName: "web",
		Services: []types.Service{
			{
				ServiceID:   1,
				ServiceName: "nginx",
				ImageName:   "nginx:alpine",
				Config: types.ServiceConfig{
					Ports:       []types.PortMapping{{HostPort: 8080, ContainerPort: 80}},
					Environment: map[string]string{"NGINX_PORT": "80"},
					Volumes:     []types.VolumeMount{{Source: "html", Target: "/usr/share/nginx/html"}},
				},
			},
			{
				ServiceID:   2,
				ServiceName: "postgres",
				ImageName:   "postgres:16",
			},
		},
	}
}

func TestApplication(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(app *types.Application)
		wantErr bool
		code    errors.ErrorCode
	}{
		{"valid", func(app *types.Application) {}, false, ""},
		{"duplicate service id", func(app *types.Application) {
			app.Services[1].ServiceID = 1
		}, true, errors.ErrValidationFailed},
		{"duplicate service name", func(app *types.Application) {
			app.Services[1].ServiceName = "nginx"
		}, true, errors.ErrValidationFailed},
		{"non positive app id", func(app *types.Application) {
			app.AppID = 0
		}, true, errors.ErrValidationFailed},
		{"empty image", func(app *types.Application) {
			app.Services[0].ImageName = ""
		}, true, errors.ErrValidationFailed},
		{"bad restart policy", func(app *types.Application) {
			app.Services[0].Config.RestartPolicy = "sometimes"
		}, true, errors.ErrValidationFailed},
		{"port out of range", func(app *types.Application) {
			app.Services[0].Config.Ports[0].HostPort = 70000
		}, true, errors.ErrInvalidPort},
		{"bad protocol", func(app *types.Application) {
			app.Services[0].Config.Ports[0].Protocol = "sctp"
		}, true, errors.ErrInvalidPort},
		{"host port twice", func(app *types.Application) {
			app.Services[0].Config.Ports = append(app.Services[0].Config.Ports,
				types.PortMapping{HostPort: 8080, ContainerPort: 81, Protocol: "tcp"})
		}, true, errors.ErrInvalidPort},
		{"bad env key", func(app *types.Application) {
			app.Services[0].Config.Environment["1BAD"] = "x"
		}, true, errors.ErrValidationFailed},
		{"relative volume target", func(app *types.Application) {
			app.Services[0].Config.Volumes[0].Target = "data"
		}, true, errors.ErrValidationFailed},
		{"traversal in bind source", func(app *types.Application) {
			app.Services[0].Config.Volumes[0].Source = "/srv/../etc"
		}, true, errors.ErrValidationFailed},
		{"future config version", func(app *types.Application) {
			app.Services[0].Config.Version = 99
		}, true, errors.ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := validApp()
			tt.mutate(app)
			err := Application(app)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestSnapshotKeyMismatch(t *testing.T) {
	snap := types.NewSnapshot()
	snap.Apps[42] = validApp()

	err := Snapshot(snap)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrValidationFailed))

	assert.Error(t, Snapshot(nil))
}

func TestNormalize(t *testing.T) {
	app := validApp()
	Normalize(app)

	cfg := app.Services[0].Config
	assert.Equal(t, types.ConfigVersion, cfg.Version)
	assert.Equal(t, "nginx:alpine", cfg.Image)
	assert.Equal(t, types.RestartAlways, cfg.RestartPolicy)
	assert.Equal(t, "tcp", cfg.Ports[0].Protocol)
}
