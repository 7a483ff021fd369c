package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/errors"
	"appmanager/internal/types"
)

func svc(id int, name, image string, hostPort int) types.Service {
	s := types.Service{
		ServiceID:   id,
		ServiceName: name,
		ImageName:   image,
		Config:      types.ServiceConfig{Version: 1, Image: image, RestartPolicy: "always"},
	}
	if hostPort != 0 {
		s.Config.Ports = []types.PortMapping{{HostPort: hostPort, ContainerPort: 80, Protocol: "tcp"}}
	}
	return s
}

func snapshot(apps ...*types.Application) *types.StateSnapshot {
	snap := types.NewSnapshot()
	for _, a := range apps {
		snap.Apps[a.AppID] = a
	}
	return snap
}

func app(id int, services ...types.Service) *types.Application {
	return &types.Application{AppID: id, AppName: "app", Services: services}
}

func summary(p *Plan) []string {
	out := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		out[i] = string(op.Kind) + " " + op.Service.ServiceName
	}
	return out
}

func TestDiffSameSnapshotIsEmpty(t *testing.T) {
	s := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080), svc(2, "postgres", "postgres:16", 0)),
		app(1002, svc(1, "redis", "redis:7", 6379)),
	)
	p := Diff(s, s.Clone())
	assert.True(t, p.Empty())
	assert.Equal(t, "[]", p.String())
}

func TestDiffScenarios(t *testing.T) {
	nginx := svc(1, "nginx", "nginx:alpine", 8080)
	postgres := svc(2, "postgres", "postgres:16", 0)
	newNginx := svc(1, "nginx", "nginx:1.27-alpine", 8080)

	tests := []struct {
		name    string
		current *types.StateSnapshot
		target  *types.StateSnapshot
		want    []string
	}{
		{
			name:    "fresh device",
			current: types.NewSnapshot(),
			target:  snapshot(app(1001, nginx)),
			want:    []string{"CREATE nginx"},
		},
		{
			name:    "add service without churn",
			current: snapshot(app(1001, nginx)),
			target:  snapshot(app(1001, nginx, postgres)),
			want:    []string{"CREATE postgres"},
		},
		{
			name:    "image change recreates",
			current: snapshot(app(1001, nginx)),
			target:  snapshot(app(1001, newNginx)),
			want:    []string{"REMOVE nginx", "CREATE nginx"},
		},
		{
			name:    "app removed",
			current: snapshot(app(1001, nginx, postgres)),
			target:  types.NewSnapshot(),
			want:    []string{"REMOVE nginx", "REMOVE postgres"},
		},
		{
			name:    "removes precede creates across apps",
			current: snapshot(app(1002, svc(1, "old", "busybox", 9000))),
			target:  snapshot(app(1001, svc(1, "new", "busybox", 9000))),
			want:    []string{"REMOVE old", "CREATE new"},
		},
		{
			name:    "creates follow declared order",
			current: types.NewSnapshot(),
			target:  snapshot(app(1001, svc(5, "b", "busybox", 0), svc(2, "a", "busybox", 0))),
			want:    []string{"CREATE b", "CREATE a"},
		},
		{
			name:    "rename alone does not recreate",
			current: snapshot(app(1001, nginx)),
			target:  snapshot(app(1001, svc(1, "web", "nginx:alpine", 8080))),
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Diff(tt.current, tt.target)
			assert.Equal(t, tt.want, summary(p))
		})
	}
}

func TestDiffRecreatePairIsMarked(t *testing.T) {
	current := snapshot(app(1001, svc(1, "nginx", "nginx:alpine", 8080)))
	current.Apps[1001].Services[0].ContainerID = "abc"
	target := snapshot(app(1001, svc(1, "nginx", "nginx:latest", 8080)))

	p := Diff(current, target)
	require.Len(t, p.Operations, 2)
	assert.True(t, p.Operations[0].Recreate)
	assert.True(t, p.Operations[1].Recreate)
	assert.Equal(t, "abc", p.Operations[0].Service.ContainerID)
	assert.Equal(t, "nginx:latest", p.Operations[1].Service.ImageName)
	assert.Equal(t, p.Operations[0].Key(), p.Operations[1].Key())
}

func TestDiffHostPortConflict(t *testing.T) {
	target := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(1002, svc(1, "caddy", "caddy:2", 8080)),
	)

	p := Diff(types.NewSnapshot(), target)
	assert.Equal(t, []string{"CREATE nginx", "CONFLICT caddy"}, summary(p))

	conflict := p.Operations[1]
	assert.Equal(t, 1002, conflict.AppID)
	require.Error(t, conflict.Err)
	assert.True(t, errors.HasCode(conflict.Err, errors.ErrConflict))
}

func TestDiffRunningServiceKeepsItsPort(t *testing.T) {
	current := snapshot(app(1002, svc(1, "caddy", "caddy:2", 8080)))
	target := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(1002, svc(1, "caddy", "caddy:2", 8080)),
	)

	p := Diff(current, target)
	assert.Equal(t, []string{"CONFLICT nginx"}, summary(p))
}

func TestDiffConflictedRecreateLeavesServiceAlone(t *testing.T) {
	current := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(1002, svc(1, "caddy", "caddy:2", 9090)),
	)
	target := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(1002, svc(1, "caddy", "caddy:2", 8080)),
	)

	p := Diff(current, target)
	assert.Equal(t, []string{"CONFLICT caddy"}, summary(p))
	assert.Equal(t, 1, p.Count(types.OpConflict))
	assert.Equal(t, 0, p.Count(types.OpRemove))
}

func TestDiffPortFreedByRemovalIsReusable(t *testing.T) {
	current := snapshot(app(1001, svc(1, "nginx", "nginx:alpine", 8080)))
	target := snapshot(app(1002, svc(1, "caddy", "caddy:2", 8080)))

	p := Diff(current, target)
	assert.Equal(t, []string{"REMOVE nginx", "CREATE caddy"}, summary(p))
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	current := snapshot(app(1001, svc(1, "nginx", "nginx:alpine", 8080)))
	target := snapshot(app(1001, svc(1, "nginx", "nginx:latest", 8080)))
	before := target.Clone()

	p := Diff(current, target)
	p.Operations[1].Service.Config.Ports[0].HostPort = 1

	assert.Equal(t, 8080, target.Apps[1001].Services[0].Config.Ports[0].HostPort)
	assert.True(t, before.Equal(target))
}

func TestDiffRefusedRecreateKeepsItsPort(t *testing.T) {
	current := snapshot(app(2002, svc(1, "nginx", "nginx:1.0", 8080)))
	target := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(2002, svc(1, "nginx", "nginx:2.0", 8080)),
	)

	p := Diff(current, target)
	require.Len(t, p.Operations, 3)
	assert.Equal(t, types.OpRemove, p.Operations[0].Kind)
	assert.Equal(t, 2002, p.Operations[0].AppID)
	assert.Equal(t, types.OpConflict, p.Operations[1].Kind)
	assert.Equal(t, 1001, p.Operations[1].AppID)
	assert.Equal(t, types.OpCreate, p.Operations[2].Kind)
	assert.Equal(t, 2002, p.Operations[2].AppID)
}

func TestDiffPortHeldByRefusedRecreateIsNotReused(t *testing.T) {
	current := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(3003, svc(1, "caddy", "caddy:2.7", 9090)),
	)
	target := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 8080)),
		app(2002, svc(1, "traefik", "traefik:3", 9090)),
		app(3003, svc(1, "caddy", "caddy:2.8", 8080)),
	)

	// caddy cannot move to 8080, so its running container keeps 9090
	p := Diff(current, target)
	assert.Equal(t, []string{"CONFLICT traefik", "CONFLICT caddy"}, summary(p))
	assert.Equal(t, 0, p.Count(types.OpRemove))
}

func TestDiffMovedPortIsReusable(t *testing.T) {
	current := snapshot(app(1001, svc(1, "nginx", "nginx:alpine", 8080)))
	target := snapshot(
		app(1001, svc(1, "nginx", "nginx:alpine", 9090)),
		app(1002, svc(1, "caddy", "caddy:2", 8080)),
	)

	p := Diff(current, target)
	assert.Equal(t, []string{"REMOVE nginx", "CREATE nginx", "CREATE caddy"}, summary(p))
}

func TestDiffStartsServiceThatIsNotRunning(t *testing.T) {
	created := svc(1, "nginx", "nginx:alpine", 8080)
	created.Status = types.StatusStopped
	created.ContainerID = "c1"
	exited := svc(2, "worker", "worker:1", 0)
	exited.Status = types.StatusExited
	exited.ContainerID = "c2"
	oneShot := svc(3, "migrate", "migrate:1", 0)
	oneShot.Config.RestartPolicy = types.RestartNo
	oneShot.Status = types.StatusExited

	current := snapshot(app(1001, created, exited, oneShot))
	target := snapshot(app(1001,
		svc(1, "nginx", "nginx:alpine", 8080),
		svc(2, "worker", "worker:1", 0),
		func() types.Service {
			s := svc(3, "migrate", "migrate:1", 0)
			s.Config.RestartPolicy = types.RestartNo
			return s
		}(),
	))

	p := Diff(current, target)
	assert.Equal(t, []string{"START nginx", "START worker"}, summary(p))
	assert.Equal(t, "c1", p.Operations[0].Service.ContainerID)

	held := Held{types.ServiceKey{AppID: 1001, ServiceID: 2}: true}
	p = DiffHeld(current, target, held)
	assert.Equal(t, []string{"START nginx"}, summary(p))
}
