package container

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/types"
)

func testService() *types.Service {
	return &types.Service{
		ServiceID:   3,
		ServiceName: "nginx",
		ImageName:   "nginx:alpine",
		Config: types.ServiceConfig{
			Version: 1,
			Image:   "nginx:alpine",
			Ports: []types.PortMapping{
				{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"},
				{HostIP: "127.0.0.1", HostPort: 5353, ContainerPort: 53, Protocol: "udp"},
				{ContainerPort: 9000},
			},
			Environment: map[string]string{"B": "2", "A": "1"},
			Volumes: []types.VolumeMount{
				{Source: "html", Target: "/usr/share/nginx/html"},
				{Source: "/etc/ssl", Target: "/etc/ssl", ReadOnly: true},
			},
			Labels: map[string]string{"team": "edge"},
		},
	}
}

func TestPortBindings(t *testing.T) {
	exposed, bindings, err := portBindings(testService().Config.Ports)
	require.NoError(t, err)

	assert.Len(t, exposed, 3)
	assert.Contains(t, exposed, nat.Port("9000/tcp"))
	assert.Equal(t, []nat.PortBinding{{HostPort: "8080"}}, bindings[nat.Port("80/tcp")])
	assert.Equal(t, []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "5353"}}, bindings[nat.Port("53/udp")])
	assert.NotContains(t, bindings, nat.Port("9000/tcp"))
}

func TestMountsScopeNamedVolumes(t *testing.T) {
	got := mounts(1001, testService().Config.Volumes)
	require.Len(t, got, 2)

	assert.Equal(t, mount.TypeVolume, got[0].Type)
	assert.Equal(t, "1001_html", got[0].Source)
	assert.Equal(t, mount.TypeBind, got[1].Type)
	assert.Equal(t, "/etc/ssl", got[1].Source)
	assert.True(t, got[1].ReadOnly)
}

func TestEnvironmentIsSorted(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, environment(map[string]string{"B": "2", "A": "1"}))
}

func TestLabelsRoundTrip(t *testing.T) {
	svc := testService()
	svc.ContainerID = "should-not-leak"
	labels, err := containerLabels(&CreateConfig{AppID: 1001, AppName: "web", Service: svc})
	require.NoError(t, err)

	assert.Equal(t, "edge", labels["team"])
	assert.Equal(t, "true", labels[LabelManaged])
	assert.NotContains(t, labels[LabelService], "should-not-leak")

	desc, ok := describe("abc", "nginx_3_1001", "running", labels)
	require.True(t, ok)
	assert.Equal(t, 1001, desc.AppID)
	assert.Equal(t, 3, desc.ServiceID)
	assert.Equal(t, "web", desc.AppName)
	assert.Equal(t, types.StatusRunning, desc.Status)
	require.NotNil(t, desc.Service)
	assert.True(t, desc.Service.Equal(svc))
}

func TestDescribeIgnoresUnmanaged(t *testing.T) {
	_, ok := describe("abc", "other", "running", map[string]string{"foo": "bar"})
	assert.False(t, ok)
}

func TestNaming(t *testing.T) {
	svc := testService()
	assert.Equal(t, "nginx_3_1001", ContainerName(1001, svc))
	assert.Equal(t, "1001_data", VolumeName(1001, "data"))
	assert.Equal(t, "1001_backend", NetworkName(1001, "backend"))
}
