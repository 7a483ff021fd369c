//go:build integration

package integration_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"appmanager/internal/container"
	"appmanager/internal/types"
)

const testAppID = 990001

// DockerRuntimeTestSuite runs the runtime adapter against a real engine
type DockerRuntimeTestSuite struct {
	suite.Suite
	ctx     context.Context
	docker  *container.DockerRuntime
	runtime container.ContainerRuntime
}

func (s *DockerRuntimeTestSuite) SetupSuite() {
	s.ctx = context.Background()
	docker, err := container.NewDockerRuntime(container.DockerOptions{PullImages: true})
	s.Require().NoError(err)
	s.docker = docker
	s.runtime = container.NewResilientRuntime(docker, container.DefaultRetryPolicy())

	if !s.isDockerAvailable() {
		s.T().Skip("Docker is not available")
	}
}

func (s *DockerRuntimeTestSuite) TearDownSuite() {
	if s.docker == nil {
		return
	}
	s.cleanup()
	s.docker.Close()
}

func (s *DockerRuntimeTestSuite) isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	return s.docker.Ping(ctx) == nil
}

func (s *DockerRuntimeTestSuite) cleanup() {
	containers, err := s.runtime.List(s.ctx)
	if err != nil {
		return
	}
	for _, c := range containers {
		if c.AppID == testAppID {
			_ = s.runtime.Remove(s.ctx, c.ID)
		}
	}
	_ = s.runtime.RemoveVolumes(s.ctx, testAppID, []string{"data"})
}

func (s *DockerRuntimeTestSuite) service() *types.Service {
	return &types.Service{
		ServiceID:   1,
		ServiceName: "echo",
		ImageName:   "alpine:3.20",
		Config: types.ServiceConfig{
			Image:         "alpine:3.20",
			Command:       []string{"sh", "-c", "echo appmanager-ready; sleep 300"},
			Environment:   map[string]string{"MODE": "integration"},
			Volumes:       []types.VolumeMount{{Source: "data", Target: "/data"}},
			RestartPolicy: types.RestartNo,
			Version:       1,
		},
	}
}

// Test: create, observe, read logs, stop and remove one service
func (s *DockerRuntimeTestSuite) TestServiceLifecycle() {
	svc := s.service()
	id, err := s.runtime.Create(s.ctx, &container.CreateConfig{AppID: testAppID, AppName: "itest", Service: svc})
	s.Require().NoError(err)
	s.Require().NoError(s.runtime.Start(s.ctx, id))

	desc, err := s.runtime.Inspect(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(testAppID, desc.AppID)
	s.Equal(1, desc.ServiceID)
	s.Equal(types.StatusRunning, desc.Status)
	s.Require().NotNil(desc.Service, "the service definition is rebuilt from labels")
	s.True(svc.Equal(desc.Service))

	s.Eventually(func() bool {
		out, err := s.runtime.Logs(s.ctx, id, 10)
		return err == nil && strings.Contains(string(out), "appmanager-ready")
	}, 10*time.Second, 200*time.Millisecond)

	s.Require().NoError(s.runtime.Stop(s.ctx, id, time.Second))
	desc, err = s.runtime.Inspect(s.ctx, id)
	s.Require().NoError(err)
	s.NotEqual(types.StatusRunning, desc.Status)

	s.Require().NoError(s.runtime.Remove(s.ctx, id))
	_, err = s.runtime.Inspect(s.ctx, id)
	s.Error(err)

	s.NoError(s.runtime.RemoveVolumes(s.ctx, testAppID, []string{"data", "never-created"}))
}

func TestDockerRuntime(t *testing.T) {
	suite.Run(t, new(DockerRuntimeTestSuite))
}
