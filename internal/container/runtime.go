package container

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"appmanager/internal/types"
)

// Labels written on every managed container.
const (
	LabelManaged     = "io.appmanager.managed"
	LabelAppID       = "io.appmanager.app-id"
	LabelAppName     = "io.appmanager.app-name"
	LabelServiceID   = "io.appmanager.service-id"
	LabelServiceName = "io.appmanager.service-name"
	// LabelService holds the JSON encoded service definition the
	// container was created from.
	LabelService = "io.appmanager.service"
)

// ContainerRuntime defines the interface for container operations.
// It is the only boundary to the container engine.
type ContainerRuntime interface {
	// List returns every managed container, running or not
	List(ctx context.Context) ([]types.ContainerDescriptor, error)

	// Create creates (but does not start) the container for a service
	Create(ctx context.Context, config *CreateConfig) (string, error)

	// Start starts a container by ID
	Start(ctx context.Context, containerID string) error

	// Stop stops a container, waiting up to timeout before killing it
	Stop(ctx context.Context, containerID string, timeout time.Duration) error

	// Remove removes a container by ID
	Remove(ctx context.Context, containerID string) error

	// Inspect returns the current view of one container
	Inspect(ctx context.Context, containerID string) (*types.ContainerDescriptor, error)

	// RemoveVolumes deletes the named volumes of an app
	RemoveVolumes(ctx context.Context, appID int, names []string) error

	// Logs returns the last tail lines of a container's combined
	// stdout and stderr. tail <= 0 returns everything.
	Logs(ctx context.Context, containerID string, tail int) ([]byte, error)

	// Ping checks that the engine answers
	Ping(ctx context.Context) error
}

// CreateConfig holds configuration for creating a container
type CreateConfig struct {
	AppID   int
	AppName string
	Service *types.Service
}

// ContainerName is the engine-side name of a service's container.
func ContainerName(appID int, svc *types.Service) string {
	return fmt.Sprintf("%s_%d_%d", svc.ServiceName, svc.ServiceID, appID)
}

// VolumeName scopes a named volume to its application.
func VolumeName(appID int, name string) string {
	return fmt.Sprintf("%d_%s", appID, name)
}

// NetworkName scopes a network to its application.
func NetworkName(appID int, name string) string {
	return fmt.Sprintf("%d_%s", appID, name)
}

// ParseLabels extracts app and service ids from container labels.
func ParseLabels(labels map[string]string) (appID, serviceID int, ok bool) {
	if labels[LabelManaged] != "true" {
		return 0, 0, false
	}
	appID, err := strconv.Atoi(labels[LabelAppID])
	if err != nil {
		return 0, 0, false
	}
	serviceID, err = strconv.Atoi(labels[LabelServiceID])
	if err != nil {
		return 0, 0, false
	}
	return appID, serviceID, true
}
