package types

import "sort"

// ContainerStatus is the status derived from the engine's container state.
type ContainerStatus string

const (
	StatusRunning    ContainerStatus = "running"
	StatusStopped    ContainerStatus = "stopped"
	StatusRestarting ContainerStatus = "restarting"
	StatusExited     ContainerStatus = "exited"
	StatusUnknown    ContainerStatus = "unknown"
)

// ParseContainerStatus maps an engine state string onto ContainerStatus.
func ParseContainerStatus(state string) ContainerStatus {
	switch state {
	case "running", "paused":
		return StatusRunning
	case "created":
		return StatusStopped
	case "restarting":
		return StatusRestarting
	case "exited", "dead", "removing":
		return StatusExited
	default:
		return StatusUnknown
	}
}

// ContainerDescriptor is what the runtime reports about a managed container.
// Service is the definition the container was created from.
type ContainerDescriptor struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    ContainerStatus `json:"status"`
	AppID     int             `json:"appId"`
	AppName   string          `json:"appName"`
	ServiceID int             `json:"serviceId"`
	Service   *Service        `json:"service,omitempty"`
}

// SnapshotFromContainers rebuilds a current snapshot from observed
// containers. When several containers claim the same service key the
// running one is kept and the others are returned as extras, which the
// caller is expected to remove. Services are ordered by serviceId.
func SnapshotFromContainers(containers []ContainerDescriptor) (*StateSnapshot, []ContainerDescriptor) {
	snap := NewSnapshot()
	owners := make(map[ServiceKey]ContainerDescriptor)
	var extras []ContainerDescriptor

	for _, c := range containers {
		if c.Service == nil {
			extras = append(extras, c)
			continue
		}
		app, ok := snap.Apps[c.AppID]
		if !ok {
			app = &Application{AppID: c.AppID, AppName: c.AppName}
			snap.Apps[c.AppID] = app
		}

		svc := c.Service.Clone()
		svc.ServiceID = c.ServiceID
		svc.ContainerID = c.ID
		svc.Status = c.Status

		key := svc.Key(c.AppID)
		if existing, found := app.Service(c.ServiceID); found {
			if existing.Status != StatusRunning && svc.Status == StatusRunning {
				extras = append(extras, owners[key])
				*existing = svc
				owners[key] = c
			} else {
				extras = append(extras, c)
			}
			continue
		}
		app.Services = append(app.Services, svc)
		owners[key] = c
	}

	for _, app := range snap.Apps {
		sort.SliceStable(app.Services, func(i, j int) bool {
			return app.Services[i].ServiceID < app.Services[j].ServiceID
		})
	}
	return snap, extras
}
