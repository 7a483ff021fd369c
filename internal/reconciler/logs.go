package reconciler

import (
	"context"

	"appmanager/internal/constants"
	"appmanager/internal/logger"
)

// ServiceLog is the output tail of one service's container
type ServiceLog struct {
	AppID       int    `json:"appId"`
	ServiceID   int    `json:"serviceId"`
	ServiceName string `json:"serviceName"`
	ContainerID string `json:"containerId"`
	Output      string `json:"output"`
	Error       string `json:"error,omitempty"`
}

// ServiceLogs reads the recent output of an application's containers, or
// of one service when serviceName is set. Reading logs changes nothing, so
// it does not wait for the gate. A container whose logs cannot be read is
// reported with its error instead of failing the whole request.
func (r *Reconciler) ServiceLogs(ctx context.Context, appID int, serviceName string, tail int) ([]ServiceLog, error) {
	if tail <= 0 {
		tail = constants.DefaultLogTail
	}
	if tail > constants.MaxLogTail {
		tail = constants.MaxLogTail
	}

	_, services, err := r.resolve(ctx, appID, serviceName)
	if err != nil {
		return nil, err
	}

	logs := make([]ServiceLog, 0, len(services))
	for _, svc := range services {
		entry := ServiceLog{
			AppID:       appID,
			ServiceID:   svc.ServiceID,
			ServiceName: svc.ServiceName,
			ContainerID: svc.ContainerID,
		}
		out, err := r.runtime.Logs(ctx, svc.ContainerID, tail)
		if err != nil {
			if serviceName != "" {
				return nil, err
			}
			logger.WithError(err).WithFields(logger.Fields{
				"app_id":     appID,
				"service_id": svc.ServiceID,
			}).Warn("Failed to read container logs")
			entry.Error = err.Error()
		}
		entry.Output = string(out)
		logs = append(logs, entry)
	}
	return logs, nil
}
