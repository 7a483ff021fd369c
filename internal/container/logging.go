package container

import (
	stderrors "errors"

	"appmanager/internal/logger"
)

// LogContainerError logs a container error with structured fields.
// Not-found results are logged at debug level since callers often treat
// them as success.
func LogContainerError(err error, operation string) {
	if err == nil {
		return
	}

	fields := logger.Fields{
		"operation": operation,
	}

	var containerErr *ContainerError
	if stderrors.As(err, &containerErr) {
		fields["error_type"] = string(containerErr.Type)
		if containerErr.ContainerID != "" {
			fields["container_id"] = containerErr.ContainerID
		}
		if containerErr.IsRetryable() {
			fields["retryable"] = true
		}
	}

	entry := logger.WithFields(fields).WithError(err)
	if IsNotFound(err) {
		entry.Debug("Container not found")
		return
	}
	entry.Error("Container operation failed")
}
