package container

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"

	"appmanager/internal/errors"
)

// ErrorType represents the type of container error
type ErrorType string

const (
	// ErrorTypeRuntimeUnavailable indicates the engine could not be reached
	ErrorTypeRuntimeUnavailable ErrorType = "runtime_unavailable"
	// ErrorTypeContainerNotFound indicates the container was not found
	ErrorTypeContainerNotFound ErrorType = "container_not_found"
	// ErrorTypeImageNotFound indicates the container image was not found
	ErrorTypeImageNotFound ErrorType = "image_not_found"
	// ErrorTypeConflict indicates a name or resource already in use
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeConfigError indicates the engine rejected the configuration
	ErrorTypeConfigError ErrorType = "config_error"
	// ErrorTypePermissionDenied indicates a permission error
	ErrorTypePermissionDenied ErrorType = "permission_denied"
	// ErrorTypeUnknown indicates an unknown error
	ErrorTypeUnknown ErrorType = "unknown"
)

// ContainerError represents a detailed container operation error
type ContainerError struct {
	Type        ErrorType
	Operation   string
	ContainerID string
	Message     string
	Underlying  error
}

// Error implements the error interface
func (e *ContainerError) Error() string {
	parts := []string{e.Message}

	if e.ContainerID != "" {
		parts = append(parts, fmt.Sprintf("container=%s", e.ContainerID))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.Underlying != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Underlying))
	}

	return strings.Join(parts, ", ")
}

// Unwrap returns the underlying error
func (e *ContainerError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns true if the error might be resolved by retrying
func (e *ContainerError) IsRetryable() bool {
	return e.Type == ErrorTypeRuntimeUnavailable
}

// NewContainerError creates a new ContainerError
func NewContainerError(errType ErrorType, operation string, message string, underlying error) *ContainerError {
	return &ContainerError{
		Type:       errType,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
	}
}

// classify turns an engine error into a ContainerError.
func classify(operation, containerID string, err error) *ContainerError {
	var ce *ContainerError
	if stderrors.As(err, &ce) {
		return ce
	}

	errType := ErrorTypeUnknown
	switch {
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err),
		stderrors.Is(err, context.DeadlineExceeded):
		errType = ErrorTypeRuntimeUnavailable
	case errdefs.IsNotFound(err):
		errType = ErrorTypeContainerNotFound
		if operation == "pull" || operation == "create" {
			errType = ErrorTypeImageNotFound
		}
	case errdefs.IsConflict(err), errdefs.IsAlreadyExists(err):
		errType = ErrorTypeConflict
	case errdefs.IsInvalidArgument(err):
		errType = ErrorTypeConfigError
	case errdefs.IsPermissionDenied(err):
		errType = ErrorTypePermissionDenied
	}

	return &ContainerError{
		Type:        errType,
		Operation:   operation,
		ContainerID: containerID,
		Message:     fmt.Sprintf("docker %s failed", operation),
		Underlying:  err,
	}
}

// IsRetryable reports whether err is a transient runtime failure.
func IsRetryable(err error) bool {
	var ce *ContainerError
	if stderrors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return errors.HasCode(err, errors.ErrRuntimeUnavailable)
}

// IsNotFound reports whether err means the container does not exist.
func IsNotFound(err error) bool {
	var ce *ContainerError
	if stderrors.As(err, &ce) {
		return ce.Type == ErrorTypeContainerNotFound
	}
	return errors.HasCode(err, errors.ErrContainerNotFound)
}

// toAppError maps a runtime failure onto the public taxonomy.
func toAppError(operation, target string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	switch {
	case IsRetryable(err):
		return errors.RuntimeUnavailable(operation, err)
	case IsNotFound(err):
		return errors.ContainerNotFound(target).WithCause(err)
	default:
		return errors.OperationFailed(operation, target, err)
	}
}
