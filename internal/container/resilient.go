package container

import (
	"context"
	"time"

	"appmanager/internal/constants"
	"appmanager/internal/logger"
	"appmanager/internal/types"
)

// RetryPolicy bounds how runtime calls are retried
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// DefaultRetryPolicy returns the built-in retry settings
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    constants.DefaultMaxAttempts,
		InitialBackoff: constants.DefaultInitialBackoff,
		MaxBackoff:     constants.DefaultMaxBackoff,
		CallTimeout:    constants.DefaultCallTimeout,
	}
}

// Backoff returns the delay before retry number attempt (1-based),
// doubling from InitialBackoff and capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// ResilientRuntime wraps a ContainerRuntime with per-call timeouts and
// bounded retries of transient failures. Errors leaving it are *errors.AppError
// values coded RUNTIME_UNAVAILABLE, OPERATION_FAILED or CONTAINER_NOT_FOUND.
type ResilientRuntime struct {
	inner  ContainerRuntime
	policy RetryPolicy
}

// NewResilientRuntime wraps inner with policy
func NewResilientRuntime(inner ContainerRuntime, policy RetryPolicy) *ResilientRuntime {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = constants.DefaultCallTimeout
	}
	return &ResilientRuntime{inner: inner, policy: policy}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do runs fn until it succeeds, fails permanently or attempts run out.
// Detached calls keep running when ctx is cancelled; only the per-call
// timeout bounds them.
func (r *ResilientRuntime) do(ctx context.Context, op, target string, detached bool, extra time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		parent := ctx
		if detached {
			parent = context.WithoutCancel(ctx)
		}
		callCtx, cancel := context.WithTimeout(parent, r.policy.CallTimeout+extra)
		lastErr = fn(callCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == r.policy.MaxAttempts || ctx.Err() != nil {
			break
		}

		backoff := r.policy.Backoff(attempt)
		logger.WithFields(logger.Fields{
			"operation": op,
			"target":    target,
			"attempt":   attempt,
			"backoff":   backoff.String(),
		}).WithError(lastErr).Warn("Runtime unavailable, retrying")

		if err := sleepContext(ctx, backoff); err != nil {
			break
		}
	}

	LogContainerError(lastErr, op)
	return toAppError(op, target, lastErr)
}

// List returns every managed container
func (r *ResilientRuntime) List(ctx context.Context) ([]types.ContainerDescriptor, error) {
	var out []types.ContainerDescriptor
	err := r.do(ctx, "list", "", false, 0, func(ctx context.Context) error {
		var err error
		out, err = r.inner.List(ctx)
		return err
	})
	return out, err
}

// Create creates the container for a service. The call may pull the
// image, so it gets DefaultPullTimeout on top of the call timeout. It is
// not interrupted by ctx. When the engine created the container but a
// later setup step failed, the id is returned with the error and the call
// is not retried, since a retry would collide on the container name.
func (r *ResilientRuntime) Create(ctx context.Context, config *CreateConfig) (string, error) {
	var id string
	target := ContainerName(config.AppID, config.Service)
	err := r.do(ctx, "create", target, true, constants.DefaultPullTimeout, func(ctx context.Context) error {
		created, err := r.inner.Create(ctx, config)
		id = created
		if err != nil && created != "" {
			return NewContainerError(ErrorTypeUnknown, "create", "container created but not set up", err)
		}
		return err
	})
	return id, err
}

// Start starts a container by ID. The call is not interrupted by ctx.
func (r *ResilientRuntime) Start(ctx context.Context, containerID string) error {
	return r.do(ctx, "start", containerID, true, 0, func(ctx context.Context) error {
		return r.inner.Start(ctx, containerID)
	})
}

// Stop stops a container. The call is not interrupted by ctx.
func (r *ResilientRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	return r.do(ctx, "stop", containerID, true, timeout, func(ctx context.Context) error {
		return r.inner.Stop(ctx, containerID, timeout)
	})
}

// Remove removes a container. The call is not interrupted by ctx.
func (r *ResilientRuntime) Remove(ctx context.Context, containerID string) error {
	return r.do(ctx, "remove", containerID, true, 0, func(ctx context.Context) error {
		return r.inner.Remove(ctx, containerID)
	})
}

// Inspect returns the current view of one container
func (r *ResilientRuntime) Inspect(ctx context.Context, containerID string) (*types.ContainerDescriptor, error) {
	var out *types.ContainerDescriptor
	err := r.do(ctx, "inspect", containerID, false, 0, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Inspect(ctx, containerID)
		return err
	})
	return out, err
}

// RemoveVolumes deletes named volumes. The call is not interrupted by ctx.
func (r *ResilientRuntime) RemoveVolumes(ctx context.Context, appID int, names []string) error {
	return r.do(ctx, "volume-remove", VolumeName(appID, "*"), true, 0, func(ctx context.Context) error {
		return r.inner.RemoveVolumes(ctx, appID, names)
	})
}

// Logs reads a container's output tail
func (r *ResilientRuntime) Logs(ctx context.Context, containerID string, tail int) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "logs", containerID, false, 0, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Logs(ctx, containerID, tail)
		return err
	})
	return out, err
}

// Ping checks that the engine answers. It is not retried.
func (r *ResilientRuntime) Ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
	defer cancel()
	if err := r.inner.Ping(callCtx); err != nil {
		return toAppError("ping", "", err)
	}
	return nil
}
