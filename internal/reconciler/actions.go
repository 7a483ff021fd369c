package reconciler

import (
	"context"
	"slices"
	"strings"
	"time"

	"appmanager/internal/errors"
	"appmanager/internal/logger"
	"appmanager/internal/types"
)

// Direct actions act on already known containers without diffing. They
// hold the gate like a pass does and are recorded as runs.

// RestartApp restarts every service of an application
func (r *Reconciler) RestartApp(ctx context.Context, appID int, force bool) (*types.ReconciliationRun, error) {
	return r.act(ctx, "restart", appID, "", force, r.restart)
}

// RestartService stops and starts one service's container
func (r *Reconciler) RestartService(ctx context.Context, appID int, serviceName string, force bool) (*types.ReconciliationRun, error) {
	return r.act(ctx, "restart-service", appID, serviceName, force, r.restart)
}

// StopService stops one service's container without removing it. The
// container stays stopped until started or restarted again; passes do not
// start it. A change to the service's target replaces it as usual.
func (r *Reconciler) StopService(ctx context.Context, appID int, serviceName string, force bool) (*types.ReconciliationRun, error) {
	return r.act(ctx, "stop-service", appID, serviceName, force,
		func(ctx context.Context, svc *types.Service, timeout time.Duration) (types.OperationKind, error) {
			return types.OpStop, r.runtime.Stop(ctx, svc.ContainerID, timeout)
		})
}

// StartService starts one service's existing container
func (r *Reconciler) StartService(ctx context.Context, appID int, serviceName string, force bool) (*types.ReconciliationRun, error) {
	return r.act(ctx, "start-service", appID, serviceName, force,
		func(ctx context.Context, svc *types.Service, _ time.Duration) (types.OperationKind, error) {
			return types.OpStart, r.runtime.Start(ctx, svc.ContainerID)
		})
}

// PurgeApp removes every container of an application and deletes its
// named volumes, then queues a pass that recreates the services.
func (r *Reconciler) PurgeApp(ctx context.Context, appID int, force bool) (*types.ReconciliationRun, error) {
	return r.purge(ctx, "purge", appID, "", force)
}

// PurgeService does the same as PurgeApp for one service
func (r *Reconciler) PurgeService(ctx context.Context, appID int, serviceName string, force bool) (*types.ReconciliationRun, error) {
	return r.purge(ctx, "purge-service", appID, serviceName, force)
}

func (r *Reconciler) restart(ctx context.Context, svc *types.Service, timeout time.Duration) (types.OperationKind, error) {
	if err := r.runtime.Stop(ctx, svc.ContainerID, timeout); err != nil {
		return types.OpRestart, err
	}
	return types.OpRestart, r.runtime.Start(ctx, svc.ContainerID)
}

type serviceAction func(ctx context.Context, svc *types.Service, timeout time.Duration) (types.OperationKind, error)

// resolve finds the services an action applies to. The runtime is
// consulted directly so ids are never stale. An empty serviceName
// selects the whole application.
func (r *Reconciler) resolve(ctx context.Context, appID int, serviceName string) (*types.Application, []*types.Service, error) {
	observed, _, err := r.observe(ctx)
	if err != nil {
		return nil, nil, err
	}

	app, ok := observed.App(appID)
	if !ok {
		targetApp, inTarget := r.store.GetTarget().App(appID)
		if !inTarget {
			return nil, nil, errors.AppNotFound(appID)
		}
		// known but with no containers yet
		app = &types.Application{AppID: appID, AppName: targetApp.AppName}
		if serviceName != "" {
			if _, found := targetApp.ServiceByName(serviceName); !found {
				return nil, nil, errors.ServiceNotFound(appID, serviceName)
			}
			return nil, nil, errors.ServiceNotFound(appID, serviceName).WithContext("reason", "service has no container")
		}
		return app, nil, nil
	}

	if serviceName == "" {
		services := make([]*types.Service, len(app.Services))
		for i := range app.Services {
			services[i] = &app.Services[i]
		}
		return app, services, nil
	}

	svc, found := app.ServiceByName(serviceName)
	if !found {
		return nil, nil, errors.ServiceNotFound(appID, serviceName)
	}
	return app, []*types.Service{svc}, nil
}

func (r *Reconciler) act(ctx context.Context, name string, appID int, serviceName string, force bool, fn serviceAction) (*types.ReconciliationRun, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()
	ctx = context.WithoutCancel(ctx)

	app, services, err := r.resolve(ctx, appID, serviceName)
	if err != nil {
		return nil, err
	}

	timeout := r.stopTimeout(force)
	run := r.newRun(ctx, triggerActionPrefix+name)
	logger.WithFields(logger.Fields{
		"action":   name,
		"app_id":   appID,
		"app_name": app.AppName,
		"service":  serviceName,
		"force":    force,
	}).Info("Running service action")

	var firstErr error
	for _, svc := range services {
		start := time.Now()
		kind, err := fn(ctx, svc, timeout)
		step := types.StepResult{
			Kind:        kind,
			AppID:       appID,
			ServiceID:   svc.ServiceID,
			ServiceName: svc.ServiceName,
			ContainerID: svc.ContainerID,
			Outcome:     types.OutcomeSuccess,
			DurationMS:  time.Since(start).Milliseconds(),
		}
		if err != nil {
			step.Outcome = types.OutcomeFailure
			step.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			switch kind {
			case types.OpStop:
				r.holdService(svc.Key(appID), svc.ContainerID)
			case types.OpStart, types.OpRestart:
				r.unholdService(svc.Key(appID))
			}
		}
		r.recordStep(run, step)
	}

	r.refreshCurrent(ctx)
	r.finishAction(ctx, run, firstErr)
	return run, firstErr
}

func (r *Reconciler) purge(ctx context.Context, name string, appID int, serviceName string, force bool) (*types.ReconciliationRun, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()
	ctx = context.WithoutCancel(ctx)

	app, services, err := r.resolve(ctx, appID, serviceName)
	if err != nil {
		return nil, err
	}
	volumes := r.namedVolumes(appID, serviceName, services)

	logger.WithFields(logger.Fields{
		"app_id":   appID,
		"app_name": app.AppName,
		"service":  serviceName,
		"volumes":  volumes,
	}).Warn("Purging application data, containers and named volumes will be deleted")

	timeout := r.stopTimeout(force)
	run := r.newRun(ctx, triggerActionPrefix+name)

	var firstErr error
	for _, svc := range services {
		start := time.Now()
		err := r.stopAndRemove(ctx, svc.ContainerID, timeout)
		step := types.StepResult{
			Kind:        types.OpPurge,
			AppID:       appID,
			ServiceID:   svc.ServiceID,
			ServiceName: svc.ServiceName,
			ContainerID: svc.ContainerID,
			Outcome:     types.OutcomeSuccess,
			DurationMS:  time.Since(start).Milliseconds(),
		}
		if err != nil {
			step.Outcome = types.OutcomeFailure
			step.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		}
		r.recordStep(run, step)
	}

	if len(volumes) > 0 {
		step := types.StepResult{
			Kind:        types.OpPurge,
			AppID:       appID,
			ServiceName: "volumes:" + strings.Join(volumes, ","),
			Outcome:     types.OutcomeSuccess,
		}
		start := time.Now()
		if firstErr != nil {
			// volumes of a container that is still there are in use
			step.Outcome = types.OutcomeSkipped
		} else if err := r.runtime.RemoveVolumes(ctx, appID, volumes); err != nil {
			step.Outcome = types.OutcomeFailure
			step.Error = err.Error()
			firstErr = err
		}
		step.DurationMS = time.Since(start).Milliseconds()
		r.recordStep(run, step)
	}

	r.refreshCurrent(ctx)
	r.finishAction(ctx, run, firstErr)
	r.RequestApply(TriggerPurge)
	return run, firstErr
}

// namedVolumes collects the named volume sources used by the selected
// services, in the runtime's view and in the target.
func (r *Reconciler) namedVolumes(appID int, serviceName string, services []*types.Service) []string {
	var names []string
	add := func(svc *types.Service) {
		for _, v := range svc.Config.Volumes {
			if v.IsNamed() && !slices.Contains(names, v.Source) {
				names = append(names, v.Source)
			}
		}
	}
	for _, svc := range services {
		add(svc)
	}
	if app, ok := r.store.GetTarget().App(appID); ok {
		for i := range app.Services {
			if serviceName == "" || app.Services[i].ServiceName == serviceName {
				add(&app.Services[i])
			}
		}
	}
	slices.Sort(names)
	return names
}

func (r *Reconciler) stopTimeout(force bool) time.Duration {
	if force {
		return 0
	}
	return r.opts.StopTimeout
}

// refreshCurrent rewrites current from the runtime after an action
func (r *Reconciler) refreshCurrent(ctx context.Context) {
	observed, _, err := r.observe(ctx)
	if err == nil {
		err = r.store.SetCurrent(ctx, observed)
	}
	if err != nil {
		logger.WithError(err).Warn("Failed to refresh current state after action")
	}
}

func (r *Reconciler) finishAction(ctx context.Context, run *types.ReconciliationRun, err error) {
	if err != nil {
		r.finishRun(ctx, run, types.StateError, err.Error())
		return
	}
	r.finishRun(ctx, run, types.StateIdle, "")
}

// SoleService returns the name of an application's only service. The v1
// API addresses services by application and needs it.
func (r *Reconciler) SoleService(appID int) (string, error) {
	app, ok := r.store.GetCurrent().App(appID)
	if !ok {
		app, ok = r.store.GetTarget().App(appID)
	}
	if !ok {
		return "", errors.AppNotFound(appID)
	}
	if len(app.Services) != 1 {
		return "", errors.ValidationFailed("appId", app.AppName,
			"application has more than one service, use the v2 API").WithContext("services", len(app.Services))
	}
	return app.Services[0].ServiceName, nil
}
