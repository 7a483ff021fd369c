package reconciler

import (
	"context"
	"fmt"
	"time"

	"appmanager/internal/container"
	"appmanager/internal/logger"
	"appmanager/internal/plan"
	"appmanager/internal/types"
)

// reconcile runs one pass. The caller holds the gate and ctx is no
// longer cancellable, so runtime calls are never cut off mid-flight.
func (r *Reconciler) reconcile(ctx context.Context, trigger string) (*types.ReconciliationRun, error) {
	version := r.store.TargetVersion()
	target := r.store.GetTarget()

	r.setState(types.StateApplying, "")
	run := r.newRun(ctx, trigger)

	observed, extras, err := r.observe(ctx)
	if err != nil {
		r.finishRun(ctx, run, types.StateError, err.Error())
		r.setState(types.StateError, err.Error())
		return run, err
	}

	for _, extra := range extras {
		r.removeExtra(ctx, run, extra)
	}

	p := plan.DiffHeld(observed, target, r.heldServices(observed))
	if !p.Empty() {
		logger.WithFields(logger.Fields{
			"run_id":    run.ID,
			"trigger":   trigger,
			"creates":   p.Count(types.OpCreate),
			"starts":    p.Count(types.OpStart),
			"removes":   p.Count(types.OpRemove),
			"conflicts": p.Count(types.OpConflict),
		}).Infof("Executing plan %s", p)
	}
	r.execute(ctx, run, p)

	// current reflects what the runtime reports, not what the plan assumed
	var passErr error
	after, _, err := r.observe(ctx)
	if err != nil {
		passErr = err
	} else if err := r.store.SetCurrent(ctx, after); err != nil {
		passErr = err
	}

	status := types.StateIdle
	runErr := ""
	switch {
	case passErr != nil:
		status, runErr = types.StateError, passErr.Error()
	case run.Failed() > 0:
		status, runErr = types.StateError, fmt.Sprintf("%d of %d steps failed", run.Failed(), len(run.Steps))
	case !plan.DiffHeld(after, target, r.heldServices(after)).Empty():
		status, runErr = types.StateError, "current state does not match target"
	}

	r.finishRun(ctx, run, status, runErr)
	r.setState(status, runErr)
	if status == types.StateIdle {
		r.mu.Lock()
		r.appliedVersion = version
		r.mu.Unlock()
	}

	if r.store.TargetVersion() != version {
		r.RequestApply(TriggerTargetChanged)
	}
	return run, passErr
}

// execute walks the plan in order. A failed step never stops the
// steps after it; only the CREATE paired with a failed REMOVE is skipped.
func (r *Reconciler) execute(ctx context.Context, run *types.ReconciliationRun, p *plan.Plan) {
	failedRemoves := make(map[types.ServiceKey]bool)

	for i := range p.Operations {
		op := &p.Operations[i]

		switch op.Kind {
		case types.OpConflict:
			r.recordStep(run, stepFor(op, types.OutcomeFailure, op.Err, 0))

		case types.OpRemove:
			start := time.Now()
			err := r.stopAndRemove(ctx, op.Service.ContainerID, r.opts.StopTimeout)
			outcome := types.OutcomeSuccess
			if err != nil {
				outcome = types.OutcomeFailure
				failedRemoves[op.Key()] = true
			}
			step := stepFor(op, outcome, err, time.Since(start))
			step.ContainerID = op.Service.ContainerID
			r.recordStep(run, step)

		case types.OpStart:
			start := time.Now()
			err := r.runtime.Start(ctx, op.Service.ContainerID)
			outcome := types.OutcomeSuccess
			if err != nil {
				outcome = types.OutcomeFailure
			}
			step := stepFor(op, outcome, err, time.Since(start))
			step.ContainerID = op.Service.ContainerID
			r.recordStep(run, step)

		case types.OpCreate:
			if op.Recreate && failedRemoves[op.Key()] {
				r.recordStep(run, stepFor(op, types.OutcomeSkipped,
					fmt.Errorf("previous container of %s could not be removed", op.Service.ServiceName), 0))
				continue
			}
			start := time.Now()
			id, err := r.createAndStart(ctx, op)
			outcome := types.OutcomeSuccess
			if err != nil {
				outcome = types.OutcomeFailure
			}
			step := stepFor(op, outcome, err, time.Since(start))
			step.ContainerID = id
			r.recordStep(run, step)
		}
	}
}

func stepFor(op *plan.Operation, outcome types.StepOutcome, err error, elapsed time.Duration) types.StepResult {
	step := types.StepResult{
		Kind:        op.Kind,
		AppID:       op.AppID,
		ServiceID:   op.Service.ServiceID,
		ServiceName: op.Service.ServiceName,
		Outcome:     outcome,
		DurationMS:  elapsed.Milliseconds(),
	}
	if err != nil {
		step.Error = err.Error()
	}
	return step
}

// stopAndRemove stops a container gracefully and removes it. A container
// that is already gone counts as removed.
func (r *Reconciler) stopAndRemove(ctx context.Context, containerID string, timeout time.Duration) error {
	if err := r.runtime.Stop(ctx, containerID, timeout); err != nil {
		if container.IsNotFound(err) {
			return nil
		}
		// removal is forced, so carry on
		logger.WithError(err).WithField("container_id", containerID).Warn("Graceful stop failed, removing anyway")
	}
	if err := r.runtime.Remove(ctx, containerID); err != nil && !container.IsNotFound(err) {
		return err
	}
	return nil
}

// createAndStart creates and starts a service's container. A container
// that was created but not started is removed again so the next pass
// retries cleanly. If that removal fails too, the next pass finds the
// container stopped and starts it.
func (r *Reconciler) createAndStart(ctx context.Context, op *plan.Operation) (string, error) {
	svc := op.Service.Clone()
	id, err := r.runtime.Create(ctx, &container.CreateConfig{
		AppID:   op.AppID,
		AppName: op.AppName,
		Service: &svc,
	})
	if err != nil {
		if id != "" {
			r.cleanup(ctx, id)
		}
		return id, err
	}

	if err := r.runtime.Start(ctx, id); err != nil {
		r.cleanup(ctx, id)
		return id, err
	}
	return id, nil
}

func (r *Reconciler) cleanup(ctx context.Context, id string) {
	if err := r.runtime.Remove(ctx, id); err != nil && !container.IsNotFound(err) {
		logger.WithError(err).WithField("container_id", id).Warn("Failed to clean up container that did not start")
	}
}

// removeExtra removes a duplicate or unreadable managed container
func (r *Reconciler) removeExtra(ctx context.Context, run *types.ReconciliationRun, c types.ContainerDescriptor) {
	start := time.Now()
	err := r.stopAndRemove(ctx, c.ID, r.opts.StopTimeout)

	step := types.StepResult{
		Kind:        types.OpRemove,
		AppID:       c.AppID,
		ServiceID:   c.ServiceID,
		ServiceName: c.Name,
		ContainerID: c.ID,
		Outcome:     types.OutcomeSuccess,
		DurationMS:  time.Since(start).Milliseconds(),
	}
	if c.Service != nil {
		step.ServiceName = c.Service.ServiceName
	}
	if err != nil {
		step.Outcome = types.OutcomeFailure
		step.Error = err.Error()
	}
	r.recordStep(run, step)
}
