// Package reconciler converges the containers running on the device
// towards the target state.
//
// Every pass, poll and direct service action goes through a single
// gate, so at most one sequence of runtime calls is in flight and only
// the holder of the gate writes the current snapshot. Apply requests
// never wait for the gate: they leave a token in a one-slot queue and
// any number of requests made while a pass runs collapse into a single
// follow-up pass.
package reconciler

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"appmanager/internal/constants"
	"appmanager/internal/container"
	"appmanager/internal/errors"
	"appmanager/internal/logger"
	"appmanager/internal/plan"
	"appmanager/internal/store"
	"appmanager/internal/types"
)

// Trigger reasons recorded on runs.
const (
	TriggerApply         = "apply"
	TriggerPoll          = "poll"
	TriggerStartup       = "startup"
	TriggerTargetChanged = "target-changed"
	TriggerPurge         = "purge"
	triggerActionPrefix  = "action:"
)

// RunRecorder persists the run log
type RunRecorder interface {
	Start(ctx context.Context, run *types.ReconciliationRun) error
	Finish(ctx context.Context, run *types.ReconciliationRun) error
	Prune(ctx context.Context, keep int) (int64, error)
}

// Options tune the control loop
type Options struct {
	PollInterval time.Duration
	StopTimeout  time.Duration
	// RunHistory is how many runs the recorder keeps
	RunHistory int
	Recorder   RunRecorder
	Events     *Broadcaster
}

// DefaultOptions returns the built-in settings, without a recorder
func DefaultOptions() Options {
	return Options{
		PollInterval: constants.DefaultPollInterval,
		StopTimeout:  constants.DefaultStopTimeout,
		RunHistory:   constants.DefaultRunHistory,
	}
}

// Status is a point-in-time view of the reconciler.
type Status struct {
	State          types.ReconcilerState `json:"state"`
	LastRunID      string                `json:"lastRunId,omitempty"`
	LastTrigger    string                `json:"lastTrigger,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
	LastTransition time.Time             `json:"lastTransition"`
	Pending        bool                  `json:"pending"`
	TargetVersion  int64                 `json:"targetVersion"`
	AppliedVersion int64                 `json:"appliedVersion"`
}

// Reconciler owns the convergence loop.
type Reconciler struct {
	store   *store.Store
	runtime container.ContainerRuntime
	opts    Options
	events  *Broadcaster

	gate    chan struct{}
	trigger chan string

	mu             sync.RWMutex
	state          types.ReconcilerState
	lastRunID      string
	lastTrigger    string
	lastError      string
	lastTransition time.Time
	appliedVersion int64

	// held maps services stopped through StopService to the container
	// that was stopped. Passes leave those containers stopped.
	held map[types.ServiceKey]string
}

// New creates a reconciler over st and rt
func New(st *store.Store, rt container.ContainerRuntime, opts Options) *Reconciler {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.StopTimeout < 0 {
		opts.StopTimeout = defaults.StopTimeout
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}

	return &Reconciler{
		store:          st,
		runtime:        rt,
		opts:           opts,
		events:         opts.Events,
		gate:           make(chan struct{}, 1),
		trigger:        make(chan string, 1),
		state:          types.StateIdle,
		lastTransition: time.Now().UTC(),
		held:           make(map[types.ServiceKey]string),
	}
}

// Events returns the broadcaster runs and transitions are published on
func (r *Reconciler) Events() *Broadcaster {
	return r.events
}

// Status returns the current state of the loop
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		State:          r.state,
		LastRunID:      r.lastRunID,
		LastTrigger:    r.lastTrigger,
		LastError:      r.lastError,
		LastTransition: r.lastTransition,
		Pending:        len(r.trigger) > 0,
		TargetVersion:  r.store.TargetVersion(),
		AppliedVersion: r.appliedVersion,
	}
}

// State returns the state of the loop
func (r *Reconciler) State() types.ReconcilerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reconciler) setState(state types.ReconcilerState, lastErr string) {
	r.mu.Lock()
	changed := r.state != state
	r.state = state
	if state != types.StateApplying {
		r.lastError = lastErr
	}
	if changed {
		r.lastTransition = time.Now().UTC()
	}
	r.mu.Unlock()

	if changed {
		logger.WithField("state", state).Debug("Reconciler state changed")
		r.events.Publish(Event{Type: EventStatus, State: state})
	}
}

// RequestApply queues a pass. It never blocks: when a pass is already
// queued the request is folded into it.
func (r *Reconciler) RequestApply(reason string) {
	select {
	case r.trigger <- reason:
		logger.WithField("trigger", reason).Debug("Reconciliation queued")
	default:
		logger.WithField("trigger", reason).WithError(errors.LockBusy()).Debug("Reconciliation already queued, coalescing")
	}
}

// Pending reports whether a pass is queued
func (r *Reconciler) Pending() bool {
	return len(r.trigger) > 0
}

func (r *Reconciler) acquire(ctx context.Context) error {
	select {
	case r.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCancelled, "Waiting for reconciliation gate cancelled", ctx.Err())
	}
}

func (r *Reconciler) release() {
	<-r.gate
}

// Run drives the loop until ctx is done: one pass at startup, one per
// queued request, and a poll of the runtime every PollInterval.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	logger.WithField("poll_interval", r.opts.PollInterval.String()).Info("Reconciler started")
	r.RequestApply(TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciler stopped")
			return nil
		case reason := <-r.trigger:
			if _, err := r.Reconcile(ctx, reason); err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("trigger", reason).Error("Reconciliation pass failed")
			}
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("Runtime poll failed")
			}
		}
	}
}

// Poll refreshes current from the runtime and starts a pass when it no
// longer matches target.
func (r *Reconciler) Poll(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	observed, _, err := r.observe(ctx)
	if err == nil {
		err = r.store.SetCurrent(ctx, observed)
	}
	r.release()
	if err != nil {
		return err
	}

	if !plan.DiffHeld(observed, r.store.GetTarget(), r.heldServices(observed)).Empty() {
		logger.Info("Drift detected, reconciling")
		_, err = r.Reconcile(ctx, TriggerPoll)
		return err
	}
	return nil
}

// Reconcile runs one pass synchronously and returns its record. Runtime
// failures of individual steps are recorded on the run, not returned.
// Cancelling ctx only abandons the wait for the gate: once started, the
// pass runs to the end.
func (r *Reconciler) Reconcile(ctx context.Context, trigger string) (*types.ReconciliationRun, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()
	ctx = context.WithoutCancel(ctx)

	// this pass reads the latest target, so a queued request is satisfied
	select {
	case <-r.trigger:
	default:
	}

	return r.reconcile(ctx, trigger)
}

// observe lists managed containers and rebuilds current from them
func (r *Reconciler) observe(ctx context.Context) (*types.StateSnapshot, []types.ContainerDescriptor, error) {
	containers, err := r.runtime.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	snap, extras := types.SnapshotFromContainers(containers)
	return snap, extras, nil
}

func (r *Reconciler) holdService(key types.ServiceKey, containerID string) {
	r.mu.Lock()
	r.held[key] = containerID
	r.mu.Unlock()
}

func (r *Reconciler) unholdService(key types.ServiceKey) {
	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()
}

// heldServices returns the held services whose stopped container is
// still the one observed. Holds on containers that are gone are dropped.
func (r *Reconciler) heldServices(observed *types.StateSnapshot) plan.Held {
	services := observed.Services()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(plan.Held, len(r.held))
	for key, id := range r.held {
		if svc, ok := services[key]; ok && svc.ContainerID == id {
			out[key] = true
			continue
		}
		delete(r.held, key)
	}
	return out
}

func (r *Reconciler) newRun(ctx context.Context, trigger string) *types.ReconciliationRun {
	run := &types.ReconciliationRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    types.StateApplying,
		StartedAt: time.Now().UTC(),
		Steps:     []types.StepResult{},
	}

	r.mu.Lock()
	r.lastRunID = run.ID
	r.lastTrigger = trigger
	r.mu.Unlock()

	if r.opts.Recorder != nil {
		if err := r.opts.Recorder.Start(ctx, run); err != nil {
			logger.WithError(err).WithField("run_id", run.ID).Warn("Failed to record run start")
		}
	}
	r.events.Publish(Event{Type: EventRunStarted, RunID: run.ID, State: types.StateApplying})
	return run
}

func (r *Reconciler) finishRun(ctx context.Context, run *types.ReconciliationRun, status types.ReconcilerState, runErr string) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = status
	run.Error = truncate(runErr)

	// the caller may already be gone; the log entry is still written
	ctx = context.WithoutCancel(ctx)
	if r.opts.Recorder != nil {
		if err := r.opts.Recorder.Finish(ctx, run); err != nil {
			logger.WithError(err).WithField("run_id", run.ID).Warn("Failed to record run result")
		}
		if r.opts.RunHistory > 0 {
			if _, err := r.opts.Recorder.Prune(ctx, r.opts.RunHistory); err != nil {
				logger.WithError(err).Warn("Failed to prune run history")
			}
		}
	}

	fields := logger.Fields{
		"run_id":   run.ID,
		"trigger":  run.Trigger,
		"status":   status,
		"steps":    len(run.Steps),
		"failed":   run.Failed(),
		"duration": finished.Sub(run.StartedAt).String(),
	}
	if status == types.StateError {
		logger.WithFields(fields).WithField("error", run.Error).Warn("Reconciliation finished with errors")
	} else {
		logger.WithFields(fields).Info("Reconciliation finished")
	}

	snapshot := *run
	snapshot.Steps = append([]types.StepResult(nil), run.Steps...)
	r.events.Publish(Event{Type: EventRunFinished, RunID: run.ID, State: status, Run: &snapshot})
}

func (r *Reconciler) recordStep(run *types.ReconciliationRun, step types.StepResult) {
	step.Seq = len(run.Steps) + 1
	step.Error = truncate(step.Error)
	run.Steps = append(run.Steps, step)

	entry := logger.WithFields(logger.Fields{
		"run_id":     run.ID,
		"kind":       step.Kind,
		"app_id":     step.AppID,
		"service":    step.ServiceName,
		"service_id": step.ServiceID,
		"outcome":    step.Outcome,
	})
	if step.Outcome == types.OutcomeFailure {
		entry.WithField("error", step.Error).Warn("Step failed")
	} else {
		entry.Debug("Step finished")
	}

	recorded := step
	r.events.Publish(Event{Type: EventRunStep, RunID: run.ID, Step: &recorded})
}

// truncate caps msg at MaxErrorMessageLength bytes without splitting a rune
func truncate(msg string) string {
	if len(msg) <= constants.MaxErrorMessageLength {
		return msg
	}
	cut := constants.MaxErrorMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
