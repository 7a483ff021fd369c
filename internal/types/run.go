package types

import "time"

// ReconcilerState is the state of the control loop and of a single run.
type ReconcilerState string

const (
	StateIdle     ReconcilerState = "idle"
	StateApplying ReconcilerState = "applying"
	StateError    ReconcilerState = "error"
)

// OperationKind names a plan step or a direct action.
type OperationKind string

const (
	OpCreate   OperationKind = "CREATE"
	OpRemove   OperationKind = "REMOVE"
	OpConflict OperationKind = "CONFLICT"

	OpStart   OperationKind = "START"
	OpStop    OperationKind = "STOP"
	OpRestart OperationKind = "RESTART"
	OpPurge   OperationKind = "PURGE"
)

// StepOutcome is the recorded result of one step.
type StepOutcome string

const (
	OutcomeSuccess StepOutcome = "success"
	OutcomeFailure StepOutcome = "failure"
	OutcomeSkipped StepOutcome = "skipped"
)

// ReconciliationRun records one convergence pass or direct action.
type ReconciliationRun struct {
	ID         string          `json:"id" db:"id"`
	Trigger    string          `json:"trigger" db:"trigger_reason"`
	Status     ReconcilerState `json:"status" db:"status"`
	StartedAt  time.Time       `json:"startedAt" db:"started_at"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
	Error      string          `json:"error,omitempty" db:"error"`
	Steps      []StepResult    `json:"steps" db:"-"`
}

// Failed counts steps that did not succeed.
func (r *ReconciliationRun) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailure {
			n++
		}
	}
	return n
}

// StepResult is the outcome of one plan step.
type StepResult struct {
	Seq         int           `json:"seq" db:"seq"`
	Kind        OperationKind `json:"kind" db:"kind"`
	AppID       int           `json:"appId" db:"app_id"`
	ServiceID   int           `json:"serviceId" db:"service_id"`
	ServiceName string        `json:"serviceName" db:"service_name"`
	ContainerID string        `json:"containerId,omitempty" db:"container_id"`
	Outcome     StepOutcome   `json:"outcome" db:"outcome"`
	Error       string        `json:"error,omitempty" db:"error"`
	DurationMS  int64         `json:"durationMs" db:"duration_ms"`
}
