// Package persistence records every instance and step transition the engine
// observes into a relational store, so a crashed worker can be replaced
// without losing history.
package persistence

import (
	"context"

	"github.com/arcflow/engine/pkg/model"
)

// Manager is the persistence contract every worker writes through. Callers
// can rely on a step's recorded status only moving forward through its
// lifecycle, never backward; constraint violations on insert mean the same
// row arrived twice and should be treated as a harmless replay, not a
// failure.
type Manager interface {
	// InsertInstance records a freshly ingested instance, resolving
	// workflowName to its catalog row. Ingesting the same instance id twice
	// is a no-op.
	InsertInstance(ctx context.Context, instance model.WorkflowInstance) error

	// InsertStep records a scheduled step occurrence with the given initial
	// status. previousStepID is nil for an entrypoint step. inserted reports
	// whether this call created the row: false means stepID was already
	// present (a redelivered or duplicated NextStep message), and the
	// caller must not re-dispatch it.
	InsertStep(ctx context.Context, instance model.InstanceId, stepID model.StepId, previousStepID *model.StepId, step model.ProjectStepWithSettings, status model.StepStatus) (inserted bool, err error)

	// SetStepStatus advances a step's persisted status. A call that would
	// move status backward is a no-op, not an error, since it indicates a
	// stale or duplicate delivery rather than a bug to surface.
	SetStepStatus(ctx context.Context, stepID model.StepId, status model.StepStatus) error

	// InsertStepOutput records a completed step's output: the serialized
	// next-step body it requested, or nil if the instance terminated here.
	InsertStepOutput(ctx context.Context, stepID model.StepId, output []byte) error

	// CompleteStep atomically marks stepID Completed and records its
	// output in a single transaction, so a crash between the two writes
	// can never leave a step Completed with no recorded output (or vice
	// versa). output is nil when the instance terminated at this step.
	CompleteStep(ctx context.Context, stepID model.StepId, output []byte) error
}
