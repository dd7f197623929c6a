package model

import (
	"context"
	"encoding/json"
)

// StepSettings is the per-step policy attached at scheduling time. The delay
// field is reserved for future backoff/delay support; the engine carries it
// through transport and persistence but never reads it.
type StepSettings struct {
	MaxRetries   uint32 `json:"max_retries"`
	DelaySeconds *int   `json:"delay_seconds,omitempty"`
}

// LeafStep is a single application-defined unit of work. Kind is its
// runtime type tag; EventKind names the single event type it consumes
// (ImmediateKind for a step that fires without waiting).
type LeafStep interface {
	Kind() string
	EventKind() string
	// Run executes the step body against the triggering event (or an
	// Immediate sentinel) and optionally requests a successor step. The
	// engine treats this as opaque and at-least-once: step bodies must
	// tolerate re-execution with the same StepId.
	Run(ctx context.Context, wf Workflow, event LeafEvent) (*LeafStepWithSettings, error)
}

// LeafStepWithSettings pairs a leaf step with its scheduling policy, the
// form in which a workflow's entrypoint and a step body's requested
// successor are expressed.
type LeafStepWithSettings struct {
	Step     LeafStep
	Settings StepSettings
}

// ProjectStep is the project-scoped form of a step: a leaf step tagged with
// the workflow it belongs to, letting Project.WorkflowForStep resolve
// ownership without inspecting the leaf's concrete type.
type ProjectStep struct {
	Workflow WorkflowName
	Leaf     LeafStep
}

// Kind returns the leaf step's type tag.
func (ps ProjectStep) Kind() string {
	if ps.Leaf == nil {
		return ""
	}
	return ps.Leaf.Kind()
}

// DeclaresImmediate reports whether this step fires without waiting for an
// event, tested by type-identity equality on the declared event Kind rather
// than by running the step body.
func (ps ProjectStep) DeclaresImmediate() bool {
	return ps.Leaf != nil && ps.Leaf.EventKind() == ImmediateKind
}

// ProjectStepWithSettings is the project-scoped step plus its settings, the
// unit carried inside a FullyQualifiedStep.
type ProjectStepWithSettings struct {
	Step     ProjectStep
	Settings StepSettings
}

// WidenStep lifts a leaf step (with settings) to project scope for a given
// workflow.
func WidenStep(wf WorkflowName, lws LeafStepWithSettings) ProjectStepWithSettings {
	return ProjectStepWithSettings{
		Step:     ProjectStep{Workflow: wf, Leaf: lws.Step},
		Settings: lws.Settings,
	}
}

// AsLeafStep narrows a ProjectStep to a concrete leaf step type.
func AsLeafStep[T LeafStep](ps ProjectStep) (T, bool) {
	v, ok := ps.Leaf.(T)
	return v, ok
}

type projectStepWire struct {
	Workflow WorkflowName    `json:"workflow"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data"`
}

// MarshalJSON renders the ProjectStep as {workflow, kind, data}.
func (ps ProjectStep) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(ps.Leaf)
	if err != nil {
		return nil, err
	}
	return json.Marshal(projectStepWire{Workflow: ps.Workflow, Kind: ps.Kind(), Data: data})
}

// UnmarshalJSON reconstructs a ProjectStep via the leaf step type registry.
func (ps *ProjectStep) UnmarshalJSON(b []byte) error {
	var wire projectStepWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	leaf, err := DecodeLeafStep(wire.Kind, wire.Data)
	if err != nil {
		return err
	}
	ps.Workflow = wire.Workflow
	ps.Leaf = leaf
	return nil
}
