package model

import (
	"encoding/json"
	"errors"
)

// ErrImmediateNotSerializable is returned when code attempts to marshal the
// synthetic Immediate event onto the wire. Producers must not emit it on the
// event queue.
var ErrImmediateNotSerializable = errors.New("model: the Immediate event is a runtime sentinel and must not be serialized")

// ImmediateKind is the reserved type tag for the synthetic Immediate event
// variant: "fire now, no wait." It must never be serialized onto the Event
// queue and is synthesized locally by the Active-Step worker.
const ImmediateKind = "Immediate"

// LeafEvent is a single application-defined event variant. Kind is the
// runtime type-tag used for matching: a step declares exactly one event
// Kind it consumes, and the event-dispatch worker matches by Kind equality,
// never by value.
type LeafEvent interface {
	Kind() string
}

// Immediate is the synthetic event variant signifying "fire now, no wait."
// It carries no data and is never present on the wire.
type Immediate struct{}

// Kind implements LeafEvent.
func (Immediate) Kind() string { return ImmediateKind }

// ProjectEvent is the project-scoped form of an event: a leaf event tagged
// with the workflow it belongs to. The synthetic Immediate variant sits at
// the project level with an empty Workflow tag since it is never addressed
// to one workflow's wire format.
type ProjectEvent struct {
	Workflow WorkflowName
	Leaf     LeafEvent
}

// Kind returns the leaf event's type tag.
func (pe ProjectEvent) Kind() string {
	if pe.Leaf == nil {
		return ""
	}
	return pe.Leaf.Kind()
}

// IsImmediate reports whether this project event is the synthetic Immediate
// sentinel.
func (pe ProjectEvent) IsImmediate() bool {
	return pe.Kind() == ImmediateKind
}

// WidenEvent lifts a leaf event to project scope for a given workflow.
func WidenEvent(wf WorkflowName, leaf LeafEvent) ProjectEvent {
	return ProjectEvent{Workflow: wf, Leaf: leaf}
}

// AsLeafEvent narrows a ProjectEvent to a concrete leaf event type. It is
// fallible: a mismatch between the armed step's declared event type and the
// event actually delivered surfaces here as ok == false.
func AsLeafEvent[T LeafEvent](pe ProjectEvent) (T, bool) {
	v, ok := pe.Leaf.(T)
	return v, ok
}

type projectEventWire struct {
	Workflow WorkflowName    `json:"workflow,omitempty"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON renders the ProjectEvent as {workflow, kind, data}. The
// Immediate sentinel must never reach the wire.
func (pe ProjectEvent) MarshalJSON() ([]byte, error) {
	if pe.Leaf == nil {
		return nil, errors.New("model: cannot marshal a ProjectEvent with no leaf event")
	}
	if pe.IsImmediate() {
		return nil, ErrImmediateNotSerializable
	}
	data, err := json.Marshal(pe.Leaf)
	if err != nil {
		return nil, err
	}
	return json.Marshal(projectEventWire{Workflow: pe.Workflow, Kind: pe.Leaf.Kind(), Data: data})
}

// UnmarshalJSON reconstructs a ProjectEvent via the leaf event type
// registry. A Kind of Immediate is rejected, matching the serialization
// contract MarshalJSON enforces.
func (pe *ProjectEvent) UnmarshalJSON(b []byte) error {
	var wire projectEventWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	if wire.Kind == ImmediateKind {
		return ErrImmediateNotSerializable
	}
	leaf, err := DecodeLeafEvent(wire.Kind, wire.Data)
	if err != nil {
		return err
	}
	pe.Workflow = wire.Workflow
	pe.Leaf = leaf
	return nil
}

// InstanceEvent is the form in which events enter the system from the
// control plane.
type InstanceEvent struct {
	InstanceId InstanceId   `json:"instance_id"`
	Event      ProjectEvent `json:"event"`
}
