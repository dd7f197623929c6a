package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// InstanceId uniquely identifies one running execution of a workflow. It is
// generated once at ingestion and never changes for the life of the instance.
type InstanceId uuid.UUID

// NewInstanceId allocates a fresh InstanceId.
func NewInstanceId() InstanceId {
	return InstanceId(uuid.New())
}

func (id InstanceId) String() string {
	return uuid.UUID(id).String()
}

// ParseInstanceId parses a textual UUID into an InstanceId.
func ParseInstanceId(s string) (InstanceId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return InstanceId{}, err
	}
	return InstanceId(u), nil
}

// MarshalJSON renders the InstanceId as its canonical UUID string form.
func (id InstanceId) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id).String())
}

// UnmarshalJSON parses the InstanceId from its canonical UUID string form.
func (id *InstanceId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = InstanceId(u)
	return nil
}

// StepId identifies one concrete occurrence of a scheduled step. Every retry
// of the same logical step shares a StepId; advancing to the next step
// allocates a fresh one.
type StepId uuid.UUID

// NewStepId allocates a fresh StepId.
func NewStepId() StepId {
	return StepId(uuid.New())
}

func (id StepId) String() string {
	return uuid.UUID(id).String()
}

// ParseStepId parses a textual UUID into a StepId.
func ParseStepId(s string) (StepId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return StepId{}, err
	}
	return StepId(u), nil
}

// MarshalJSON renders the StepId as its canonical UUID string form.
func (id StepId) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id).String())
}

// UnmarshalJSON parses the StepId from its canonical UUID string form.
func (id *StepId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = StepId(u)
	return nil
}

// WorkflowName is an interned name, unique within a project.
type WorkflowName string
