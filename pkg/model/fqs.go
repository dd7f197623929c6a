package model

// WorkflowInstance is created once per ingestion and never mutated.
type WorkflowInstance struct {
	InstanceId   InstanceId   `json:"instance_id"`
	WorkflowName WorkflowName `json:"workflow_name"`
}

// FullyQualifiedStep (FQS) is the queue-transport envelope that flows
// through the next-step, active-step, completed-step and failed-step
// stages.
type FullyQualifiedStep struct {
	Instance       WorkflowInstance         `json:"instance"`
	StepId         StepId                   `json:"step_id"`
	Step           ProjectStepWithSettings  `json:"step"`
	Event          *ProjectEvent            `json:"event,omitempty"`
	RetryCount     uint32                   `json:"retry_count"`
	PreviousStepId *StepId                  `json:"previous_step_id,omitempty"`
	NextStep       *ProjectStepWithSettings `json:"next_step,omitempty"`
}

// NewEntrypointFQS constructs the initial FQS for a freshly ingested
// instance: fresh StepId, zero retry_count, no event, no previous/next step.
func NewEntrypointFQS(instance WorkflowInstance, entry ProjectStepWithSettings) FullyQualifiedStep {
	return FullyQualifiedStep{
		Instance:   instance,
		StepId:     NewStepId(),
		Step:       entry,
		RetryCount: 0,
	}
}

// Advance builds the FQS for the step following this one: fresh StepId,
// previous_step_id set to this step's id, retry_count reset to zero, no
// event, no next_step.
func (fqs FullyQualifiedStep) Advance(next ProjectStepWithSettings) FullyQualifiedStep {
	prev := fqs.StepId
	return FullyQualifiedStep{
		Instance:       fqs.Instance,
		StepId:         NewStepId(),
		Step:           next,
		RetryCount:     0,
		PreviousStepId: &prev,
	}
}

// WithEvent returns a copy of the FQS carrying the matched event, the form
// dispatched onto the active-step stage once an event has been joined to
// its waiting step.
func (fqs FullyQualifiedStep) WithEvent(event ProjectEvent) FullyQualifiedStep {
	out := fqs
	out.Event = &event
	return out
}

// Retry returns a copy of the FQS with retry_count incremented, re-emitted
// onto the active-step stage with the same StepId.
func (fqs FullyQualifiedStep) Retry() FullyQualifiedStep {
	out := fqs
	out.RetryCount++
	return out
}
