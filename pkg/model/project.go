package model

import "fmt"

// Workflow declares a name, its step/event vocabulary (enforced indirectly
// through the registry, not the type system), and an entrypoint.
type Workflow interface {
	Name() WorkflowName
	// Entrypoint returns the workflow's first step, in workflow scope. The
	// Project widens it to project scope on lookup.
	Entrypoint() LeafStepWithSettings
}

// Project is the static composition of one or more workflows served by the
// same deployment.
type Project interface {
	// WorkflowByName resolves a workflow by its interned name.
	WorkflowByName(name WorkflowName) (Workflow, bool)

	// WorkflowForStep is a pure total function: every well-formed step
	// belongs to exactly one workflow. It is implemented by looking up
	// step.Workflow, which every ProjectStep carries.
	WorkflowForStep(step ProjectStep) (Workflow, error)

	// Entrypoint resolves a workflow's entrypoint step, widened to project
	// scope. An unknown WorkflowName is a panic-class programmer error:
	// callers at a trust boundary (e.g. the control plane) should validate
	// the name before calling, and workers that call this should isolate
	// the panic per message rather than let it crash the process.
	Entrypoint(name WorkflowName) ProjectStepWithSettings
}

// staticProject is the reference Project implementation: an in-memory
// registry of workflows, sufficient for an embedded deployment and for the
// DSL-free projects this engine serves.
type staticProject struct {
	workflows map[WorkflowName]Workflow
}

// NewProject builds a Project from a fixed set of workflows. Workflow names
// must be unique; a duplicate name panics at construction time since it
// indicates a project wiring bug, not a runtime condition.
func NewProject(workflows ...Workflow) Project {
	p := &staticProject{workflows: make(map[WorkflowName]Workflow, len(workflows))}
	for _, wf := range workflows {
		if _, exists := p.workflows[wf.Name()]; exists {
			panic(fmt.Sprintf("model: duplicate workflow name %q", wf.Name()))
		}
		p.workflows[wf.Name()] = wf
	}
	return p
}

func (p *staticProject) WorkflowByName(name WorkflowName) (Workflow, bool) {
	wf, ok := p.workflows[name]
	return wf, ok
}

func (p *staticProject) WorkflowForStep(step ProjectStep) (Workflow, error) {
	wf, ok := p.workflows[step.Workflow]
	if !ok {
		return nil, fmt.Errorf("model: no workflow registered for step workflow tag %q", step.Workflow)
	}
	return wf, nil
}

func (p *staticProject) Entrypoint(name WorkflowName) ProjectStepWithSettings {
	wf, ok := p.workflows[name]
	if !ok {
		panic(fmt.Sprintf("model: unknown workflow name %q", name))
	}
	return WidenStep(name, wf.Entrypoint())
}
