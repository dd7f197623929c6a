// Package script is a convenience building block for application-authored
// leaf steps: it runs a small ECMAScript snippet against the triggering
// event's data and JSON-decodes the result into the step's requested
// successor. It is not part of the engine's execution contract — a step
// body is always free to be plain Go — it just saves projects that want a
// scripting surface from writing their own goja plumbing.
package script

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/arcflow/engine/pkg/model"
)

// Step wraps a JavaScript snippet as a LeafStep. The snippet sees a global
// `event` object (the JSON-decoded triggering event, or null for
// Immediate). The snippet runs as a function body and must `return` either
// `null` or an object `{kind: "...", data: {...}}` describing the next leaf
// step's wire form, decoded via the same type registry JSON transport uses;
// returning nothing means no successor.
type Step struct {
	KindName      string
	EventKindName string
	Source        string
	MaxRetries    uint32
	DelaySeconds  *int
}

// Kind implements model.LeafStep.
func (s Step) Kind() string { return s.KindName }

// EventKind implements model.LeafStep.
func (s Step) EventKind() string { return s.EventKindName }

// Run evaluates the script against event and decodes the optional result
// into a LeafStepWithSettings via the leaf step type registry.
func (s Step) Run(ctx context.Context, wf model.Workflow, event model.LeafEvent) (*model.LeafStepWithSettings, error) {
	vm := goja.New()

	eventData, err := marshalEvent(event)
	if err != nil {
		return nil, fmt.Errorf("script step %s: marshal event: %w", s.KindName, err)
	}
	if err := vm.Set("event", eventData); err != nil {
		return nil, fmt.Errorf("script step %s: bind event: %w", s.KindName, err)
	}

	type resultChan struct {
		value goja.Value
		err   error
	}
	done := make(chan resultChan, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- resultChan{err: fmt.Errorf("panic evaluating script: %v", r)}
			}
		}()
		v, err := vm.RunString(fmt.Sprintf("(function(){\n%s\n})()", s.Source))
		done <- resultChan{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		// Interrupt stops vm.RunString from the outside so the goroutine
		// above actually exits instead of running to completion unobserved.
		vm.Interrupt(ctx.Err())
		<-done
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("script step %s: %w", s.KindName, r.err)
		}
		if r.value == nil || goja.IsUndefined(r.value) || goja.IsNull(r.value) {
			return nil, nil
		}
		return decodeNextStep(r.value)
	}
}

func marshalEvent(event model.LeafEvent) (interface{}, error) {
	if event == nil {
		return nil, nil
	}
	if _, ok := event.(model.Immediate); ok {
		return nil, nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type nextStepWire struct {
	Kind       string          `json:"kind"`
	Data       json.RawMessage `json:"data"`
	MaxRetries uint32          `json:"max_retries"`
}

func decodeNextStep(v goja.Value) (*model.LeafStepWithSettings, error) {
	exported, err := json.Marshal(v.Export())
	if err != nil {
		return nil, fmt.Errorf("marshal script result: %w", err)
	}
	var wire nextStepWire
	if err := json.Unmarshal(exported, &wire); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	leaf, err := model.DecodeLeafStep(wire.Kind, wire.Data)
	if err != nil {
		return nil, fmt.Errorf("decode next step kind %q: %w", wire.Kind, err)
	}
	return &model.LeafStepWithSettings{
		Step:     leaf,
		Settings: model.StepSettings{MaxRetries: wire.MaxRetries},
	}, nil
}
