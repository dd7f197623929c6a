package model_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/engine/pkg/model"
)

const testWorkflow model.WorkflowName = "order"

type pingEvent struct {
	Nonce string `json:"nonce"`
}

func (pingEvent) Kind() string { return "Ping" }

type noopStep struct {
	Label string `json:"label"`
	Wait  string `json:"wait"`
}

func (s noopStep) Kind() string      { return "Noop" }
func (s noopStep) EventKind() string { return s.Wait }
func (s noopStep) Run(ctx context.Context, wf model.Workflow, event model.LeafEvent) (*model.LeafStepWithSettings, error) {
	return nil, nil
}

func init() {
	model.RegisterLeafEventType("Ping", func(data json.RawMessage) (model.LeafEvent, error) {
		var e pingEvent
		err := json.Unmarshal(data, &e)
		return e, err
	})
	model.RegisterLeafStepType("Noop", func(data json.RawMessage) (model.LeafStep, error) {
		var s noopStep
		err := json.Unmarshal(data, &s)
		return s, err
	})
}

func TestProjectEventRoundTrip(t *testing.T) {
	pe := model.WidenEvent(testWorkflow, pingEvent{Nonce: "abc"})

	raw, err := json.Marshal(pe)
	require.NoError(t, err)

	var decoded model.ProjectEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, testWorkflow, decoded.Workflow)
	leaf, ok := model.AsLeafEvent[pingEvent](decoded)
	require.True(t, ok)
	assert.Equal(t, "abc", leaf.Nonce)
}

func TestImmediateEventRejectsSerialization(t *testing.T) {
	pe := model.WidenEvent(testWorkflow, model.Immediate{})
	_, err := json.Marshal(pe)
	assert.ErrorIs(t, err, model.ErrImmediateNotSerializable)
}

func TestProjectStepDeclaresImmediate(t *testing.T) {
	immediate := model.WidenStep(testWorkflow, model.LeafStepWithSettings{
		Step:     noopStep{Label: "s0", Wait: model.ImmediateKind},
		Settings: model.StepSettings{MaxRetries: 3},
	})
	assert.True(t, immediate.Step.DeclaresImmediate())

	eventGated := model.WidenStep(testWorkflow, model.LeafStepWithSettings{
		Step:     noopStep{Label: "s1", Wait: "Ping"},
		Settings: model.StepSettings{MaxRetries: 3},
	})
	assert.False(t, eventGated.Step.DeclaresImmediate())
}

func TestProjectStepRoundTrip(t *testing.T) {
	ps := model.WidenStep(testWorkflow, model.LeafStepWithSettings{
		Step:     noopStep{Label: "s0", Wait: "Ping"},
		Settings: model.StepSettings{MaxRetries: 5},
	})

	raw, err := json.Marshal(ps.Step)
	require.NoError(t, err)

	var decoded model.ProjectStep
	require.NoError(t, json.Unmarshal(raw, &decoded))

	leaf, ok := model.AsLeafStep[noopStep](decoded)
	require.True(t, ok)
	assert.Equal(t, "s0", leaf.Label)
}

func TestFQSAdvanceResetsRetryAndTracksLineage(t *testing.T) {
	instance := model.WorkflowInstance{InstanceId: model.NewInstanceId(), WorkflowName: testWorkflow}
	entry := model.WidenStep(testWorkflow, model.LeafStepWithSettings{
		Step:     noopStep{Label: "s0", Wait: model.ImmediateKind},
		Settings: model.StepSettings{MaxRetries: 2},
	})
	fqs := model.NewEntrypointFQS(instance, entry)
	fqs = fqs.Retry().Retry()
	assert.Equal(t, uint32(2), fqs.RetryCount)

	next := model.WidenStep(testWorkflow, model.LeafStepWithSettings{
		Step:     noopStep{Label: "s1", Wait: model.ImmediateKind},
		Settings: model.StepSettings{MaxRetries: 1},
	})
	advanced := fqs.Advance(next)

	assert.Equal(t, uint32(0), advanced.RetryCount)
	require.NotNil(t, advanced.PreviousStepId)
	assert.Equal(t, fqs.StepId, *advanced.PreviousStepId)
	assert.NotEqual(t, fqs.StepId, advanced.StepId)
}

func TestStepStatusMonotonicRank(t *testing.T) {
	assert.Less(t, model.StepScheduled.Rank(), model.StepAwaitingEvent.Rank())
	assert.Less(t, model.StepAwaitingEvent.Rank(), model.StepRunning.Rank())
	assert.Less(t, model.StepRunning.Rank(), model.StepCompleted.Rank())
	assert.Less(t, model.StepRunning.Rank(), model.StepFailed.Rank())
}
