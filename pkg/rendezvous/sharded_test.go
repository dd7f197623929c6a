package rendezvous_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/rendezvous"
)

func fqsFor(instance model.InstanceId) model.FullyQualifiedStep {
	return model.FullyQualifiedStep{
		Instance: model.WorkflowInstance{InstanceId: instance, WorkflowName: "order"},
		StepId:   model.NewStepId(),
	}
}

func TestPutOverwritesPriorArmedStep(t *testing.T) {
	ctx := context.Background()
	r := rendezvous.NewSharded(4)
	instance := model.NewInstanceId()

	first := fqsFor(instance)
	require.NoError(t, r.PutStep(ctx, first))

	second := fqsFor(instance)
	require.NoError(t, r.PutStep(ctx, second))

	got, ok, err := r.GetStep(ctx, instance)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.StepId, got.StepId)
}

func TestGetAfterDeleteIsAbsent(t *testing.T) {
	ctx := context.Background()
	r := rendezvous.NewSharded(8)
	instance := model.NewInstanceId()

	require.NoError(t, r.PutStep(ctx, fqsFor(instance)))
	require.NoError(t, r.DeleteStep(ctx, instance))

	_, ok, err := r.GetStep(ctx, instance)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistinctInstancesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	r := rendezvous.NewSharded(2)
	a, b := model.NewInstanceId(), model.NewInstanceId()

	require.NoError(t, r.PutStep(ctx, fqsFor(a)))
	require.NoError(t, r.DeleteStep(ctx, b))

	_, ok, err := r.GetStep(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok, "deleting an unrelated instance must not affect a's armed step")
}
