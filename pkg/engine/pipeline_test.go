package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/engine/examples/orderproject"
	"github.com/arcflow/engine/internal/testutil"
	"github.com/arcflow/engine/pkg/engine"
	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/persistence"
	"github.com/arcflow/engine/pkg/queue"
	"github.com/arcflow/engine/pkg/rendezvous"
)

// startPipeline wires the six step-advancing worker loops over a fresh
// in-process broker and a Postgres-backed persistence store, and returns the
// dependencies plus a cancel func to stop every worker at test teardown. The
// completed/failed-instance observers are not started; the tests read those
// queues directly.
func startPipeline(t *testing.T) (*engine.Dependencies, context.Context, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	_, db, cleanup := testutil.SetupPostgresWithMigrations(ctx, t)
	t.Cleanup(cleanup)

	broker := queue.NewBroker(64, 2*time.Second)
	deps := engine.NewDependencies(broker, rendezvous.NewSharded(4), persistence.NewPostgres(db), orderproject.Project())

	workers := []interface{ Run(context.Context) error }{
		engine.NewNewInstanceWorker(deps),
		engine.NewNextStepWorker(deps),
		engine.NewNewEventWorker(deps),
		engine.NewActiveStepWorker(deps),
		engine.NewCompletedStepWorker(deps),
		engine.NewFailedStepWorker(deps),
	}
	for _, w := range workers {
		go func(w interface{ Run(context.Context) error }) {
			_ = w.Run(ctx)
		}(w)
	}

	return deps, ctx, cancel
}

func createInstance(t *testing.T, ctx context.Context, deps *engine.Dependencies, workflow model.WorkflowName) model.InstanceId {
	t.Helper()
	instance := model.WorkflowInstance{InstanceId: model.NewInstanceId(), WorkflowName: workflow}
	body, err := json.Marshal(instance)
	require.NoError(t, err)
	require.NoError(t, deps.Queues.Sender(queue.KindNewInstance).Send(ctx, body))
	return instance.InstanceId
}

func receiveInstance(t *testing.T, ctx context.Context, deps *engine.Dependencies, kind queue.Kind, timeout time.Duration) model.WorkflowInstance {
	t.Helper()
	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receiver := deps.Queues.Receiver(kind)
	payload, handle, err := receiver.Receive(recvCtx)
	require.NoError(t, err, "expected a message on queue %q", kind)
	require.NoError(t, receiver.Accept(ctx, handle))

	var instance model.WorkflowInstance
	require.NoError(t, json.Unmarshal(payload, &instance))
	return instance
}

func TestTwoStepImmediateChainThenEventGate(t *testing.T) {
	deps, ctx, cancel := startPipeline(t)
	defer cancel()

	instanceID := createInstance(t, ctx, deps, orderproject.WorkflowName)

	// PlaceOrder fires immediately and chains to AwaitConfirmation, which
	// is event-gated: the instance should sit armed, not complete, until
	// OrderConfirmed is posted.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, ok, err := deps.Rendezvous.GetStep(ctx, instanceID)
		require.NoError(t, err)
		if ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	armed, ok, err := deps.Rendezvous.GetStep(ctx, instanceID)
	require.NoError(t, err)
	require.True(t, ok, "expected AwaitConfirmation to be armed")
	_, isAwait := model.AsLeafStep[orderproject.AwaitConfirmation](armed.Step.Step)
	require.True(t, isAwait)

	event := model.WidenEvent(orderproject.WorkflowName, orderproject.OrderConfirmed{OrderID: "abc"})
	ie := model.InstanceEvent{InstanceId: instanceID, Event: event}
	body, err := json.Marshal(ie)
	require.NoError(t, err)
	require.NoError(t, deps.Queues.Sender(queue.KindEvent).Send(ctx, body))

	completed := receiveInstance(t, ctx, deps, queue.KindCompletedInstance, 5*time.Second)
	require.Equal(t, instanceID, completed.InstanceId)

	_, ok, err = deps.Rendezvous.GetStep(ctx, instanceID)
	require.NoError(t, err)
	require.False(t, ok, "rendezvous entry should be cleared after dispatch")
}

func TestRetryExhaustionRoutesToFailedInstance(t *testing.T) {
	deps, ctx, cancel := startPipeline(t)
	defer cancel()

	instanceID := createInstance(t, ctx, deps, orderproject.FlakyWorkflowName)

	failed := receiveInstance(t, ctx, deps, queue.KindFailedInstance, 5*time.Second)
	require.Equal(t, instanceID, failed.InstanceId)
}

func TestEventMismatchLeavesArmedStepInPlace(t *testing.T) {
	deps, ctx, cancel := startPipeline(t)
	defer cancel()

	instanceID := createInstance(t, ctx, deps, orderproject.WorkflowName)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, ok, err := deps.Rendezvous.GetStep(ctx, instanceID)
		require.NoError(t, err)
		if ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Post an event of a kind AwaitConfirmation does not declare.
	mismatch := model.InstanceEvent{
		InstanceId: instanceID,
		Event:      model.WidenEvent(orderproject.WorkflowName, orderproject.PaymentFailed{OrderID: "abc"}),
	}
	body, err := json.Marshal(mismatch)
	require.NoError(t, err)
	require.NoError(t, deps.Queues.Sender(queue.KindEvent).Send(ctx, body))

	// Give the new-event worker time to process the mismatch, then assert
	// the rendezvous entry is untouched and nothing completed.
	time.Sleep(200 * time.Millisecond)

	armed, ok, err := deps.Rendezvous.GetStep(ctx, instanceID)
	require.NoError(t, err)
	require.True(t, ok, "armed step must remain after a mismatched event")
	require.Equal(t, "AwaitConfirmation", armed.Step.Step.Kind())

	recvCtx, cancelRecv := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelRecv()
	_, _, err = deps.Queues.Receiver(queue.KindCompletedInstance).Receive(recvCtx)
	require.Error(t, err, "no instance should have completed after a mismatched event")
}
