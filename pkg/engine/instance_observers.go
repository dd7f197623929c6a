package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/queue"
)

// InstanceHook is an application-defined callback invoked when an instance
// reaches a terminal state. Hooks are not in the critical path of step
// advancement; a hook error only delays acknowledgement of that one message.
type InstanceHook func(ctx context.Context, instance model.WorkflowInstance) error

// CompletedInstanceObserver consumes the completed-instance queue and runs
// application hooks (logging, notification, cleanup) for successfully
// terminated instances.
type CompletedInstanceObserver struct {
	deps  *Dependencies
	hooks []InstanceHook
}

func NewCompletedInstanceObserver(deps *Dependencies, hooks ...InstanceHook) *CompletedInstanceObserver {
	return &CompletedInstanceObserver{deps: deps, hooks: hooks}
}

func (o *CompletedInstanceObserver) Run(ctx context.Context) error {
	return runObserver(ctx, o.deps, queue.KindCompletedInstance, "completed-instance", o.hooks)
}

// FailedInstanceObserver is the failure-side counterpart of
// CompletedInstanceObserver.
type FailedInstanceObserver struct {
	deps  *Dependencies
	hooks []InstanceHook
}

func NewFailedInstanceObserver(deps *Dependencies, hooks ...InstanceHook) *FailedInstanceObserver {
	return &FailedInstanceObserver{deps: deps, hooks: hooks}
}

func (o *FailedInstanceObserver) Run(ctx context.Context) error {
	return runObserver(ctx, o.deps, queue.KindFailedInstance, "failed-instance", o.hooks)
}

func runObserver(ctx context.Context, deps *Dependencies, kind queue.Kind, label string, hooks []InstanceHook) error {
	receiver := deps.Queues.Receiver(kind)
	deadLetter := deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: receive: %w", label, err)
		}

		var instance model.WorkflowInstance
		if err := json.Unmarshal(payload, &instance); err != nil {
			_ = deadLetter.Send(ctx, payload)
			log.Printf("%s observer: decode WorkflowInstance: %v", label, err)
			if err := receiver.Accept(ctx, handle); err != nil {
				log.Printf("%s observer: accept: %v", label, err)
			}
			continue
		}

		var hookErr error
		for _, hook := range hooks {
			if err := hook(ctx, instance); err != nil {
				hookErr = err
				log.Printf("%s observer: hook failed for instance %s: %v", label, instance.InstanceId, err)
				break
			}
		}
		if hookErr != nil {
			continue
		}

		if err := receiver.Accept(ctx, handle); err != nil {
			log.Printf("%s observer: accept: %v", label, err)
		}
	}
}
