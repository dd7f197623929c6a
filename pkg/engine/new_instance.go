package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/queue"
)

// NewInstanceWorker seeds a freshly requested instance: persists it,
// resolves its workflow's entrypoint, and emits the entrypoint step onto
// the next-step queue.
type NewInstanceWorker struct {
	deps *Dependencies
}

func NewNewInstanceWorker(deps *Dependencies) *NewInstanceWorker {
	return &NewInstanceWorker{deps: deps}
}

// Run consumes new-instance messages until ctx is cancelled.
func (w *NewInstanceWorker) Run(ctx context.Context) error {
	receiver := w.deps.Queues.Receiver(queue.KindNewInstance)
	nextStep := w.deps.Queues.Sender(queue.KindNextStep)
	deadLetter := w.deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("new-instance: receive: %w", err)
		}

		if err := w.handleSafely(ctx, payload, nextStep, deadLetter); err != nil {
			log.Printf("new-instance worker: %v", err)
			if !errors.Is(err, ErrPoisonMessage) {
				continue
			}
		}
		if err := receiver.Accept(ctx, handle); err != nil {
			log.Printf("new-instance worker: accept: %v", err)
		}
	}
}

// handleSafely isolates a panic from an unknown WorkflowName (a
// programmer-class error in Project.Entrypoint) to this one message rather
// than letting it crash the worker process.
func (w *NewInstanceWorker) handleSafely(ctx context.Context, payload []byte, nextStep, deadLetter queue.Sender) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("new-instance: panic handling message: %v", r)
		}
	}()
	return w.handle(ctx, payload, nextStep, deadLetter)
}

func (w *NewInstanceWorker) handle(ctx context.Context, payload []byte, nextStep, deadLetter queue.Sender) error {
	var instance model.WorkflowInstance
	if err := json.Unmarshal(payload, &instance); err != nil {
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: decode WorkflowInstance: %v", ErrPoisonMessage, err)
	}

	if err := w.deps.Persistence.InsertInstance(ctx, instance); err != nil {
		return fmt.Errorf("persist instance %s: %w", instance.InstanceId, err)
	}

	entry := w.deps.Project.Entrypoint(instance.WorkflowName)
	fqs := model.NewEntrypointFQS(instance, entry)

	body, err := json.Marshal(fqs)
	if err != nil {
		return fmt.Errorf("marshal entrypoint FQS for %s: %w", instance.InstanceId, err)
	}
	if err := nextStep.Send(ctx, body); err != nil {
		return fmt.Errorf("send entrypoint FQS for %s: %w", instance.InstanceId, err)
	}
	return nil
}
