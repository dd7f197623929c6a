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

// FailedStepWorker records a step's terminal failure and publishes the
// owning instance onto the failed-instance queue.
type FailedStepWorker struct {
	deps *Dependencies
}

func NewFailedStepWorker(deps *Dependencies) *FailedStepWorker {
	return &FailedStepWorker{deps: deps}
}

func (w *FailedStepWorker) Run(ctx context.Context) error {
	receiver := w.deps.Queues.Receiver(queue.KindFailedStep)
	failedInstance := w.deps.Queues.Sender(queue.KindFailedInstance)
	deadLetter := w.deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed-step: receive: %w", err)
		}

		if err := w.handle(ctx, payload, failedInstance, deadLetter); err != nil {
			log.Printf("failed-step worker: %v", err)
			if !errors.Is(err, ErrPoisonMessage) {
				continue
			}
		}
		if err := receiver.Accept(ctx, handle); err != nil {
			log.Printf("failed-step worker: accept: %v", err)
		}
	}
}

func (w *FailedStepWorker) handle(ctx context.Context, payload []byte, failedInstance, deadLetter queue.Sender) error {
	var fqs model.FullyQualifiedStep
	if err := json.Unmarshal(payload, &fqs); err != nil {
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: decode FullyQualifiedStep: %v", ErrPoisonMessage, err)
	}

	if err := w.deps.Persistence.SetStepStatus(ctx, fqs.StepId, model.StepFailed); err != nil {
		return fmt.Errorf("mark step %s failed: %w", fqs.StepId, err)
	}

	body, err := json.Marshal(fqs.Instance)
	if err != nil {
		return fmt.Errorf("marshal failed instance %s: %w", fqs.Instance.InstanceId, err)
	}
	if err := failedInstance.Send(ctx, body); err != nil {
		return fmt.Errorf("publish failed instance %s: %w", fqs.Instance.InstanceId, err)
	}
	return nil
}
