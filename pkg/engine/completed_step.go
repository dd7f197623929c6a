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

// CompletedStepWorker records a completed step's output, chains to the next
// step if one was requested, or finalizes the instance and publishes
// CompletedInstance.
type CompletedStepWorker struct {
	deps *Dependencies
}

func NewCompletedStepWorker(deps *Dependencies) *CompletedStepWorker {
	return &CompletedStepWorker{deps: deps}
}

func (w *CompletedStepWorker) Run(ctx context.Context) error {
	receiver := w.deps.Queues.Receiver(queue.KindCompletedStep)
	nextStep := w.deps.Queues.Sender(queue.KindNextStep)
	completedInstance := w.deps.Queues.Sender(queue.KindCompletedInstance)
	deadLetter := w.deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("completed-step: receive: %w", err)
		}

		if err := w.handle(ctx, payload, nextStep, completedInstance, deadLetter); err != nil {
			log.Printf("completed-step worker: %v", err)
			if !errors.Is(err, ErrPoisonMessage) {
				continue
			}
		}
		if err := receiver.Accept(ctx, handle); err != nil {
			log.Printf("completed-step worker: accept: %v", err)
		}
	}
}

func (w *CompletedStepWorker) handle(ctx context.Context, payload []byte, nextStep, completedInstance, deadLetter queue.Sender) error {
	var fqs model.FullyQualifiedStep
	if err := json.Unmarshal(payload, &fqs); err != nil {
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: decode FullyQualifiedStep: %v", ErrPoisonMessage, err)
	}

	if fqs.NextStep == nil {
		if err := w.deps.Persistence.CompleteStep(ctx, fqs.StepId, nil); err != nil {
			return fmt.Errorf("complete terminal step %s: %w", fqs.StepId, err)
		}
		body, err := json.Marshal(fqs.Instance)
		if err != nil {
			return fmt.Errorf("marshal completed instance %s: %w", fqs.Instance.InstanceId, err)
		}
		if err := completedInstance.Send(ctx, body); err != nil {
			return fmt.Errorf("publish completed instance %s: %w", fqs.Instance.InstanceId, err)
		}
		return nil
	}

	outputBody, err := json.Marshal(fqs.NextStep)
	if err != nil {
		return fmt.Errorf("marshal next-step output for %s: %w", fqs.StepId, err)
	}
	if err := w.deps.Persistence.CompleteStep(ctx, fqs.StepId, outputBody); err != nil {
		return fmt.Errorf("complete chained step %s: %w", fqs.StepId, err)
	}

	advanced := fqs.Advance(*fqs.NextStep)
	body, err := json.Marshal(advanced)
	if err != nil {
		return fmt.Errorf("marshal advanced FQS %s: %w", advanced.StepId, err)
	}
	if err := nextStep.Send(ctx, body); err != nil {
		return fmt.Errorf("send advanced FQS %s: %w", advanced.StepId, err)
	}
	return nil
}
