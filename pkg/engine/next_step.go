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

// NextStepWorker classifies a scheduled step as immediate or event-waiting:
// immediate steps dispatch straight to the active-step queue, event-waiting
// steps are parked in the rendezvous table until a matching event arrives.
type NextStepWorker struct {
	deps *Dependencies
}

func NewNextStepWorker(deps *Dependencies) *NextStepWorker {
	return &NextStepWorker{deps: deps}
}

func (w *NextStepWorker) Run(ctx context.Context) error {
	receiver := w.deps.Queues.Receiver(queue.KindNextStep)
	activeStep := w.deps.Queues.Sender(queue.KindActiveStep)
	deadLetter := w.deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next-step: receive: %w", err)
		}

		if err := w.handle(ctx, payload, activeStep, deadLetter); err != nil {
			log.Printf("next-step worker: %v", err)
			if !errors.Is(err, ErrPoisonMessage) {
				continue
			}
		}
		if err := receiver.Accept(ctx, handle); err != nil {
			log.Printf("next-step worker: accept: %v", err)
		}
	}
}

func (w *NextStepWorker) handle(ctx context.Context, payload []byte, activeStep, deadLetter queue.Sender) error {
	var fqs model.FullyQualifiedStep
	if err := json.Unmarshal(payload, &fqs); err != nil {
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: decode FullyQualifiedStep: %v", ErrPoisonMessage, err)
	}

	inserted, err := w.deps.Persistence.InsertStep(ctx, fqs.Instance.InstanceId, fqs.StepId, fqs.PreviousStepId, fqs.Step, model.StepScheduled)
	if err != nil {
		return fmt.Errorf("persist scheduled step %s: %w", fqs.StepId, err)
	}
	if !inserted {
		// fqs.StepId was already scheduled: a redelivered or duplicated
		// NextStep message. Acknowledge without classifying or dispatching
		// again, matching the at-least-once dedup key (StepId) the rest of
		// the pipeline relies on.
		log.Printf("next-step worker: step %s already scheduled, dropping duplicate delivery", fqs.StepId)
		return nil
	}

	if fqs.Step.Step.DeclaresImmediate() {
		// Dispatched with no event attached: the Immediate sentinel cannot be
		// serialized, and the active-step stage synthesizes it on receipt.
		body, err := json.Marshal(fqs)
		if err != nil {
			return fmt.Errorf("marshal immediate FQS %s: %w", fqs.StepId, err)
		}
		if err := activeStep.Send(ctx, body); err != nil {
			return fmt.Errorf("send immediate FQS %s: %w", fqs.StepId, err)
		}
		return nil
	}

	if err := w.deps.Persistence.SetStepStatus(ctx, fqs.StepId, model.StepAwaitingEvent); err != nil {
		return fmt.Errorf("mark step %s awaiting event: %w", fqs.StepId, err)
	}
	if err := w.deps.Rendezvous.PutStep(ctx, fqs); err != nil {
		return fmt.Errorf("arm step %s: %w", fqs.StepId, err)
	}
	return nil
}
