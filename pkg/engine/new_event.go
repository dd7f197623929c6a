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

// NewEventWorker matches an inbound event against the armed step for its
// instance and dispatches on a match. A missing armed step or a type
// mismatch both acknowledge without side effects; only a clean match
// advances the pipeline.
type NewEventWorker struct {
	deps *Dependencies
}

func NewNewEventWorker(deps *Dependencies) *NewEventWorker {
	return &NewEventWorker{deps: deps}
}

func (w *NewEventWorker) Run(ctx context.Context) error {
	receiver := w.deps.Queues.Receiver(queue.KindEvent)
	activeStep := w.deps.Queues.Sender(queue.KindActiveStep)
	deadLetter := w.deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("new-event: receive: %w", err)
		}

		if err := w.handle(ctx, payload, activeStep, deadLetter); err != nil {
			switch {
			case err == ErrNoArmedStep, err == ErrRendezvousMismatch:
				// Logged by handle; acknowledged regardless — the event is
				// lost by design in both cases.
			case errors.Is(err, ErrPoisonMessage):
				log.Printf("new-event worker: %v", err)
			default:
				log.Printf("new-event worker: %v", err)
				continue
			}
		}
		if err := receiver.Accept(ctx, handle); err != nil {
			log.Printf("new-event worker: accept: %v", err)
		}
	}
}

func (w *NewEventWorker) handle(ctx context.Context, payload []byte, activeStep, deadLetter queue.Sender) error {
	var ie model.InstanceEvent
	if err := json.Unmarshal(payload, &ie); err != nil {
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: decode InstanceEvent: %v", ErrPoisonMessage, err)
	}

	armed, ok, err := w.deps.Rendezvous.GetStep(ctx, ie.InstanceId)
	if err != nil {
		return fmt.Errorf("lookup rendezvous entry for %s: %w", ie.InstanceId, err)
	}
	if !ok {
		log.Printf("new-event worker: no armed step for instance %s, dropping event %s", ie.InstanceId, ie.Event.Kind())
		return ErrNoArmedStep
	}

	if armed.Step.Step.Leaf.EventKind() != ie.Event.Kind() {
		log.Printf("new-event worker: event kind %q does not match armed step's declared kind %q for instance %s",
			ie.Event.Kind(), armed.Step.Step.Leaf.EventKind(), ie.InstanceId)
		return ErrRendezvousMismatch
	}

	if err := w.deps.Rendezvous.DeleteStep(ctx, ie.InstanceId); err != nil {
		return fmt.Errorf("clear rendezvous entry for %s: %w", ie.InstanceId, err)
	}

	dispatched := armed.WithEvent(ie.Event)
	body, err := json.Marshal(dispatched)
	if err != nil {
		return fmt.Errorf("marshal dispatched FQS %s: %w", dispatched.StepId, err)
	}
	if err := activeStep.Send(ctx, body); err != nil {
		return fmt.Errorf("send dispatched FQS %s: %w", dispatched.StepId, err)
	}
	return nil
}
