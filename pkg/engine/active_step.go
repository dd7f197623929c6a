package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/queue"
)

// ActiveStepWorker executes step bodies. Unlike the other stages it spawns
// a goroutine per dequeued message so one slow step body cannot starve the
// receive loop; acknowledgement order across concurrent messages is not
// preserved, which is fine since the transport guarantees redelivery on
// crash rather than ordering.
type ActiveStepWorker struct {
	deps *Dependencies

	wg sync.WaitGroup
}

func NewActiveStepWorker(deps *Dependencies) *ActiveStepWorker {
	return &ActiveStepWorker{deps: deps}
}

func (w *ActiveStepWorker) Run(ctx context.Context) error {
	receiver := w.deps.Queues.Receiver(queue.KindActiveStep)
	self := w.deps.Queues.Sender(queue.KindActiveStep)
	completedStep := w.deps.Queues.Sender(queue.KindCompletedStep)
	failedStep := w.deps.Queues.Sender(queue.KindFailedStep)
	deadLetter := w.deps.Queues.Sender(queue.KindDeadLetter)

	for {
		payload, handle, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.wg.Wait()
				return nil
			}
			return fmt.Errorf("active-step: receive: %w", err)
		}

		w.wg.Add(1)
		go func(payload []byte, handle queue.Handle) {
			defer w.wg.Done()
			if err := w.handleSafely(ctx, payload, self, completedStep, failedStep, deadLetter); err != nil {
				log.Printf("active-step worker: %v", err)
				if !errors.Is(err, ErrPoisonMessage) {
					return
				}
			}
			if err := receiver.Accept(ctx, handle); err != nil {
				log.Printf("active-step worker: accept: %v", err)
			}
		}(payload, handle)
	}
}

func (w *ActiveStepWorker) handleSafely(ctx context.Context, payload []byte, self, completedStep, failedStep, deadLetter queue.Sender) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("active-step: panic executing step body: %v", r)
		}
	}()
	return w.handle(ctx, payload, self, completedStep, failedStep, deadLetter)
}

func (w *ActiveStepWorker) handle(ctx context.Context, payload []byte, self, completedStep, failedStep, deadLetter queue.Sender) error {
	var fqs model.FullyQualifiedStep
	if err := json.Unmarshal(payload, &fqs); err != nil {
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: decode FullyQualifiedStep: %v", ErrPoisonMessage, err)
	}

	wf, err := w.deps.Project.WorkflowForStep(fqs.Step.Step)
	if err != nil {
		// A project/workflow mismatch cannot be fixed by redelivery; route
		// the FQS to the dead letter queue the same as an undecodable
		// payload rather than retrying it forever.
		_ = deadLetter.Send(ctx, payload)
		return fmt.Errorf("%w: %v: %v", ErrPoisonMessage, ErrDomainConversion, err)
	}

	if err := w.deps.Persistence.SetStepStatus(ctx, fqs.StepId, model.StepRunning); err != nil {
		return fmt.Errorf("mark step %s running: %w", fqs.StepId, err)
	}

	event := leafEventFor(fqs)
	start := time.Now()
	next, runErr := fqs.Step.Step.Leaf.Run(ctx, wf, event)
	if w.deps.Metrics != nil {
		outcome := "success"
		if runErr != nil {
			outcome = "error"
		}
		w.deps.Metrics.StepLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	if runErr == nil {
		if w.deps.Metrics != nil {
			w.deps.Metrics.StepsTotal.WithLabelValues("completed").Inc()
		}
		if next != nil {
			widened := model.WidenStep(fqs.Step.Step.Workflow, *next)
			fqs.NextStep = &widened
		} else {
			fqs.NextStep = nil
		}
		fqs.Event = nil
		body, err := json.Marshal(fqs)
		if err != nil {
			return fmt.Errorf("marshal completed FQS %s: %w", fqs.StepId, err)
		}
		if err := completedStep.Send(ctx, body); err != nil {
			return fmt.Errorf("send completed FQS %s: %w", fqs.StepId, err)
		}
		return nil
	}

	if fqs.RetryCount < fqs.Step.Settings.MaxRetries {
		if w.deps.Metrics != nil {
			w.deps.Metrics.RetriesTotal.WithLabelValues(string(fqs.Step.Step.Workflow)).Inc()
		}
		retried := fqs.Retry()
		body, err := json.Marshal(retried)
		if err != nil {
			return fmt.Errorf("marshal retried FQS %s: %w", fqs.StepId, err)
		}
		if err := self.Send(ctx, body); err != nil {
			return fmt.Errorf("re-send FQS %s for retry: %w", fqs.StepId, err)
		}
		return nil
	}

	if w.deps.Metrics != nil {
		w.deps.Metrics.StepsTotal.WithLabelValues("failed").Inc()
	}
	body, err := json.Marshal(fqs)
	if err != nil {
		return fmt.Errorf("marshal failed FQS %s: %w", fqs.StepId, err)
	}
	if err := failedStep.Send(ctx, body); err != nil {
		return fmt.Errorf("send failed FQS %s: %w", fqs.StepId, err)
	}
	return nil
}

// leafEventFor synthesizes the Immediate sentinel when the FQS carries no
// event, matching an immediate step's declared event type.
func leafEventFor(fqs model.FullyQualifiedStep) model.LeafEvent {
	if fqs.Event == nil {
		return model.Immediate{}
	}
	return fqs.Event.Leaf
}
