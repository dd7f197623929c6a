// Package maintenance runs the engine's periodic housekeeping: polling queue
// depth and rendezvous occupancy into Prometheus gauges. It mirrors
// internal/triggers.Engine's cron-driven polling loop, applied to the
// pipeline's own operational state instead of persisted trigger rows.
package maintenance

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/arcflow/engine/pkg/metrics"
	"github.com/arcflow/engine/pkg/queue"
	"github.com/arcflow/engine/pkg/rendezvous"
)

// lengther is satisfied by rendezvous.Sharded; it is not part of the
// rendezvous.Manager contract because only an in-process table can answer
// it without a scan operation.
type lengther interface {
	Len() int
}

// Sweeper periodically samples queue depth and rendezvous occupancy and
// records them on the engine's metrics.
type Sweeper struct {
	broker     *queue.Broker
	rendezvous rendezvous.Manager
	metrics    *metrics.Metrics
	scheduler  *cron.Cron
}

// NewSweeper builds a Sweeper. m must not be nil; there is nothing useful
// for this component to do without a metrics sink.
func NewSweeper(broker *queue.Broker, rv rendezvous.Manager, m *metrics.Metrics) *Sweeper {
	return &Sweeper{broker: broker, rendezvous: rv, metrics: m, scheduler: cron.New()}
}

var allKinds = []queue.Kind{
	queue.KindNewInstance,
	queue.KindNextStep,
	queue.KindEvent,
	queue.KindActiveStep,
	queue.KindCompletedStep,
	queue.KindFailedStep,
	queue.KindCompletedInstance,
	queue.KindFailedInstance,
	queue.KindDeadLetter,
}

// Start schedules the sweep to run every ten seconds and blocks until ctx is
// cancelled, at which point the scheduler is stopped.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.scheduler.AddFunc("@every 10s", s.sweep); err != nil {
		return err
	}
	s.scheduler.Start()
	s.sweep()
	<-ctx.Done()
	<-s.scheduler.Stop().Done()
	return nil
}

func (s *Sweeper) sweep() {
	for _, kind := range allKinds {
		s.metrics.QueueDepth.WithLabelValues(string(kind)).Set(float64(s.broker.Depth(kind)))
	}
	if lt, ok := s.rendezvous.(lengther); ok {
		s.metrics.ArmedInstances.Set(float64(lt.Len()))
	} else {
		log.Printf("maintenance: rendezvous manager does not expose Len, skipping armed-instance gauge")
	}
}
