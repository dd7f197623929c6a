package engine

import (
	"github.com/arcflow/engine/pkg/metrics"
	"github.com/arcflow/engine/pkg/model"
	"github.com/arcflow/engine/pkg/persistence"
	"github.com/arcflow/engine/pkg/queue"
	"github.com/arcflow/engine/pkg/rendezvous"
)

// QueueFactory is the transport capability every worker needs: a sender for
// its outbound queue(s) and a receiver for its inbound one. Satisfied by
// *queue.Broker in an embedded deployment.
type QueueFactory interface {
	queue.SenderFactory
	queue.ReceiverFactory
}

// Dependencies is the factory every worker is built from: the queue
// transport, the rendezvous table, the persistence store, and the static
// project the engine is serving. A single instance is shared across all
// seven worker loops in an embedded deployment.
type Dependencies struct {
	Queues      QueueFactory
	Rendezvous  rendezvous.Manager
	Persistence persistence.Manager
	Project     model.Project
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// NewDependencies assembles a Dependencies value from concrete adapters.
func NewDependencies(queues QueueFactory, rv rendezvous.Manager, p persistence.Manager, proj model.Project) *Dependencies {
	return &Dependencies{
		Queues:      queues,
		Rendezvous:  rv,
		Persistence: p,
		Project:     proj,
	}
}
