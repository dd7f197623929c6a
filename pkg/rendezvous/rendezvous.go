// Package rendezvous implements the key-value table joining arriving events
// to the steps waiting for them. The table is keyed by instance id with
// cardinality at most one; the engine never needs list or scan operations
// on it.
package rendezvous

import (
	"context"

	"github.com/arcflow/engine/pkg/model"
)

// Manager is the rendezvous table contract. A process-wide concurrent map
// (this package's Sharded implementation) suffices for an embedded
// deployment; a distributed deployment needs a strongly-consistent
// compare-and-set KV store satisfying the same three operations — no such
// adapter is implemented here.
type Manager interface {
	// GetStep returns the armed step for instance, if any.
	GetStep(ctx context.Context, instance model.InstanceId) (model.FullyQualifiedStep, bool, error)
	// PutStep arms fqs.Instance.InstanceId, overwriting any previous entry
	// for that instance: at most one armed step per instance.
	PutStep(ctx context.Context, fqs model.FullyQualifiedStep) error
	// DeleteStep clears the armed step for instance, if any.
	DeleteStep(ctx context.Context, instance model.InstanceId) error
}
