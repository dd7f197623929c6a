package rendezvous

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/arcflow/engine/pkg/model"
)

// shard holds one slice of the rendezvous table behind its own mutex, so
// contention on one instance's armed step never blocks an unrelated
// instance's.
type shard struct {
	mu      sync.RWMutex
	entries map[model.InstanceId]model.FullyQualifiedStep
}

// Sharded is the in-process Manager implementation: a fixed number of
// independently-locked shards, selected by hashing the instance id.
type Sharded struct {
	shards []*shard
}

// NewSharded builds a Sharded rendezvous table with the given shard count.
// A single shard degrades gracefully to one global mutex; a real deployment
// picks a count proportional to expected concurrent instance traffic.
func NewSharded(shardCount int) *Sharded {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[model.InstanceId]model.FullyQualifiedStep)}
	}
	return &Sharded{shards: shards}
}

func (s *Sharded) shardFor(instance model.InstanceId) *shard {
	u := uuid.UUID(instance)
	h := xxhash.Sum64(u[:])
	return s.shards[h%uint64(len(s.shards))]
}

func (s *Sharded) GetStep(ctx context.Context, instance model.InstanceId) (model.FullyQualifiedStep, bool, error) {
	sh := s.shardFor(instance)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	fqs, ok := sh.entries[instance]
	return fqs, ok, nil
}

func (s *Sharded) PutStep(ctx context.Context, fqs model.FullyQualifiedStep) error {
	sh := s.shardFor(fqs.Instance.InstanceId)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[fqs.Instance.InstanceId] = fqs
	return nil
}

func (s *Sharded) DeleteStep(ctx context.Context, instance model.InstanceId) error {
	sh := s.shardFor(instance)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, instance)
	return nil
}

// Len reports the total number of armed entries across all shards. It is not
// part of the Manager interface: only an in-process table can answer it
// cheaply, and it exists solely for the maintenance sweep's gauge.
func (s *Sharded) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}
