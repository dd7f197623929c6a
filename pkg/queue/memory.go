package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// delivery is one in-flight message on a memory queue. acked guards against
// double-Accept and lets the redelivery timer know whether to requeue.
type delivery struct {
	payload []byte
	once    sync.Once
	acked   chan struct{}
}

func newDelivery(payload []byte) *delivery {
	return &delivery{payload: payload, acked: make(chan struct{})}
}

func (d *delivery) accept() {
	d.once.Do(func() { close(d.acked) })
}

func (d *delivery) isAccepted() bool {
	select {
	case <-d.acked:
		return true
	default:
		return false
	}
}

// memoryQueue is one logical queue backed by a buffered Go channel, with a
// visibility timeout that redelivers a message if it is not Accepted in
// time — the in-process analogue of a broker's redelivery-on-crash
// guarantee.
type memoryQueue struct {
	ch                chan *delivery
	visibilityTimeout time.Duration
}

func newMemoryQueue(buffer int, visibilityTimeout time.Duration) *memoryQueue {
	return &memoryQueue{
		ch:                make(chan *delivery, buffer),
		visibilityTimeout: visibilityTimeout,
	}
}

func (q *memoryQueue) send(ctx context.Context, payload []byte) error {
	d := newDelivery(payload)
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) receive(ctx context.Context) (*delivery, error) {
	select {
	case d := <-q.ch:
		q.armRedelivery(d)
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *memoryQueue) armRedelivery(d *delivery) {
	if q.visibilityTimeout <= 0 {
		return
	}
	timer := time.AfterFunc(q.visibilityTimeout, func() {
		if d.isAccepted() {
			return
		}
		// Message survived past its visibility window without being
		// accepted: requeue it, simulating broker redelivery. A fresh
		// delivery token is issued; the payload (and its StepId/identity
		// carried inside it) is what at-least-once processing keys on.
		redelivered := newDelivery(d.payload)
		q.ch <- redelivered
	})
	go func() {
		<-d.acked
		timer.Stop()
	}()
}

// Broker is an in-process, channel-backed realization of SenderFactory and
// ReceiverFactory. It is safe for concurrent use and cheap to hand out
// clones from: every Sender/Receiver it returns is a thin value wrapping a
// shared *memoryQueue.
type Broker struct {
	mu                sync.Mutex
	queues            map[Kind]*memoryQueue
	bufferSize        int
	visibilityTimeout time.Duration
}

// NewBroker creates an in-process broker. bufferSize bounds how many
// in-flight messages a single queue holds before Send blocks;
// visibilityTimeout is how long a Receive'd message may go un-Accepted
// before it is redelivered (0 disables redelivery).
func NewBroker(bufferSize int, visibilityTimeout time.Duration) *Broker {
	return &Broker{
		queues:            make(map[Kind]*memoryQueue),
		bufferSize:        bufferSize,
		visibilityTimeout: visibilityTimeout,
	}
}

func (b *Broker) queue(kind Kind) *memoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[kind]
	if !ok {
		q = newMemoryQueue(b.bufferSize, b.visibilityTimeout)
		b.queues[kind] = q
	}
	return q
}

// Sender implements SenderFactory.
func (b *Broker) Sender(kind Kind) Sender {
	return &memorySender{q: b.queue(kind)}
}

// Receiver implements ReceiverFactory.
func (b *Broker) Receiver(kind Kind) Receiver {
	return &memoryReceiver{q: b.queue(kind)}
}

// Depth returns the number of messages currently buffered (not yet
// received) on kind, for metrics reporting.
func (b *Broker) Depth(kind Kind) int {
	return len(b.queue(kind).ch)
}

type memorySender struct {
	q *memoryQueue
}

func (s *memorySender) Send(ctx context.Context, payload []byte) error {
	return s.q.send(ctx, payload)
}

type memoryReceiver struct {
	q *memoryQueue
}

func (r *memoryReceiver) Receive(ctx context.Context) ([]byte, Handle, error) {
	d, err := r.q.receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	return d.payload, d, nil
}

func (r *memoryReceiver) Accept(ctx context.Context, handle Handle) error {
	d, ok := handle.(*delivery)
	if !ok {
		return fmt.Errorf("queue: handle %T does not belong to a memory queue", handle)
	}
	d.accept()
	return nil
}
