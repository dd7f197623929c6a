// Package queue defines the uniform Sender/Receiver contracts the engine
// consumes for every queue kind, independent of the backing transport. The
// in-process implementation in this package is an embedded, single-binary
// transport; a distributed deployment would satisfy the same interfaces
// with a cloud queue client.
package queue

import "context"

// Kind names one of the engine's logical queues.
type Kind string

const (
	KindNewInstance       Kind = "new-instance"
	KindNextStep          Kind = "next-step"
	KindEvent             Kind = "event"
	KindActiveStep        Kind = "active-step"
	KindCompletedStep     Kind = "completed-step"
	KindFailedStep        Kind = "failed-step"
	KindCompletedInstance Kind = "completed-instance"
	KindFailedInstance    Kind = "failed-instance"
	// KindDeadLetter is not one of the eight pipeline queues; it is the
	// sink stage workers fall back to when a payload cannot be decoded,
	// since the in-process transport has no native dead-letter concept.
	KindDeadLetter Kind = "dead-letter"
)

// Handle is an opaque, transport-specific token tied to a single delivery.
// It must be passed back to Accept to acknowledge that exact message.
type Handle interface{}

// Sender delivers payloads onto one queue. Implementations should be cheap
// to clone: a mutex-wrapped shared client is an acceptable way to satisfy
// that.
type Sender interface {
	// Send enqueues payload, already serialized to its wire form.
	Send(ctx context.Context, payload []byte) error
}

// Receiver consumes payloads from one queue with at-least-once semantics:
// Receive blocks until a message is available, and the message is not
// considered processed until Accept is called with its Handle.
type Receiver interface {
	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context) (payload []byte, handle Handle, err error)
	// Accept acknowledges a previously received message. Redelivery occurs
	// if Accept is never called, whether from a crash or a deliberate
	// non-ack on transient failure.
	Accept(ctx context.Context, handle Handle) error
}

// SenderFactory and ReceiverFactory let a dependency manager build
// per-worker transports without hard-coding a transport kind into the
// engine.
type SenderFactory interface {
	Sender(kind Kind) Sender
}

type ReceiverFactory interface {
	Receiver(kind Kind) Receiver
}
