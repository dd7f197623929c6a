package engine

import "errors"

// Sentinel errors classifying failures by recovery strategy rather than by
// concrete type, matching the teacher's preference for wrapped fmt.Errorf
// chains over a custom error-code hierarchy.
var (
	// ErrRendezvousMismatch is returned by the new-event stage when an
	// armed step's declared event type does not match the event that
	// arrived for that instance. The event is dropped; the armed step is
	// left in place.
	ErrRendezvousMismatch = errors.New("engine: event type does not match the armed step's declared event type")

	// ErrNoArmedStep is returned by the new-event stage when an event
	// arrives for an instance with no rendezvous entry. Acknowledged
	// without side effects.
	ErrNoArmedStep = errors.New("engine: no armed step for instance")

	// ErrDomainConversion marks a project/workflow/step variant mismatch:
	// a step claims membership in a workflow that does not recognize it,
	// or a leaf type fails to narrow to the type its caller expected. This
	// is a programmer-class error, not a transient one.
	ErrDomainConversion = errors.New("engine: step/event variant does not belong to the resolved workflow")

	// ErrPoisonMessage marks a payload that failed to decode, or (in the
	// active-step stage) one whose step fails domain conversion. It is
	// routed to the dead-letter queue and, unlike a transient failure, must
	// be acknowledged on its source queue too — redelivering such a payload
	// only reproduces the same error forever.
	ErrPoisonMessage = errors.New("engine: payload could not be decoded")
)
