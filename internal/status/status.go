package status

import (
	"fmt"
	"slices"
)

// Status is the delivery status of a queued message.
type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Received  Status = "received"
	Failed    Status = "failed"
)

// Direction tells whether a message left this device or arrived on it.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// validTransitions defines the allowed status transitions. Statuses only
// move forward, with one exception: a failed message may be re-queued or
// marked sent by an explicit retry. Received is terminal.
var validTransitions = map[Status][]Status{
	Pending:   {Sent, Failed},
	Sent:      {Delivered, Failed},
	Delivered: {},
	Received:  {},
	Failed:    {Pending, Sent},
}

// InvalidTransitionError is returned when a status change would violate
// the transition rules.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Valid reports whether s is a known status value.
func Valid(s Status) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Transition validates a status change and returns an
// InvalidTransitionError if it is not allowed.
func Transition(from, to Status) error {
	if !Valid(to) {
		return fmt.Errorf("unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
