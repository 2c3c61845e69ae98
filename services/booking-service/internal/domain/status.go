package domain

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPaid      Status = "PAID"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusRefunded  Status = "REFUNDED"
	StatusFailed    Status = "FAILED"
)

// Event is what asks a booking to move. Callers never set Status directly.
type Event string

const (
	EventConfirm          Event = "confirm"
	EventReject           Event = "reject"
	EventCancel           Event = "cancel"
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventComplete         Event = "complete"
	EventRefund           Event = "refund"
)

var ErrIllegalTransition = errors.New("illegal transition")

// IllegalTransitionError names the edge that was attempted.
type IllegalTransitionError struct {
	From  Status
	To    Status
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s (%s)", e.From, e.To, e.Event)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// transitions is the whole lifecycle. A PAID booking is never cancelled
// directly; it has to be refunded.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventConfirm: StatusConfirmed,
		EventReject:  StatusRejected,
		EventCancel:  StatusCancelled,
	},
	StatusConfirmed: {
		EventPaymentSucceeded: StatusPaid,
		EventPaymentFailed:    StatusFailed,
		EventCancel:           StatusCancelled,
	},
	StatusPaid: {
		EventComplete: StatusCompleted,
		EventRefund:   StatusRefunded,
	},
}

var eventTarget = map[Event]Status{
	EventConfirm:          StatusConfirmed,
	EventReject:           StatusRejected,
	EventCancel:           StatusCancelled,
	EventPaymentSucceeded: StatusPaid,
	EventPaymentFailed:    StatusFailed,
	EventComplete:         StatusCompleted,
	EventRefund:           StatusRefunded,
}

// Transition maps (current, event) to the next status.
func Transition(from Status, ev Event) (Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, &IllegalTransitionError{From: from, To: eventTarget[ev], Event: ev}
}

// TargetOf returns the status an event would lead to.
func TargetOf(ev Event) Status { return eventTarget[ev] }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPaid, StatusRejected,
		StatusCancelled, StatusCompleted, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded, StatusRejected, StatusFailed:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return st, nil
}
