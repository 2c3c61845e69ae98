package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionLegalEdges(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
	}{
		{StatusPending, EventConfirm, StatusConfirmed},
		{StatusPending, EventReject, StatusRejected},
		{StatusPending, EventCancel, StatusCancelled},
		{StatusConfirmed, EventPaymentSucceeded, StatusPaid},
		{StatusConfirmed, EventPaymentFailed, StatusFailed},
		{StatusConfirmed, EventCancel, StatusCancelled},
		{StatusPaid, EventComplete, StatusCompleted},
		{StatusPaid, EventRefund, StatusRefunded},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.ev)
		if err != nil {
			t.Fatalf("%s --%s--> unexpected error: %v", c.from, c.ev, err)
		}
		if got != c.to {
			t.Fatalf("%s --%s--> got %s, want %s", c.from, c.ev, got, c.to)
		}
	}
}

func TestTransitionIllegalEdges(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
	}{
		{StatusCompleted, EventConfirm},
		{StatusCancelled, EventPaymentSucceeded},
		{StatusPaid, EventCancel},
		{StatusPending, EventPaymentSucceeded},
		{StatusPending, EventComplete},
		{StatusConfirmed, EventConfirm},
		{StatusFailed, EventPaymentSucceeded},
		{StatusRefunded, EventRefund},
		{StatusRejected, EventConfirm},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.ev)
		if err == nil {
			t.Fatalf("%s --%s--> expected error, got %s", c.from, c.ev, got)
		}
		if got != c.from {
			t.Fatalf("status changed on illegal transition: %s -> %s", c.from, got)
		}
		var ite *IllegalTransitionError
		if !errors.As(err, &ite) || !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("expected IllegalTransitionError, got %T", err)
		}
		if ite.From != c.from || ite.To != TargetOf(c.ev) {
			t.Fatalf("error names wrong edge: %v", ite)
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	all := []Event{EventConfirm, EventReject, EventCancel, EventPaymentSucceeded, EventPaymentFailed, EventComplete, EventRefund}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusRefunded, StatusRejected, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		for _, ev := range all {
			if _, err := Transition(s, ev); err == nil {
				t.Fatalf("terminal %s accepted %s", s, ev)
			}
		}
	}
}

func TestBookingApplyLeavesStatusOnError(t *testing.T) {
	at := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	b := &Booking{Status: StatusCompleted, UpdatedAt: at}
	if err := b.Apply(EventConfirm, at.Add(time.Hour), ""); err == nil {
		t.Fatalf("expected illegal transition")
	}
	if b.Status != StatusCompleted || !b.UpdatedAt.Equal(at) {
		t.Fatalf("booking mutated on illegal transition: %+v", b)
	}

	b = &Booking{Status: StatusPending}
	if err := b.Apply(EventReject, at, "tutor unavailable"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if b.Status != StatusRejected || b.StatusReason != "tutor unavailable" || !b.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected booking after reject: %+v", b)
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("PAID"); err != nil {
		t.Fatalf("parse PAID: %v", err)
	}
	if _, err := ParseStatus("paid"); err == nil {
		t.Fatalf("expected error for lower-case status")
	}
}
