package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Routing keys shared by the payment, booking and notification services.
const (
	RKPaymentSucceeded = "payment.succeeded"
	RKPaymentFailed    = "payment.failed"
	RKPaymentRefunded  = "payment.refunded"

	RKBookingCreated   = "booking.created"
	RKBookingConfirmed = "booking.confirmed"
	RKBookingRejected  = "booking.rejected"
	RKBookingCancelled = "booking.cancelled"
	RKBookingPaid      = "booking.paid"
	RKBookingFailed    = "booking.failed"
	RKBookingCompleted = "booking.completed"
	RKBookingRefunded  = "booking.refunded"

	RKMeetingCreated   = "meeting.created"
	RKMeetingFailed    = "meeting.failed"
	RKMeetingProvision = "meeting.provision"
)

// Envelope wraps every message published on the exchanges.
type Envelope[T any] struct {
	Event      string `json:"event"`
	Version    int    `json:"version"`
	OccurredAt string `json:"occurred_at"` // RFC3339
	Data       T      `json:"data"`
}

func Wrap[T any](key string, at time.Time, data T) Envelope[T] {
	return Envelope[T]{Event: key, Version: 1, OccurredAt: at.UTC().Format(time.RFC3339), Data: data}
}

// PaymentOutcome is what payment-service publishes after it has verified a
// gateway notification.
type PaymentOutcome struct {
	GatewayEventID  string `json:"gateway_event_id"`
	Gateway         string `json:"gateway"` // omise|midtrans
	PaymentIntentID string `json:"payment_intent_id"`
	BookingID       string `json:"booking_id"`
	Amount          int64  `json:"amount"` // smallest currency unit
	Currency        string `json:"currency"`
	Reason          string `json:"reason,omitempty"`
}

type BookingChanged struct {
	BookingID string `json:"booking_id"`
	StudentID string `json:"student_id"`
	TutorID   string `json:"tutor_id"`
	SubjectID string `json:"subject_id"`
	Status    string `json:"status"`
	Start     int64  `json:"start"` // unix seconds
	End       int64  `json:"end"`
	Reason    string `json:"reason,omitempty"`
}

type MeetingCreated struct {
	BookingID string `json:"booking_id"`
	JoinURL   string `json:"join_url"`
}

type MeetingFailed struct {
	BookingID string `json:"booking_id"`
	Error     string `json:"error"`
	Attempt   int    `json:"attempt"`
	GaveUp    bool   `json:"gave_up"`
}

// MeetingProvision is the follow-up task queued when inline provisioning failed.
type MeetingProvision struct {
	BookingID string `json:"booking_id"`
	Attempt   int    `json:"attempt"`
}

func Decode[T any](b []byte) (Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope[T]{}, fmt.Errorf("decode payload failed: %w", err)
	}
	return env, nil
}
