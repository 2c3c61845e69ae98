package domain

import (
	"github.com/go-playground/validator/v10"
)

type PaymentEventType string

const (
	PaymentSucceeded PaymentEventType = "SUCCEEDED"
	PaymentFailed    PaymentEventType = "FAILED"
	PaymentRefunded  PaymentEventType = "REFUNDED"
)

// PaymentEvent is a gateway notification already authenticated by the
// transport. BookingID is checked separately from the shape so its absence
// can be reported as a missing reference.
type PaymentEvent struct {
	GatewayEventID  string           `json:"gateway_event_id" validate:"required"`
	Type            PaymentEventType `json:"type" validate:"required,oneof=SUCCEEDED FAILED REFUNDED"`
	PaymentIntentID string           `json:"payment_intent_id" validate:"required"`
	BookingID       string           `json:"booking_id"`
	AmountCents     int64            `json:"amount_cents" validate:"gte=0"`
	Currency        string           `json:"currency" validate:"omitempty,len=3"`
}

var validate = validator.New()

func (e PaymentEvent) Validate() error {
	return validate.Struct(e)
}

// Event returns the lifecycle event a payment notification drives.
func (e PaymentEvent) Event() Event {
	switch e.Type {
	case PaymentSucceeded:
		return EventPaymentSucceeded
	case PaymentFailed:
		return EventPaymentFailed
	case PaymentRefunded:
		return EventRefund
	}
	return ""
}
