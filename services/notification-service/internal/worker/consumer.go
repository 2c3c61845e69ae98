package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/services/notification-service/internal/notifier"
)

// errMalformed marks payloads that will never decode; they are dead-lettered.
var errMalformed = errors.New("malformed payload")

type Source interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

type Consumer struct {
	src      Source
	notifier notifier.Notifier
}

func NewConsumer(src Source, n notifier.Notifier) *Consumer {
	return &Consumer{src: src, notifier: n}
}

// Run blocks until ctx is done or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.src.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.dispatch(d)
		}
	}
}

func (c *Consumer) dispatch(d amqp.Delivery) {
	err := c.handleDelivery(d)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformed):
		log.Printf("[notify] key=%s %v -> dead-letter", d.RoutingKey, err)
		_ = d.Nack(false, false)
	default:
		log.Printf("[notify] handle error key=%s err=%v -> Nack&requeue", d.RoutingKey, err)
		_ = d.Nack(false, true)
	}
}

func decode[T any](b []byte) (T, error) {
	env, err := events.Decode[T](b)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return env.Data, nil
}

var bookingSubjects = map[string]string{
	events.RKBookingCreated:   "Booking Requested",
	events.RKBookingConfirmed: "Booking Confirmed",
	events.RKBookingRejected:  "Booking Rejected",
	events.RKBookingCancelled: "Booking Cancelled",
	events.RKBookingPaid:      "Booking Paid",
	events.RKBookingFailed:    "Payment Failed",
	events.RKBookingCompleted: "Session Completed",
	events.RKBookingRefunded:  "Booking Refunded",
}

func (c *Consumer) handleDelivery(d amqp.Delivery) error {
	key := d.RoutingKey

	if subject, ok := bookingSubjects[key]; ok {
		ev, err := decode[events.BookingChanged](d.Body)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Booking %s (tutor=%s student=%s) %s is now %s.",
			ev.BookingID, ev.TutorID, ev.StudentID, notifier.SessionRange(ev.Start, ev.End), ev.Status)
		if ev.Reason != "" {
			msg += " Reason: " + ev.Reason
		}
		return c.notifier.Notify(subject, msg)
	}

	switch key {
	case events.RKPaymentSucceeded, events.RKPaymentFailed, events.RKPaymentRefunded:
		ev, err := decode[events.PaymentOutcome](d.Body)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Booking %s: %s via %s (%s).",
			ev.BookingID, notifier.Money(ev.Amount, ev.Currency), ev.Gateway, ev.PaymentIntentID)
		if ev.Reason != "" {
			msg += " Reason: " + ev.Reason
		}
		return c.notifier.Notify("Payment "+key[len("payment."):], msg)

	case events.RKMeetingCreated:
		ev, err := decode[events.MeetingCreated](d.Body)
		if err != nil {
			return err
		}
		return c.notifier.Notify("Meeting Ready",
			fmt.Sprintf("Booking %s: join at %s", ev.BookingID, ev.JoinURL))

	case events.RKMeetingFailed:
		ev, err := decode[events.MeetingFailed](d.Body)
		if err != nil {
			return err
		}
		if !ev.GaveUp {
			// retries are still pending; only the final failure needs a human
			return nil
		}
		return c.notifier.Notify("Meeting Link Unavailable",
			fmt.Sprintf("Booking %s: no meeting after %d attempts (%s). Please arrange the session manually.",
				ev.BookingID, ev.Attempt, ev.Error))

	default:
		log.Printf("[notify] skip unknown key=%s", key)
	}
	return nil
}
