package consumer

import (
	"context"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/pkg/mq"
	"github.com/you/tutorspool/services/booking-service/internal/service"
)

type MeetingRetrier interface {
	RetryMeeting(ctx context.Context, bookingID string, attempt int) (service.Outcome, error)
}

// MeetingConsumer works the meeting.provision queue.
type MeetingConsumer struct {
	svc     MeetingRetrier
	cons    *mq.Consumer
	backoff func(attempt int) time.Duration
}

func NewMeetingConsumer(svc MeetingRetrier, cons *mq.Consumer) *MeetingConsumer {
	return &MeetingConsumer{svc: svc, cons: cons, backoff: Backoff}
}

// Backoff grows quadratically from 2s and caps at one minute.
func Backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 2 * time.Second
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func (mc *MeetingConsumer) Run(ctx context.Context) error {
	msgs, err := mc.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			mc.handle(ctx, d)
		}
	}()
	return nil
}

func (mc *MeetingConsumer) handle(ctx context.Context, d amqp.Delivery) {
	if d.RoutingKey != events.RKMeetingProvision {
		_ = d.Ack(false)
		return
	}
	env, err := events.Decode[events.MeetingProvision](d.Body)
	if err != nil || env.Data.BookingID == "" {
		log.Printf("[meeting-consumer] bad payload: %v", err)
		_ = d.Nack(false, false)
		return
	}

	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	case <-time.After(mc.backoff(env.Data.Attempt)):
	}

	out, err := mc.svc.RetryMeeting(ctx, env.Data.BookingID, env.Data.Attempt)
	switch {
	case err == nil:
		log.Printf("[meeting-consumer] booking=%s attempt=%d outcome=%s", env.Data.BookingID, env.Data.Attempt, out)
		_ = d.Ack(false)
	case service.IsHard(err):
		log.Printf("[meeting-consumer] dropping task booking=%s: %v", env.Data.BookingID, err)
		_ = d.Nack(false, false)
	default:
		log.Printf("[meeting-consumer] retry error booking=%s: %v", env.Data.BookingID, err)
		_ = d.Nack(false, true)
	}
}
