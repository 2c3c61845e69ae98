package consumer

import (
	"context"
	"log"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/pkg/mq"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/service"
)

// PaymentHandler is satisfied by *service.BookingSvc.
type PaymentHandler interface {
	HandlePaymentEvent(ctx context.Context, ev domain.PaymentEvent) (service.ReconciliationResult, error)
}

var paymentTypes = map[string]domain.PaymentEventType{
	events.RKPaymentSucceeded: domain.PaymentSucceeded,
	events.RKPaymentFailed:    domain.PaymentFailed,
	events.RKPaymentRefunded:  domain.PaymentRefunded,
}

type PaymentConsumer struct {
	svc  PaymentHandler
	cons *mq.Consumer
}

func NewPaymentConsumer(svc PaymentHandler, cons *mq.Consumer) *PaymentConsumer {
	return &PaymentConsumer{svc: svc, cons: cons}
}

func (pc *PaymentConsumer) Run(ctx context.Context) error {
	msgs, err := pc.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			pc.handle(ctx, d)
		}
	}()
	return nil
}

// handle acks what was applied or absorbed, requeues transient failures and
// dead-letters malformed or unreconcilable events.
func (pc *PaymentConsumer) handle(ctx context.Context, d amqp.Delivery) {
	typ, ok := paymentTypes[d.RoutingKey]
	if !ok {
		_ = d.Ack(false)
		return
	}
	env, err := events.Decode[events.PaymentOutcome](d.Body)
	if err != nil {
		log.Printf("[booking-consumer] %v", err)
		_ = d.Nack(false, false)
		return
	}
	ev := domain.PaymentEvent{
		GatewayEventID:  env.Data.GatewayEventID,
		Type:            typ,
		PaymentIntentID: env.Data.PaymentIntentID,
		BookingID:       env.Data.BookingID,
		AmountCents:     env.Data.Amount,
		Currency:        strings.ToUpper(env.Data.Currency),
	}
	if ev.GatewayEventID == "" {
		ev.GatewayEventID = d.MessageId
	}

	res, err := pc.svc.HandlePaymentEvent(ctx, ev)
	switch {
	case err == nil:
		log.Printf("[booking-consumer] %s booking=%s outcome=%s", d.RoutingKey, ev.BookingID, res.Outcome)
		_ = d.Ack(false)
	case service.IsHard(err):
		log.Printf("[booking-consumer] ALERT gateway/booking desync event=%s gateway=%s: %v", ev.GatewayEventID, env.Data.Gateway, err)
		_ = d.Nack(false, false)
	default:
		log.Printf("[booking-consumer] reconcile error event=%s: %v", ev.GatewayEventID, err)
		_ = d.Nack(false, true)
	}
}
