package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/you/tutorspool/pkg/clock"
	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
)

// Reconciliation errors. Each means the gateway and this service disagree
// and must reach an operator; retrying will not help.
var (
	ErrMissingBookingReference   = errors.New("payment event carries no booking reference")
	ErrBookingNotFound           = errors.New("payment event references an unknown booking")
	ErrInvalidEvent              = errors.New("invalid payment event")
	ErrPaymentBeforeConfirmation = errors.New("payment event for a booking that is not confirmed")
)

// IsHard reports whether err is a reconciliation error rather than a
// transient infrastructure failure.
func IsHard(err error) bool {
	return errors.Is(err, ErrMissingBookingReference) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrPaymentBeforeConfirmation)
}

type Outcome string

const (
	OutcomeMeetingCreated   Outcome = "MEETING_CREATED"
	OutcomeMeetingFailed    Outcome = "MEETING_FAILED"
	OutcomeNoMeetingNeeded  Outcome = "NO_MEETING_NEEDED"
	OutcomeFailedRecorded   Outcome = "FAILED_RECORDED"
	OutcomeRefunded         Outcome = "REFUNDED"
	OutcomeAlreadyProcessed Outcome = "ALREADY_PROCESSED"
	OutcomeIgnored          Outcome = "IGNORED"
)

type ReconciliationResult struct {
	Outcome      Outcome
	Booking      *domain.Booking
	MeetingError string
}

type Reconciler struct {
	store       BookingStore
	meetings    MeetingProvisioner
	pub         Publisher
	clock       clock.Clock
	maxAttempts int
}

func NewReconciler(store BookingStore, meetings MeetingProvisioner, pub Publisher, clk clock.Clock, maxAttempts int) *Reconciler {
	if clk == nil {
		clk = clock.System()
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Reconciler{store: store, meetings: meetings, pub: pub, clock: clk, maxAttempts: maxAttempts}
}

// consistent lists, per payment event, the statuses in which the event has
// already taken effect.
var consistent = map[domain.PaymentEventType][]domain.Status{
	domain.PaymentSucceeded: {domain.StatusPaid, domain.StatusCompleted, domain.StatusRefunded},
	domain.PaymentFailed:    {domain.StatusFailed},
	domain.PaymentRefunded:  {domain.StatusRefunded},
}

func alreadyApplied(t domain.PaymentEventType, s domain.Status) bool {
	for _, x := range consistent[t] {
		if x == s {
			return true
		}
	}
	return false
}

// Reconcile applies a payment notification to its booking. Redelivered events
// and replays against a settled booking are absorbed: they report
// OutcomeAlreadyProcessed or OutcomeIgnored with a nil error. An event for a
// PENDING booking is left unconsumed and fails with
// ErrPaymentBeforeConfirmation so it can be replayed once the tutor confirms.
func (r *Reconciler) Reconcile(ctx context.Context, ev domain.PaymentEvent) (res ReconciliationResult, err error) {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway_event_id", ev.GatewayEventID),
		attribute.String("booking_id", ev.BookingID),
		attribute.String("type", string(ev.Type)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.record(ctx, ev, res.Outcome, err)
	}()

	if err := ev.Validate(); err != nil {
		return ReconciliationResult{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.BookingID == "" {
		return ReconciliationResult{}, ErrMissingBookingReference
	}

	outcome := Outcome("")
	b, err := r.store.Mutate(ctx, ev.BookingID, func(tx repository.Tx, b *domain.Booking) error {
		seen, err := tx.EventConsumed(ev.GatewayEventID)
		if err != nil {
			return err
		}
		if seen {
			outcome = OutcomeAlreadyProcessed
			return repository.ErrNoop
		}
		now := r.clock.Now()
		mark := domain.ConsumedEvent{ID: ev.GatewayEventID, EventKey: string(ev.Type), BookingID: b.ID, ProcessedAt: now}

		if alreadyApplied(ev.Type, b.Status) {
			if ev.Type == domain.PaymentSucceeded && b.PaymentIntentID != nil && *b.PaymentIntentID != ev.PaymentIntentID {
				log.Printf("[reconcile] WARN booking=%s already paid by intent=%s, got intent=%s", b.ID, *b.PaymentIntentID, ev.PaymentIntentID)
			}
			outcome = OutcomeAlreadyProcessed
			return tx.MarkConsumed(mark)
		}

		if b.Status == domain.StatusPending {
			return fmt.Errorf("%w: booking=%s event=%s", ErrPaymentBeforeConfirmation, b.ID, ev.GatewayEventID)
		}
		if err := b.Apply(ev.Event(), now, ""); err != nil {
			log.Printf("[reconcile] ignoring event=%s booking=%s: %v", ev.GatewayEventID, b.ID, err)
			outcome = OutcomeIgnored
			return tx.MarkConsumed(mark)
		}

		switch ev.Type {
		case domain.PaymentSucceeded:
			intent := ev.PaymentIntentID
			b.PaymentIntentID = &intent
			b.PaidAt = &now
			if ev.AmountCents > 0 && b.PriceCents > 0 && ev.AmountCents != b.PriceCents {
				log.Printf("[reconcile] WARN amount mismatch booking=%s price=%d paid=%d", b.ID, b.PriceCents, ev.AmountCents)
			}
			outcome = OutcomeNoMeetingNeeded
		case domain.PaymentFailed:
			intent := ev.PaymentIntentID
			b.PaymentIntentID = &intent
			b.FailedAt = &now
			outcome = OutcomeFailedRecorded
		case domain.PaymentRefunded:
			outcome = OutcomeRefunded
		}
		return tx.MarkConsumed(mark)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ReconciliationResult{}, fmt.Errorf("%w: %s", ErrBookingNotFound, ev.BookingID)
		}
		return ReconciliationResult{}, err
	}

	res = ReconciliationResult{Outcome: outcome, Booking: b}
	switch outcome {
	case OutcomeAlreadyProcessed, OutcomeIgnored:
		log.Printf("[reconcile] event=%s booking=%s status=%s outcome=%s", ev.GatewayEventID, b.ID, b.Status, outcome)
		return res, nil
	case OutcomeFailedRecorded:
		publishBooking(ctx, r.pub, r.clock, events.RKBookingFailed, b)
	case OutcomeRefunded:
		publishBooking(ctx, r.pub, r.clock, events.RKBookingRefunded, b)
	case OutcomeNoMeetingNeeded:
		publishBooking(ctx, r.pub, r.clock, events.RKBookingPaid, b)
		if b.SessionType == domain.SessionOnline {
			res.Outcome, res.MeetingError = r.provision(ctx, b, 1)
		}
	}
	log.Printf("[reconcile] event=%s booking=%s status=%s outcome=%s", ev.GatewayEventID, b.ID, b.Status, res.Outcome)
	return res, nil
}

// record appends the event to the audit log. Failures here never affect the
// reconciliation result.
func (r *Reconciler) record(ctx context.Context, ev domain.PaymentEvent, outcome Outcome, err error) {
	payload, mErr := json.Marshal(ev)
	if mErr != nil {
		payload = []byte("{}")
	}
	rec := &domain.PaymentEventLog{
		GatewayEventID: ev.GatewayEventID,
		BookingID:      ev.BookingID,
		EventKey:       string(ev.Type),
		Outcome:        string(outcome),
		Payload:        datatypes.JSON(payload),
		ReceivedAt:     r.clock.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if lErr := r.store.LogPaymentEvent(context.WithoutCancel(ctx), rec); lErr != nil {
		log.Printf("[reconcile] audit log event=%s: %v", ev.GatewayEventID, lErr)
	}
}
