package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/you/tutorspool/pkg/clock"
	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/pkg/obs"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
)

var tracer = obs.Tracer("booking-service")

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("booking not found")
)

type Options struct {
	Scope              domain.ConflictScope
	MeetingMaxAttempts int
}

type BookingSvc struct {
	store      BookingStore
	avail      AvailabilityStore
	resolver   *Resolver
	reconciler *Reconciler
	pub        Publisher
	clock      clock.Clock
	scope      domain.ConflictScope
}

func NewBookingSvc(store BookingStore, avail AvailabilityStore, pub Publisher, meetings MeetingProvisioner, clk clock.Clock, opts Options) *BookingSvc {
	if clk == nil {
		clk = clock.System()
	}
	checker := NewConflictChecker(store, opts.Scope)
	s := &BookingSvc{
		store:    store,
		avail:    avail,
		resolver: NewResolver(avail, checker),
		pub:      pub,
		clock:    clk,
		scope:    checker.Scope(),
	}
	s.reconciler = NewReconciler(store, meetings, pub, clk, opts.MeetingMaxAttempts)
	return s
}

type RequestBookingInput struct {
	TutorID         string
	StudentID       string
	SubjectID       string
	StartAt         time.Time
	DurationMinutes int
	SessionType     domain.SessionType
	PriceCents      int64
	Currency        string
}

func (in RequestBookingInput) validate() error {
	var missing []string
	if in.TutorID == "" {
		missing = append(missing, "tutor_id")
	}
	if in.StudentID == "" {
		missing = append(missing, "student_id")
	}
	if in.SubjectID == "" {
		missing = append(missing, "subject_id")
	}
	if in.StartAt.IsZero() {
		missing = append(missing, "start_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if !in.SessionType.Valid() {
		return fmt.Errorf("%w: session_type must be ONLINE or OFFLINE", ErrInvalidInput)
	}
	if in.PriceCents < 0 {
		return fmt.Errorf("%w: price_cents must not be negative", ErrInvalidInput)
	}
	return nil
}

// RequestBooking resolves the slot and, when accepted, stores a PENDING
// booking. Business rejections come back as *Rejection with a nil error.
func (s *BookingSvc) RequestBooking(ctx context.Context, in RequestBookingInput) (*domain.Booking, *Rejection, error) {
	ctx, span := tracer.Start(ctx, "RequestBooking")
	defer span.End()
	span.SetAttributes(attribute.String("tutor_id", in.TutorID), attribute.String("student_id", in.StudentID))

	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	start := in.StartAt.UTC()

	d, err := s.resolver.Resolve(ctx, in.TutorID, in.StudentID, start, in.DurationMinutes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve")
		return nil, nil, err
	}
	if !d.Accepted {
		span.SetAttributes(attribute.String("rejection", string(d.Reason)))
		return nil, reject(d.Reason), nil
	}

	now := s.clock.Now()
	b := &domain.Booking{
		StudentID:   in.StudentID,
		TutorID:     in.TutorID,
		SubjectID:   in.SubjectID,
		StartAt:     start,
		EndAt:       start.Add(time.Duration(in.DurationMinutes) * time.Minute),
		Status:      domain.StatusPending,
		PriceCents:  in.PriceCents,
		Currency:    strings.ToUpper(in.Currency),
		SessionType: in.SessionType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !b.EndAt.After(b.StartAt) {
		return nil, reject(ReasonInvalidDuration), nil
	}
	if err := s.store.CreateWithNoOverlap(ctx, b, s.scope); err != nil {
		if errors.Is(err, repository.ErrOverlap) {
			// lost the race against a concurrent writer
			return nil, reject(ReasonConflict), nil
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("create booking: %w", err)
	}

	log.Printf("[booking] created id=%s tutor=%s student=%s start=%s", b.ID, b.TutorID, b.StudentID, b.StartAt.Format(time.RFC3339))
	s.publish(ctx, events.RKBookingCreated, b)
	return b, nil, nil
}

// ConfirmBooking moves PENDING to CONFIRMED. Availability and conflicts are
// checked again under the tutor lock; a failed re-check rejects the booking
// instead and the REJECTED booking is returned without an error.
func (s *BookingSvc) ConfirmBooking(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "ConfirmBooking")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", id))

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := domain.Transition(cur.Status, domain.EventConfirm); err != nil {
		return nil, err
	}
	hours, err := s.resolver.checkHours(ctx, cur.TutorID, cur.StartAt)
	if err != nil {
		return nil, err
	}

	ev := domain.EventConfirm
	b, err := s.store.Mutate(ctx, id, func(tx repository.Tx, b *domain.Booking) error {
		now := s.clock.Now()
		if _, err := domain.Transition(b.Status, domain.EventConfirm); err != nil {
			return err
		}
		if !hours.Accepted {
			ev = domain.EventReject
			return b.Apply(ev, now, string(hours.Reason))
		}
		if err := tx.LockTutor(b.TutorID); err != nil {
			return err
		}
		found, err := tx.Overlapping(repository.NewOverlapQuery(s.scope, b))
		if err != nil {
			return err
		}
		if len(found) > 0 {
			ev = domain.EventReject
			return b.Apply(ev, now, string(ReasonConflict))
		}
		return b.Apply(ev, now, "")
	})
	if err != nil {
		return nil, s.mapStoreErr(err)
	}

	if ev == domain.EventReject {
		log.Printf("[booking] rejected at confirmation id=%s reason=%s", b.ID, b.StatusReason)
		s.publish(ctx, events.RKBookingRejected, b)
		return b, nil
	}
	log.Printf("[booking] confirmed id=%s", b.ID)
	s.publish(ctx, events.RKBookingConfirmed, b)
	return b, nil
}

func (s *BookingSvc) RejectBooking(ctx context.Context, id, reason string) (*domain.Booking, error) {
	return s.transition(ctx, id, domain.EventReject, reason, events.RKBookingRejected)
}

// CancelBooking withdraws a PENDING or CONFIRMED booking. A PAID booking has
// to be refunded instead.
func (s *BookingSvc) CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error) {
	return s.transition(ctx, id, domain.EventCancel, reason, events.RKBookingCancelled)
}

func (s *BookingSvc) CompleteBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.transition(ctx, id, domain.EventComplete, "", events.RKBookingCompleted)
}

// CompleteElapsed completes PAID bookings whose session has ended. Bookings
// that moved on concurrently are skipped.
func (s *BookingSvc) CompleteElapsed(ctx context.Context, limit int) (int, error) {
	due, err := s.store.ListElapsed(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, b := range due {
		_, err := s.transition(ctx, b.ID, domain.EventComplete, "session ended", events.RKBookingCompleted)
		if errors.Is(err, domain.ErrIllegalTransition) {
			continue
		}
		if err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (s *BookingSvc) transition(ctx context.Context, id string, ev domain.Event, reason, key string) (*domain.Booking, error) {
	b, err := s.store.Mutate(ctx, id, func(_ repository.Tx, b *domain.Booking) error {
		return b.Apply(ev, s.clock.Now(), reason)
	})
	if err != nil {
		err = s.mapStoreErr(err)
		if errors.Is(err, domain.ErrIllegalTransition) {
			log.Printf("[booking] %v id=%s", err, id)
		}
		return nil, err
	}
	log.Printf("[booking] %s id=%s status=%s", ev, b.ID, b.Status)
	s.publish(ctx, key, b)
	return b, nil
}

// HandlePaymentEvent reconciles a gateway notification with its booking.
func (s *BookingSvc) HandlePaymentEvent(ctx context.Context, ev domain.PaymentEvent) (ReconciliationResult, error) {
	return s.reconciler.Reconcile(ctx, ev)
}

// RetryMeeting runs a queued provisioning attempt for a PAID online booking.
func (s *BookingSvc) RetryMeeting(ctx context.Context, bookingID string, attempt int) (Outcome, error) {
	return s.reconciler.RetryMeeting(ctx, bookingID, attempt)
}

func (s *BookingSvc) Get(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	return b, nil
}

func (s *BookingSvc) List(ctx context.Context, q repository.ListQuery) ([]domain.Booking, int64, error) {
	return s.store.List(ctx, q)
}

func (s *BookingSvc) Availability(ctx context.Context, tutorID string) ([]domain.AvailabilityBlock, error) {
	return s.avail.BlocksFor(ctx, tutorID)
}

// SetAvailability replaces a tutor's weekly blocks after validating each one.
func (s *BookingSvc) SetAvailability(ctx context.Context, tutorID string, blocks []domain.AvailabilityBlock) error {
	if tutorID == "" {
		return fmt.Errorf("%w: missing tutor_id", ErrInvalidInput)
	}
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrInvalidInput, i, err)
		}
	}
	return s.avail.ReplaceBlocks(ctx, tutorID, blocks)
}

func (s *BookingSvc) mapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BookingSvc) publish(ctx context.Context, key string, b *domain.Booking) {
	publishBooking(ctx, s.pub, s.clock, key, b)
}

func publishBooking(ctx context.Context, pub Publisher, clk clock.Clock, key string, b *domain.Booking) {
	if pub == nil {
		return
	}
	msg := events.Wrap(key, clk.Now(), events.BookingChanged{
		BookingID: b.ID,
		StudentID: b.StudentID,
		TutorID:   b.TutorID,
		SubjectID: b.SubjectID,
		Status:    string(b.Status),
		Start:     b.StartAt.Unix(),
		End:       b.EndAt.Unix(),
		Reason:    b.StatusReason,
	})
	if err := pub.PublishJSON(ctx, key, msg); err != nil {
		log.Printf("[booking] publish %s id=%s: %v", key, b.ID, err)
	}
}
