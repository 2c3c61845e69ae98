package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
)

var errNoProvisioner = errors.New("meeting provider not configured")

// provision creates the meeting for a freshly PAID online booking. Every
// failure stays inside the meeting fields: the booking keeps its status and
// a follow-up attempt is queued until maxAttempts is reached.
func (r *Reconciler) provision(ctx context.Context, b *domain.Booking, attempt int) (Outcome, string) {
	ctx, span := tracer.Start(ctx, "ProvisionMeeting")
	defer span.End()

	m, err := r.createMeeting(ctx, b)
	if err != nil {
		span.RecordError(err)
		return r.meetingFailed(ctx, b, attempt, err.Error())
	}

	ok, err := r.store.SetMeeting(ctx, b.ID, repository.MeetingUpdate{Link: &m.JoinURL, Passcode: &m.Passcode, At: r.clock.Now()})
	if err != nil {
		// the meeting exists at the provider but the booking has no link
		span.RecordError(err)
		return r.meetingFailed(ctx, b, attempt, fmt.Sprintf("store meeting link: %v", err))
	}
	if !ok {
		log.Printf("[meeting] booking=%s left PAID before the link was stored; link=%s", b.ID, m.JoinURL)
		return OutcomeIgnored, ""
	}
	b.MeetingLink, b.MeetingPasscode, b.MeetingError = &m.JoinURL, &m.Passcode, nil
	log.Printf("[meeting] created booking=%s attempt=%d", b.ID, attempt)
	r.publish(ctx, events.RKMeetingCreated, events.MeetingCreated{BookingID: b.ID, JoinURL: m.JoinURL})
	return OutcomeMeetingCreated, ""
}

// meetingFailed records msg on the booking, best effort, announces the
// failure and queues the next attempt unless this was the last one.
func (r *Reconciler) meetingFailed(ctx context.Context, b *domain.Booking, attempt int, msg string) (Outcome, string) {
	if _, err := r.store.SetMeeting(ctx, b.ID, repository.MeetingUpdate{Error: &msg, At: r.clock.Now()}); err != nil {
		log.Printf("[meeting] record error booking=%s: %v", b.ID, err)
	}
	b.MeetingError = &msg

	gaveUp := attempt >= r.maxAttempts
	log.Printf("[meeting] create failed booking=%s attempt=%d/%d: %s", b.ID, attempt, r.maxAttempts, msg)
	r.publish(ctx, events.RKMeetingFailed, events.MeetingFailed{
		BookingID: b.ID, Error: msg, Attempt: attempt, GaveUp: gaveUp,
	})
	if !gaveUp {
		r.publish(ctx, events.RKMeetingProvision, events.MeetingProvision{BookingID: b.ID, Attempt: attempt + 1})
	}
	return OutcomeMeetingFailed, msg
}

func (r *Reconciler) createMeeting(ctx context.Context, b *domain.Booking) (m Meeting, err error) {
	if r.meetings == nil {
		return Meeting{}, errNoProvisioner
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("meeting provider panic: %v", p)
		}
	}()
	return r.meetings.CreateMeeting(ctx, MeetingRequest{
		Title:           fmt.Sprintf("Tutoring session: %s", b.SubjectID),
		StartTime:       b.StartAt,
		DurationMinutes: b.DurationMinutes(),
	})
}

// RetryMeeting runs a queued provisioning attempt. Bookings that are no longer
// PAID, are offline or already have a link are skipped.
func (r *Reconciler) RetryMeeting(ctx context.Context, bookingID string, attempt int) (Outcome, error) {
	b, err := r.store.ByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
		}
		return "", err
	}
	if b.Status != domain.StatusPaid || b.SessionType != domain.SessionOnline {
		return OutcomeIgnored, nil
	}
	if b.MeetingLink != nil {
		return OutcomeAlreadyProcessed, nil
	}
	if attempt < 1 {
		attempt = 1
	}
	out, _ := r.provision(ctx, b, attempt)
	return out, nil
}

func (r *Reconciler) publish(ctx context.Context, key string, data any) {
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishJSON(ctx, key, events.Wrap(key, r.clock.Now(), data)); err != nil {
		log.Printf("[meeting] publish %s: %v", key, err)
	}
}
