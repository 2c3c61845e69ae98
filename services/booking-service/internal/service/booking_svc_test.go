package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
)

func TestRequestBookingWorkingHours(t *testing.T) {
	h := newHarness(t, Options{})

	b, rej := h.request(t, "stu-1", at(10, 0), 60, domain.SessionOnline)
	if rej != nil {
		t.Fatalf("10:00 should be accepted, got %s", rej.Reason)
	}
	if b.Status != domain.StatusPending || !b.EndAt.Equal(at(11, 0)) {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.Currency != "THB" {
		t.Fatalf("currency not normalised: %q", b.Currency)
	}

	_, rej = h.request(t, "stu-1", at(6, 0), 60, domain.SessionOnline)
	if rej == nil || rej.Reason != ReasonOutsideHours {
		t.Fatalf("06:00 should be OUTSIDE_WORKING_HOURS, got %+v", rej)
	}
	if rej.Message == "" {
		t.Fatalf("rejection must carry a message")
	}

	// start bound is inclusive
	if _, rej = h.request(t, "stu-2", at(17, 0), 30, domain.SessionOffline); rej != nil {
		t.Fatalf("17:00 start should be accepted, got %s", rej.Reason)
	}
	// Tuesday has no block
	if _, rej = h.request(t, "stu-1", at(10, 0).Add(24*time.Hour), 60, domain.SessionOnline); rej == nil || rej.Reason != ReasonOutsideHours {
		t.Fatalf("tuesday should be outside hours, got %+v", rej)
	}
}

func TestRequestBookingRejectionReasons(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, rej, err := h.svc.RequestBooking(ctx, RequestBookingInput{
		TutorID: "tut-2", StudentID: "stu-1", SubjectID: "math",
		StartAt: at(10, 0), DurationMinutes: 60, SessionType: domain.SessionOnline,
	})
	if err != nil || rej == nil || rej.Reason != ReasonNoAvailability {
		t.Fatalf("expected NO_AVAILABILITY_CONFIGURED, got rej=%+v err=%v", rej, err)
	}

	_, rej, err = h.svc.RequestBooking(ctx, RequestBookingInput{
		TutorID: "tut-1", StudentID: "tut-1", SubjectID: "math",
		StartAt: at(10, 0), DurationMinutes: 60, SessionType: domain.SessionOnline,
	})
	if err != nil || rej == nil || rej.Reason != ReasonSamePerson {
		t.Fatalf("expected SAME_PERSON, got rej=%+v err=%v", rej, err)
	}

	_, rej = h.request(t, "stu-1", at(10, 0), 0, domain.SessionOnline)
	if rej == nil || rej.Reason != ReasonInvalidDuration {
		t.Fatalf("expected INVALID_DURATION, got %+v", rej)
	}
}

func TestRequestBookingRejectsOversizedDuration(t *testing.T) {
	h := newHarness(t, Options{})

	// large enough to overflow time.Duration if it were converted
	for _, minutes := range []int{MaxDurationMinutes + 1, 200_000_000} {
		b, rej := h.request(t, "stu-1", at(10, 0), minutes, domain.SessionOnline)
		if b != nil || rej == nil || rej.Reason != ReasonInvalidDuration {
			t.Fatalf("%d minutes: expected INVALID_DURATION, got b=%+v rej=%+v", minutes, b, rej)
		}
	}
	if _, n, err := h.repo.List(context.Background(), repository.ListQuery{TutorID: "tut-1"}); err != nil || n != 0 {
		t.Fatalf("rejected requests stored %d bookings (err=%v)", n, err)
	}

	// a full-length session still fits a day-long block
	h = newHarness(t, Options{})
	b, rej := h.request(t, "stu-1", at(9, 0), 8*60, domain.SessionOnline)
	if rej != nil || !b.EndAt.After(b.StartAt) {
		t.Fatalf("8h session: b=%+v rej=%+v", b, rej)
	}
}

func TestRequestBookingInvalidInput(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.svc.RequestBooking(context.Background(), RequestBookingInput{
		TutorID: "tut-1", StudentID: "stu-1", StartAt: at(10, 0), DurationMinutes: 60, SessionType: "HYBRID",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConflictDetectionPairScope(t *testing.T) {
	h := newHarness(t, Options{})
	h.confirmed(t, "stu-1", at(10, 0), 60, domain.SessionOnline)

	if _, rej := h.request(t, "stu-1", at(10, 30), 60, domain.SessionOnline); rej == nil || rej.Reason != ReasonConflict {
		t.Fatalf("[10:30,11:30) should conflict, got %+v", rej)
	}
	if _, rej := h.request(t, "stu-1", at(11, 0), 60, domain.SessionOnline); rej != nil {
		t.Fatalf("back-to-back slot should be accepted, got %s", rej.Reason)
	}
	if _, rej := h.request(t, "stu-1", at(9, 0), 180, domain.SessionOnline); rej == nil || rej.Reason != ReasonConflict {
		t.Fatalf("spanning request should conflict, got %+v", rej)
	}
	// pair scope does not see other students
	if _, rej := h.request(t, "stu-2", at(10, 0), 60, domain.SessionOnline); rej != nil {
		t.Fatalf("pair scope must ignore other students, got %s", rej.Reason)
	}
}

func TestConflictDetectionTutorScope(t *testing.T) {
	h := newHarness(t, Options{Scope: domain.ScopeTutor})
	h.confirmed(t, "stu-1", at(10, 0), 60, domain.SessionOnline)

	if _, rej := h.request(t, "stu-2", at(10, 30), 60, domain.SessionOnline); rej == nil || rej.Reason != ReasonConflict {
		t.Fatalf("tutor scope should see stu-1's booking, got %+v", rej)
	}
	if _, rej := h.request(t, "stu-2", at(11, 0), 60, domain.SessionOnline); rej != nil {
		t.Fatalf("back-to-back slot should be accepted, got %s", rej.Reason)
	}
}

func TestPendingBookingsDoNotConflict(t *testing.T) {
	h := newHarness(t, Options{})
	if _, rej := h.request(t, "stu-1", at(10, 0), 60, domain.SessionOnline); rej != nil {
		t.Fatalf("first request: %s", rej.Reason)
	}
	if _, rej := h.request(t, "stu-1", at(10, 0), 60, domain.SessionOnline); rej != nil {
		t.Fatalf("pending booking must not block a new request, got %s", rej.Reason)
	}
}

func TestConfirmRejectsWhenSlotTaken(t *testing.T) {
	h := newHarness(t, Options{})
	first, _ := h.request(t, "stu-1", at(10, 0), 60, domain.SessionOnline)
	second, _ := h.request(t, "stu-1", at(10, 30), 60, domain.SessionOnline)

	if _, err := h.svc.ConfirmBooking(context.Background(), first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}
	got, err := h.svc.ConfirmBooking(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("confirm second: %v", err)
	}
	if got.Status != domain.StatusRejected || got.StatusReason != string(ReasonConflict) {
		t.Fatalf("expected REJECTED/CONFLICTING_BOOKING, got %s/%s", got.Status, got.StatusReason)
	}
	if h.pub.count(events.RKBookingRejected) != 1 {
		t.Fatalf("expected a booking.rejected event")
	}
}

func TestConfirmRejectsWhenHoursChanged(t *testing.T) {
	h := newHarness(t, Options{})
	b, _ := h.request(t, "stu-1", at(10, 0), 60, domain.SessionOnline)

	err := h.svc.SetAvailability(context.Background(), "tut-1", []domain.AvailabilityBlock{{
		DayOfWeek: time.Monday, StartTime: domain.NewTimeOfDay(13, 0), EndTime: domain.NewTimeOfDay(17, 0), Recurring: true,
	}})
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
	got, err := h.svc.ConfirmBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Status != domain.StatusRejected || got.StatusReason != string(ReasonOutsideHours) {
		t.Fatalf("expected REJECTED/OUTSIDE_WORKING_HOURS, got %s/%s", got.Status, got.StatusReason)
	}
}

func TestConcurrentConfirmationsAdmitOne(t *testing.T) {
	h := newHarness(t, Options{})
	var ids []string
	for i := 0; i < 8; i++ {
		b, rej := h.request(t, "stu-1", at(10, 0), 60, domain.SessionOnline)
		if rej != nil {
			t.Fatalf("request %d rejected: %s", i, rej.Reason)
		}
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.svc.ConfirmBooking(context.Background(), id); err != nil {
				t.Errorf("confirm %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	confirmed := 0
	for _, id := range ids {
		b, _ := h.repo.ByID(context.Background(), id)
		if b.Status == domain.StatusConfirmed {
			confirmed++
		}
	}
	if confirmed != 1 {
		t.Fatalf("expected exactly one confirmed booking, got %d", confirmed)
	}
}

func TestIllegalTransitionsLeaveStatus(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	b := h.confirmed(t, "stu-1", at(10, 0), 60, domain.SessionOffline)
	if _, err := h.svc.HandlePaymentEvent(ctx, succeeded("evt_1", b.ID)); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := h.svc.CompleteBooking(ctx, b.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := h.svc.ConfirmBooking(ctx, b.ID)
	var ite *domain.IllegalTransitionError
	if !errors.As(err, &ite) || ite.From != domain.StatusCompleted {
		t.Fatalf("COMPLETED -> CONFIRMED should be illegal, got %v", err)
	}
	mustStatus(t, h, b.ID, domain.StatusCompleted)

	c, _ := h.request(t, "stu-2", at(12, 0), 60, domain.SessionOffline)
	if _, err := h.svc.CancelBooking(ctx, c.ID, "changed plans"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res, err := h.svc.HandlePaymentEvent(ctx, succeeded("evt_2", c.ID))
	if err != nil || res.Outcome != OutcomeIgnored {
		t.Fatalf("payment on a cancelled booking should be ignored, got %s / %v", res.Outcome, err)
	}
	mustStatus(t, h, c.ID, domain.StatusCancelled)
}

func TestCancelPaidMustRefund(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	b := h.confirmed(t, "stu-1", at(10, 0), 60, domain.SessionOffline)
	if _, err := h.svc.HandlePaymentEvent(ctx, succeeded("evt_1", b.ID)); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := h.svc.CancelBooking(ctx, b.ID, ""); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("PAID -> CANCELLED must be illegal, got %v", err)
	}
	mustStatus(t, h, b.ID, domain.StatusPaid)
}

func TestGetUnknownBooking(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.svc.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.svc.ConfirmBooking(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on confirm, got %v", err)
	}
}

func TestCompleteElapsed(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	early := h.confirmed(t, "stu-1", at(10, 0), 60, domain.SessionOffline)
	late := h.confirmed(t, "stu-2", at(15, 0), 60, domain.SessionOffline)
	for i, id := range []string{early.ID, late.ID} {
		if _, err := h.svc.HandlePaymentEvent(ctx, succeeded("evt_"+id, id)); err != nil {
			t.Fatalf("payment %d: %v", i, err)
		}
	}

	h.clock.Set(at(12, 0))
	n, err := h.svc.CompleteElapsed(ctx, 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one completion, got %d", n)
	}
	mustStatus(t, h, early.ID, domain.StatusCompleted)
	mustStatus(t, h, late.ID, domain.StatusPaid)
}

func TestSetAvailabilityValidates(t *testing.T) {
	h := newHarness(t, Options{})
	err := h.svc.SetAvailability(context.Background(), "tut-1", []domain.AvailabilityBlock{{
		DayOfWeek: time.Monday, StartTime: domain.NewTimeOfDay(17, 0), EndTime: domain.NewTimeOfDay(9, 0), Recurring: true,
	}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	blocks, _ := h.svc.Availability(context.Background(), "tut-1")
	if len(blocks) != 1 || blocks[0].StartTime != domain.NewTimeOfDay(9, 0) {
		t.Fatalf("invalid replace must keep the old blocks, got %+v", blocks)
	}
}
