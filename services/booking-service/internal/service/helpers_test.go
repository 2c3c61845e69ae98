package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you/tutorspool/pkg/clock"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
)

// monday is 2025-03-03, a Monday.
var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

type fakeMeetings struct {
	mu    sync.Mutex
	calls []MeetingRequest
	err   error
	panic bool
}

func (f *fakeMeetings) CreateMeeting(ctx context.Context, req MeetingRequest) (Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.panic {
		panic("provider exploded")
	}
	if f.err != nil {
		return Meeting{}, f.err
	}
	return Meeting{JoinURL: "https://meet.example/j/123", Passcode: "4242"}, nil
}

func (f *fakeMeetings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePub struct {
	mu   sync.Mutex
	keys []string
	msgs []any
}

func (p *fakePub) PublishJSON(ctx context.Context, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.msgs = append(p.msgs, v)
	return nil
}

func (p *fakePub) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

type harness struct {
	svc      *BookingSvc
	repo     *repository.MemoryRepo
	meetings *fakeMeetings
	pub      *fakePub
	clock    *clock.Fixed
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		repo:     repository.NewMemoryRepo(),
		meetings: &fakeMeetings{},
		pub:      &fakePub{},
		clock:    clock.NewFixed(monday.Add(-24 * time.Hour)),
	}
	h.svc = NewBookingSvc(h.repo, h.repo, h.pub, h.meetings, h.clock, opts)
	err := h.svc.SetAvailability(context.Background(), "tut-1", []domain.AvailabilityBlock{{
		DayOfWeek: time.Monday,
		StartTime: domain.NewTimeOfDay(9, 0),
		EndTime:   domain.NewTimeOfDay(17, 0),
		Recurring: true,
	}})
	if err != nil {
		t.Fatalf("seed availability: %v", err)
	}
	return h
}

func (h *harness) request(t *testing.T, student string, start time.Time, minutes int, st domain.SessionType) (*domain.Booking, *Rejection) {
	t.Helper()
	b, rej, err := h.svc.RequestBooking(context.Background(), RequestBookingInput{
		TutorID:         "tut-1",
		StudentID:       student,
		SubjectID:       "math",
		StartAt:         start,
		DurationMinutes: minutes,
		SessionType:     st,
		PriceCents:      50000,
		Currency:        "thb",
	})
	if err != nil {
		t.Fatalf("request booking: %v", err)
	}
	return b, rej
}

// confirmed creates and confirms a booking, failing the test on rejection.
func (h *harness) confirmed(t *testing.T, student string, start time.Time, minutes int, st domain.SessionType) *domain.Booking {
	t.Helper()
	b, rej := h.request(t, student, start, minutes, st)
	if rej != nil {
		t.Fatalf("unexpected rejection %s", rej.Reason)
	}
	b, err := h.svc.ConfirmBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if b.Status != domain.StatusConfirmed {
		t.Fatalf("confirm ended in %s (%s)", b.Status, b.StatusReason)
	}
	return b
}

func succeeded(eventID, bookingID string) domain.PaymentEvent {
	return domain.PaymentEvent{
		GatewayEventID:  eventID,
		Type:            domain.PaymentSucceeded,
		PaymentIntentID: "chrg_1",
		BookingID:       bookingID,
		AmountCents:     50000,
		Currency:        "THB",
	}
}

func mustStatus(t *testing.T, h *harness, id string, want domain.Status) *domain.Booking {
	t.Helper()
	b, err := h.repo.ByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	if b.Status != want {
		t.Fatalf("booking %s status = %s, want %s", id, b.Status, want)
	}
	return b
}

var errProvider = errors.New("provider timeout")
