package service

import (
	"context"
	"time"

	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
)

// BookingStore is satisfied by repository.BookingRepo and repository.MemoryRepo.
type BookingStore interface {
	CreateWithNoOverlap(ctx context.Context, b *domain.Booking, scope domain.ConflictScope) error
	ByID(ctx context.Context, id string) (*domain.Booking, error)
	ListByPair(ctx context.Context, studentID, tutorID string) ([]domain.Booking, error)
	ListByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]domain.Booking, error)
	Mutate(ctx context.Context, id string, fn repository.MutateFunc) (*domain.Booking, error)
	SetMeeting(ctx context.Context, id string, m repository.MeetingUpdate) (bool, error)
	List(ctx context.Context, q repository.ListQuery) ([]domain.Booking, int64, error)
	ListElapsed(ctx context.Context, t time.Time, limit int) ([]domain.Booking, error)
	LogPaymentEvent(ctx context.Context, rec *domain.PaymentEventLog) error
}

type AvailabilityStore interface {
	BlocksFor(ctx context.Context, tutorID string) ([]domain.AvailabilityBlock, error)
	ReplaceBlocks(ctx context.Context, tutorID string, blocks []domain.AvailabilityBlock) error
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type MeetingRequest struct {
	Title           string
	StartTime       time.Time
	DurationMinutes int
}

type Meeting struct {
	JoinURL  string
	Passcode string
}

// MeetingProvisioner creates an online meeting. It may fail or time out; the
// caller treats any error as soft.
type MeetingProvisioner interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (Meeting, error)
}
