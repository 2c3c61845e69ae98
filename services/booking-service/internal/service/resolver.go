package service

import (
	"context"
	"fmt"
	"time"

	"github.com/you/tutorspool/services/booking-service/internal/domain"
)

type RejectionReason string

const (
	ReasonNoAvailability  RejectionReason = "NO_AVAILABILITY_CONFIGURED"
	ReasonOutsideHours    RejectionReason = "OUTSIDE_WORKING_HOURS"
	ReasonConflict        RejectionReason = "CONFLICTING_BOOKING"
	ReasonSamePerson      RejectionReason = "SAME_PERSON"
	ReasonInvalidDuration RejectionReason = "INVALID_DURATION"
)

var reasonMessages = map[RejectionReason]string{
	ReasonNoAvailability:  "tutor has not configured any availability",
	ReasonOutsideHours:    "requested time is outside the tutor's working hours",
	ReasonConflict:        "an existing confirmed booking overlaps the requested time",
	ReasonSamePerson:      "student and tutor must be different people",
	ReasonInvalidDuration: "duration must be between 1 and 1440 minutes",
}

// MaxDurationMinutes caps a single session at one day.
const MaxDurationMinutes = 24 * 60

// Rejection is an expected business outcome, returned as a value.
type Rejection struct {
	Reason  RejectionReason `json:"reason"`
	Message string          `json:"message"`
}

func reject(r RejectionReason) *Rejection {
	return &Rejection{Reason: r, Message: reasonMessages[r]}
}

type Decision struct {
	Accepted bool
	Reason   RejectionReason
}

func accepted() Decision { return Decision{Accepted: true} }
func rejected(r RejectionReason) Decision { return Decision{Reason: r} }

type bookingReader interface {
	ListByPair(ctx context.Context, studentID, tutorID string) ([]domain.Booking, error)
	ListByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]domain.Booking, error)
}

// ConflictChecker looks for committed bookings overlapping a candidate slot.
type ConflictChecker struct {
	store bookingReader
	scope domain.ConflictScope
}

func NewConflictChecker(store bookingReader, scope domain.ConflictScope) *ConflictChecker {
	if scope == "" {
		scope = domain.ScopePair
	}
	return &ConflictChecker{store: store, scope: scope}
}

func (c *ConflictChecker) Scope() domain.ConflictScope { return c.scope }

func (c *ConflictChecker) HasConflict(ctx context.Context, tutorID, studentID string, start, end time.Time) (bool, error) {
	var (
		existing []domain.Booking
		err      error
	)
	if c.scope == domain.ScopeTutor {
		existing, err = c.store.ListByTutor(ctx, tutorID, start, end)
	} else {
		existing, err = c.store.ListByPair(ctx, studentID, tutorID)
	}
	if err != nil {
		return false, fmt.Errorf("load bookings: %w", err)
	}
	for _, b := range existing {
		if !domain.IsCommitted(b.Status) {
			continue
		}
		if domain.Overlaps(start, end, b.StartAt, b.EndAt) {
			return true, nil
		}
	}
	return false, nil
}

type blockReader interface {
	BlocksFor(ctx context.Context, tutorID string) ([]domain.AvailabilityBlock, error)
}

// Resolver decides whether a requested slot may become a booking.
type Resolver struct {
	blocks    blockReader
	conflicts *ConflictChecker
}

func NewResolver(blocks blockReader, conflicts *ConflictChecker) *Resolver {
	return &Resolver{blocks: blocks, conflicts: conflicts}
}

func (r *Resolver) Resolve(ctx context.Context, tutorID, studentID string, start time.Time, durationMinutes int) (Decision, error) {
	if tutorID == studentID {
		return rejected(ReasonSamePerson), nil
	}
	if durationMinutes <= 0 || durationMinutes > MaxDurationMinutes {
		return rejected(ReasonInvalidDuration), nil
	}

	d, err := r.checkHours(ctx, tutorID, start)
	if err != nil || !d.Accepted {
		return d, err
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	conflict, err := r.conflicts.HasConflict(ctx, tutorID, studentID, start, end)
	if err != nil {
		return Decision{}, err
	}
	if conflict {
		return rejected(ReasonConflict), nil
	}
	return accepted(), nil
}

// checkHours is the availability half of Resolve, reused at confirmation.
func (r *Resolver) checkHours(ctx context.Context, tutorID string, start time.Time) (Decision, error) {
	blocks, err := r.blocks.BlocksFor(ctx, tutorID)
	if err != nil {
		return Decision{}, fmt.Errorf("load availability: %w", err)
	}
	sched := domain.NewSchedule(blocks)
	if sched.Empty() {
		return rejected(ReasonNoAvailability), nil
	}
	if !sched.IsOpen(start) {
		return rejected(ReasonOutsideHours), nil
	}
	return accepted(), nil
}
