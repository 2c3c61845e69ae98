package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeOfDay is minutes since UTC midnight, 0..1440. It travels as "HH:MM".
type TimeOfDay int

const minutesPerDay = 24 * 60

func NewTimeOfDay(h, m int) TimeOfDay { return TimeOfDay(h*60 + m) }

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, errH := strconv.Atoi(s[:2])
	m, errM := strconv.Atoi(s[3:])
	if errH != nil || errM != nil || h < 0 || m < 0 || m > 59 || h*60+m > minutesPerDay {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return NewTimeOfDay(h, m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("time of day must be a string, got %s", b)
	}
	v, err := ParseTimeOfDay(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type AvailabilityBlock struct {
	ID        string       `gorm:"primaryKey" json:"id"`
	TutorID   string       `gorm:"index" json:"tutor_id"`
	DayOfWeek time.Weekday `gorm:"column:day_of_week" json:"day_of_week"` // 0 = Sunday
	StartTime TimeOfDay    `gorm:"column:start_minute" json:"start_time"`
	EndTime   TimeOfDay    `gorm:"column:end_minute" json:"end_time"`
	Recurring bool         `json:"recurring"`
	CreatedAt time.Time    `json:"-"`
}

func (AvailabilityBlock) TableName() string { return "tutor_availability_blocks" }

var (
	ErrInvalidBlockDay   = errors.New("day_of_week must be 0..6")
	ErrInvalidBlockRange = errors.New("start_time must be before end_time")
)

func (b AvailabilityBlock) Validate() error {
	if b.DayOfWeek < time.Sunday || b.DayOfWeek > time.Saturday {
		return ErrInvalidBlockDay
	}
	if b.StartTime < 0 || b.EndTime > minutesPerDay || b.StartTime >= b.EndTime {
		return ErrInvalidBlockRange
	}
	return nil
}

// Contains reports whether instant falls inside a recurring block. Only the
// instant is checked, so a session may run past the block's end. Both bounds
// are inclusive.
func (b AvailabilityBlock) Contains(instant time.Time) bool {
	if !b.Recurring {
		return false
	}
	u := instant.UTC()
	if u.Weekday() != b.DayOfWeek {
		return false
	}
	sec := u.Hour()*3600 + u.Minute()*60 + u.Second()
	return int(b.StartTime)*60 <= sec && sec <= int(b.EndTime)*60
}

// Schedule is a tutor's weekly availability, grouped by weekday.
type Schedule struct {
	byDay map[time.Weekday][]AvailabilityBlock
	n     int
}

func NewSchedule(blocks []AvailabilityBlock) Schedule {
	s := Schedule{byDay: make(map[time.Weekday][]AvailabilityBlock, 7)}
	for _, b := range blocks {
		s.byDay[b.DayOfWeek] = append(s.byDay[b.DayOfWeek], b)
		s.n++
	}
	return s
}

func (s Schedule) Empty() bool { return s.n == 0 }

func (s Schedule) IsOpen(instant time.Time) bool {
	for _, b := range s.byDay[instant.UTC().Weekday()] {
		if b.Contains(instant) {
			return true
		}
	}
	return false
}

// Overlaps is the three-way half-open interval test: a starts inside b, a ends
// inside b, or a spans b. Back-to-back intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	startsInside := !aStart.Before(bStart) && aStart.Before(bEnd)
	endsInside := aEnd.After(bStart) && !aEnd.After(bEnd)
	spans := !aStart.After(bStart) && !aEnd.Before(bEnd)
	return startsInside || endsInside || spans
}

// ConflictScope selects which confirmed bookings can block a new request.
type ConflictScope string

const (
	// ScopePair only considers bookings between the same student and tutor.
	ScopePair ConflictScope = "pair"
	// ScopeTutor considers every confirmed booking of the tutor.
	ScopeTutor ConflictScope = "tutor"
)

func ParseConflictScope(s string) (ConflictScope, error) {
	switch ConflictScope(s) {
	case ScopePair, ScopeTutor:
		return ConflictScope(s), nil
	}
	return "", fmt.Errorf("unknown conflict scope %q", s)
}

// CommittedStatuses are the statuses that occupy a slot for conflict checks.
var CommittedStatuses = []Status{StatusConfirmed}

func IsCommitted(s Status) bool {
	for _, c := range CommittedStatuses {
		if s == c {
			return true
		}
	}
	return false
}
