package domain

import (
	"time"

	"gorm.io/datatypes"
)

type SessionType string

const (
	SessionOnline  SessionType = "ONLINE"
	SessionOffline SessionType = "OFFLINE"
)

func (t SessionType) Valid() bool { return t == SessionOnline || t == SessionOffline }

type Booking struct {
	ID              string      `gorm:"primaryKey" json:"id"`
	StudentID       string      `gorm:"index:idx_booking_pair,priority:1" json:"student_id"`
	TutorID         string      `gorm:"index:idx_booking_pair,priority:2;index:idx_booking_tutor_time,priority:1" json:"tutor_id"`
	SubjectID       string      `json:"subject_id"`
	StartAt         time.Time   `gorm:"index:idx_booking_tutor_time,priority:2" json:"start_at"`
	EndAt           time.Time   `json:"end_at"`
	Status          Status      `gorm:"index;size:16" json:"status"`
	StatusReason    string      `json:"status_reason,omitempty"`
	PriceCents      int64       `json:"price_cents"`
	Currency        string      `gorm:"size:3" json:"currency"`
	SessionType     SessionType `gorm:"size:8" json:"session_type"`
	MeetingLink     *string     `json:"meeting_link,omitempty"`
	MeetingPasscode *string     `json:"meeting_passcode,omitempty"`
	MeetingError    *string     `gorm:"column:meeting_link_error" json:"meeting_link_error,omitempty"`
	PaymentIntentID *string     `gorm:"index" json:"payment_intent_id,omitempty"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
	FailedAt        *time.Time  `json:"failed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (b *Booking) DurationMinutes() int {
	return int(b.EndAt.Sub(b.StartAt) / time.Minute)
}

// Apply moves the booking along ev. On error nothing on b changes.
func (b *Booking) Apply(ev Event, at time.Time, reason string) error {
	to, err := Transition(b.Status, ev)
	if err != nil {
		return err
	}
	b.Status = to
	b.UpdatedAt = at
	if reason != "" {
		b.StatusReason = reason
	}
	return nil
}

// ConsumedEvent records a gateway event id that has already been applied.
type ConsumedEvent struct {
	ID          string `gorm:"primaryKey"` // gateway event id
	EventKey    string `gorm:"index"`
	BookingID   string `gorm:"index"`
	ProcessedAt time.Time
}

// PaymentEventLog keeps every inbound payment event for replay and audit.
type PaymentEventLog struct {
	ID             string         `gorm:"primaryKey"`
	GatewayEventID string         `gorm:"index"`
	BookingID      string         `gorm:"index"`
	EventKey       string
	Outcome        string
	Error          string
	Payload        datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt     time.Time
}
