package repository

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/tutorspool/services/booking-service/internal/domain"
)

var (
	ErrNotFound = errors.New("booking not found")
	ErrOverlap  = errors.New("slot_overlapped")
	// ErrNoop, returned from a MutateFunc, rolls the transaction back and
	// hands the unchanged booking to the caller without an error.
	ErrNoop = errors.New("no change")
)

// OverlapQuery finds bookings in Statuses that overlap [Start, End).
// An empty StudentID widens the query to every booking of the tutor.
type OverlapQuery struct {
	TutorID   string
	StudentID string
	Start     time.Time
	End       time.Time
	Statuses  []domain.Status
	ExcludeID string
}

func NewOverlapQuery(scope domain.ConflictScope, b *domain.Booking) OverlapQuery {
	q := OverlapQuery{
		TutorID:   b.TutorID,
		StudentID: b.StudentID,
		Start:     b.StartAt,
		End:       b.EndAt,
		Statuses:  domain.CommittedStatuses,
		ExcludeID: b.ID,
	}
	if scope == domain.ScopeTutor {
		q.StudentID = ""
	}
	return q
}

// Tx is what a MutateFunc may do inside the booking's transaction.
type Tx interface {
	// LockTutor serializes with CreateWithNoOverlap for the same tutor.
	LockTutor(tutorID string) error
	Overlapping(q OverlapQuery) ([]domain.Booking, error)
	EventConsumed(id string) (bool, error)
	MarkConsumed(ev domain.ConsumedEvent) error
}

type MutateFunc func(tx Tx, b *domain.Booking) error

type MeetingUpdate struct {
	Link     *string
	Passcode *string
	Error    *string
	At       time.Time
}

type ListQuery struct {
	Page      int
	Size      int
	StudentID string
	TutorID   string
	Status    domain.Status
	Day       *time.Time
}

type BookingRepo struct{ db *gorm.DB }

func NewBookingRepo(db *gorm.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

func (r *BookingRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Booking{}, &domain.ConsumedEvent{}, &domain.PaymentEventLog{}, &domain.AvailabilityBlock{})
}

// CreateWithNoOverlap inserts b unless a committed booking in scope overlaps
// it. The per-tutor advisory lock makes check-then-insert atomic across
// concurrent requests.
func (r *BookingRepo) CreateWithNoOverlap(ctx context.Context, b *domain.Booking, scope domain.ConflictScope) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g := &gormTx{tx: tx}
		if err := g.LockTutor(b.TutorID); err != nil {
			return err
		}
		found, err := g.Overlapping(NewOverlapQuery(scope, b))
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return ErrOverlap
		}
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		return tx.Create(b).Error
	})
	return mapPgError(err)
}

func (r *BookingRepo) ByID(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) ListByPair(ctx context.Context, studentID, tutorID string) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND tutor_id = ?", studentID, tutorID).
		Order("start_at ASC").
		Find(&out).Error
	return out, err
}

// ListByTutor returns the tutor's bookings that touch [from, to).
func (r *BookingRepo) ListByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("tutor_id = ?", tutorID).
		Where("start_at < ? AND end_at > ?", to, from).
		Order("start_at ASC").
		Find(&out).Error
	return out, err
}

// Mutate locks the booking row, hands it to fn and saves the result in the
// same transaction. The row lock is the unit of mutual exclusion for
// confirmations, cancellations and payment reconciliation.
func (r *BookingRepo) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Booking, error) {
	var out domain.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		before := out
		if err := fn(&gormTx{tx: tx}, &out); err != nil {
			return err
		}
		if reflect.DeepEqual(before, out) {
			return nil
		}
		return tx.Save(&out).Error
	})
	if errors.Is(err, ErrNoop) {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetMeeting writes meeting fields while the booking is still PAID. It reports
// whether a row was updated.
func (r *BookingRepo) SetMeeting(ctx context.Context, id string, m MeetingUpdate) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ? AND status = ?", id, domain.StatusPaid).
		Updates(map[string]any{
			"meeting_link":       m.Link,
			"meeting_passcode":   m.Passcode,
			"meeting_link_error": m.Error,
			"updated_at":         m.At,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *BookingRepo) List(ctx context.Context, q ListQuery) ([]domain.Booking, int64, error) {
	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Page < 0 {
		q.Page = 0
	}
	qb := r.db.WithContext(ctx).Model(&domain.Booking{})
	if q.StudentID != "" {
		qb = qb.Where("student_id = ?", q.StudentID)
	}
	if q.TutorID != "" {
		qb = qb.Where("tutor_id = ?", q.TutorID)
	}
	if q.Status != "" {
		qb = qb.Where("status = ?", q.Status)
	}
	if q.Day != nil {
		from := time.Date(q.Day.Year(), q.Day.Month(), q.Day.Day(), 0, 0, 0, 0, time.UTC)
		to := from.Add(24 * time.Hour)
		qb = qb.Where("start_at < ? AND end_at > ?", to, from)
	}
	var total int64
	if err := qb.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Booking
	if err := qb.Order("start_at ASC").Limit(q.Size).Offset(q.Page * q.Size).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListElapsed returns PAID bookings whose session ended at or before t.
func (r *BookingRepo) ListElapsed(ctx context.Context, t time.Time, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_at <= ?", domain.StatusPaid, t).
		Order("end_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *BookingRepo) LogPaymentEvent(ctx context.Context, rec *domain.PaymentEventLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

type gormTx struct{ tx *gorm.DB }

func (g *gormTx) LockTutor(tutorID string) error {
	return g.tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "tutor:"+tutorID).Error
}

func (g *gormTx) Overlapping(q OverlapQuery) ([]domain.Booking, error) {
	qb := g.tx.Model(&domain.Booking{}).
		Where("tutor_id = ? AND status IN ?", q.TutorID, q.Statuses).
		Where("start_at < ? AND end_at > ?", q.End, q.Start)
	if q.StudentID != "" {
		qb = qb.Where("student_id = ?", q.StudentID)
	}
	if q.ExcludeID != "" {
		qb = qb.Where("id <> ?", q.ExcludeID)
	}
	var out []domain.Booking
	err := qb.Find(&out).Error
	return out, err
}

func (g *gormTx) EventConsumed(id string) (bool, error) {
	var n int64
	if err := g.tx.Model(&domain.ConsumedEvent{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *gormTx) MarkConsumed(ev domain.ConsumedEvent) error {
	return g.tx.Create(&ev).Error
}

// mapPgError turns constraint violations raised by a concurrent writer into
// ErrOverlap.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01", "23505": // exclusion_violation, unique_violation
			return ErrOverlap
		}
	}
	return err
}
