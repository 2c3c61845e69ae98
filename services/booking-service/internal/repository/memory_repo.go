package repository

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/tutorspool/services/booking-service/internal/domain"
)

// MemoryRepo is an in-process store with the same locking contract as the
// gorm repositories: every write runs under one mutex, so Mutate and
// CreateWithNoOverlap are atomic.
type MemoryRepo struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	blocks   map[string][]domain.AvailabilityBlock
	consumed map[string]domain.ConsumedEvent
	logs     []domain.PaymentEventLog
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		bookings: map[string]domain.Booking{},
		blocks:   map[string][]domain.AvailabilityBlock{},
		consumed: map[string]domain.ConsumedEvent{},
	}
}

func (m *MemoryRepo) CreateWithNoOverlap(ctx context.Context, b *domain.Booking, scope domain.ConflictScope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if found := m.overlapping(NewOverlapQuery(scope, b)); len(found) > 0 {
		return ErrOverlap
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, dup := m.bookings[b.ID]; dup {
		return ErrOverlap
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryRepo) ByID(ctx context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemoryRepo) ListByPair(ctx context.Context, studentID, tutorID string) ([]domain.Booking, error) {
	return m.filter(func(b domain.Booking) bool {
		return b.StudentID == studentID && b.TutorID == tutorID
	}), nil
}

func (m *MemoryRepo) ListByTutor(ctx context.Context, tutorID string, from, to time.Time) ([]domain.Booking, error) {
	return m.filter(func(b domain.Booking) bool {
		return b.TutorID == tutorID && b.StartAt.Before(to) && b.EndAt.After(from)
	}), nil
}

func (m *MemoryRepo) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := cur
	tx := &memTx{m: m}
	err := fn(tx, &work)
	if errors.Is(err, ErrNoop) {
		return &work, nil
	}
	if err != nil {
		return nil, err
	}
	for _, ev := range tx.pending {
		m.consumed[ev.ID] = ev
	}
	if !reflect.DeepEqual(cur, work) {
		m.bookings[id] = work
	}
	return &work, nil
}

func (m *MemoryRepo) SetMeeting(ctx context.Context, id string, u MeetingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != domain.StatusPaid {
		return false, nil
	}
	b.MeetingLink, b.MeetingPasscode, b.MeetingError = u.Link, u.Passcode, u.Error
	b.UpdatedAt = u.At
	m.bookings[id] = b
	return true, nil
}

func (m *MemoryRepo) List(ctx context.Context, q ListQuery) ([]domain.Booking, int64, error) {
	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Page < 0 {
		q.Page = 0
	}
	all := m.filter(func(b domain.Booking) bool {
		if q.StudentID != "" && b.StudentID != q.StudentID {
			return false
		}
		if q.TutorID != "" && b.TutorID != q.TutorID {
			return false
		}
		if q.Status != "" && b.Status != q.Status {
			return false
		}
		if q.Day != nil {
			from := time.Date(q.Day.Year(), q.Day.Month(), q.Day.Day(), 0, 0, 0, 0, time.UTC)
			if !b.StartAt.Before(from.Add(24*time.Hour)) || !b.EndAt.After(from) {
				return false
			}
		}
		return true
	})
	total := int64(len(all))
	lo := q.Page * q.Size
	if lo > len(all) {
		lo = len(all)
	}
	hi := lo + q.Size
	if hi > len(all) {
		hi = len(all)
	}
	return all[lo:hi], total, nil
}

func (m *MemoryRepo) ListElapsed(ctx context.Context, t time.Time, limit int) ([]domain.Booking, error) {
	out := m.filter(func(b domain.Booking) bool {
		return b.Status == domain.StatusPaid && !b.EndAt.After(t)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) LogPaymentEvent(ctx context.Context, rec *domain.PaymentEventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.logs = append(m.logs, *rec)
	return nil
}

func (m *MemoryRepo) PaymentEventLogs() []domain.PaymentEventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PaymentEventLog(nil), m.logs...)
}

func (m *MemoryRepo) BlocksFor(ctx context.Context, tutorID string) ([]domain.AvailabilityBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AvailabilityBlock(nil), m.blocks[tutorID]...), nil
}

func (m *MemoryRepo) ReplaceBlocks(ctx context.Context, tutorID string, blocks []domain.AvailabilityBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.AvailabilityBlock, len(blocks))
	for i, b := range blocks {
		b.TutorID = tutorID
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		cp[i] = b
	}
	m.blocks[tutorID] = cp
	return nil
}

func (m *MemoryRepo) filter(keep func(domain.Booking) bool) []domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

// overlapping expects m.mu to be held.
func (m *MemoryRepo) overlapping(q OverlapQuery) []domain.Booking {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.TutorID != q.TutorID || b.ID == q.ExcludeID {
			continue
		}
		if q.StudentID != "" && b.StudentID != q.StudentID {
			continue
		}
		if !statusIn(b.Status, q.Statuses) {
			continue
		}
		if domain.Overlaps(q.Start, q.End, b.StartAt, b.EndAt) {
			out = append(out, b)
		}
	}
	return out
}

func statusIn(s domain.Status, set []domain.Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

// memTx runs with MemoryRepo.mu held; ledger writes apply only on commit.
type memTx struct {
	m       *MemoryRepo
	pending []domain.ConsumedEvent
}

func (t *memTx) LockTutor(string) error { return nil }

func (t *memTx) Overlapping(q OverlapQuery) ([]domain.Booking, error) {
	return t.m.overlapping(q), nil
}

func (t *memTx) EventConsumed(id string) (bool, error) {
	if _, ok := t.m.consumed[id]; ok {
		return true, nil
	}
	for _, ev := range t.pending {
		if ev.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) MarkConsumed(ev domain.ConsumedEvent) error {
	t.pending = append(t.pending, ev)
	return nil
}
