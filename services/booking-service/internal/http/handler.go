package httpx

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/pkg/middlewares"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
	"github.com/you/tutorspool/services/booking-service/internal/service"
)

// BookingAPI is satisfied by *service.BookingSvc.
type BookingAPI interface {
	RequestBooking(ctx context.Context, in service.RequestBookingInput) (*domain.Booking, *service.Rejection, error)
	ConfirmBooking(ctx context.Context, id string) (*domain.Booking, error)
	RejectBooking(ctx context.Context, id, reason string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error)
	CompleteBooking(ctx context.Context, id string) (*domain.Booking, error)
	Get(ctx context.Context, id string) (*domain.Booking, error)
	List(ctx context.Context, q repository.ListQuery) ([]domain.Booking, int64, error)
	Availability(ctx context.Context, tutorID string) ([]domain.AvailabilityBlock, error)
	SetAvailability(ctx context.Context, tutorID string, blocks []domain.AvailabilityBlock) error
}

type BookingHandler struct {
	svc BookingAPI
}

func NewBookingHandler(svc BookingAPI) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// POST /v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var in struct {
		TutorID         string `json:"tutor_id" binding:"required"`
		StudentID       string `json:"student_id"` // ADMIN only; defaults to the caller
		SubjectID       string `json:"subject_id" binding:"required"`
		StartISO        string `json:"start_iso" binding:"required"` // RFC3339
		DurationMinutes int    `json:"duration_minutes" binding:"gt=0,lte=1440"`
		SessionType     string `json:"session_type" binding:"required,oneof=ONLINE OFFLINE"`
		PriceCents      int64  `json:"price_cents" binding:"gte=0"`
		Currency        string `json:"currency" binding:"omitempty,len=3"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := time.Parse(time.RFC3339, in.StartISO)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_iso must be RFC3339"})
		return
	}
	student := c.GetString("sub")
	if c.GetString("role") == auth.RoleAdmin && in.StudentID != "" {
		student = in.StudentID
	}

	b, rej, err := h.svc.RequestBooking(c.Request.Context(), service.RequestBookingInput{
		TutorID:         in.TutorID,
		StudentID:       student,
		SubjectID:       in.SubjectID,
		StartAt:         start,
		DurationMinutes: in.DurationMinutes,
		SessionType:     domain.SessionType(in.SessionType),
		PriceCents:      in.PriceCents,
		Currency:        in.Currency,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	if rej != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "booking rejected", "reason": rej.Reason, "message": rej.Message})
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GET /v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b)
}

// GET /v1/bookings?page=1&page_size=20&tutor_id=...&status=...&day=2006-01-02
// Students and tutors only see their own bookings.
func (h *BookingHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	q := repository.ListQuery{
		Page:      page - 1,
		Size:      size,
		StudentID: c.Query("student_id"),
		TutorID:   c.Query("tutor_id"),
	}
	switch c.GetString("role") {
	case auth.RoleStudent:
		q.StudentID = c.GetString("sub")
	case auth.RoleTutor:
		q.TutorID = c.GetString("sub")
	}
	if s := c.Query("status"); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.Status = st
	}
	if d := c.Query("day"); d != "" {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		q.Day = &day
	}

	items, total, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "page_size": q.Size})
}

// POST /v1/bookings/:id/confirm (tutor of the booking or ADMIN)
func (h *BookingHandler) Confirm(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if !isParty(c, b.TutorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	h.respond(c)(h.svc.ConfirmBooking(c.Request.Context(), b.ID))
}

// POST /v1/bookings/:id/reject (tutor of the booking or ADMIN)
func (h *BookingHandler) Reject(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if !isParty(c, b.TutorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	h.respond(c)(h.svc.RejectBooking(c.Request.Context(), b.ID, reasonFrom(c)))
}

// POST /v1/bookings/:id/cancel (either party or ADMIN)
func (h *BookingHandler) Cancel(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if !isParty(c, b.StudentID, b.TutorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	h.respond(c)(h.svc.CancelBooking(c.Request.Context(), b.ID, reasonFrom(c)))
}

// POST /v1/bookings/:id/complete (tutor of the booking or ADMIN)
func (h *BookingHandler) Complete(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if !isParty(c, b.TutorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	h.respond(c)(h.svc.CompleteBooking(c.Request.Context(), b.ID))
}

type blockDTO struct {
	DayOfWeek int              `json:"day_of_week" binding:"gte=0,lte=6"`
	StartTime domain.TimeOfDay `json:"start_time"`
	EndTime   domain.TimeOfDay `json:"end_time"`
	Recurring *bool            `json:"recurring"`
}

// GET /v1/tutors/:id/availability
func (h *BookingHandler) GetAvailability(c *gin.Context) {
	blocks, err := h.svc.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tutor_id": c.Param("id"), "blocks": blocks})
}

// PUT /v1/tutors/:id/availability (the tutor or ADMIN)
func (h *BookingHandler) PutAvailability(c *gin.Context) {
	tutorID := c.Param("id")
	if !isParty(c, tutorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var in struct {
		Blocks []blockDTO `json:"blocks" binding:"dive"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	blocks := make([]domain.AvailabilityBlock, 0, len(in.Blocks))
	for _, b := range in.Blocks {
		recurring := true
		if b.Recurring != nil {
			recurring = *b.Recurring
		}
		blocks = append(blocks, domain.AvailabilityBlock{
			TutorID:   tutorID,
			DayOfWeek: time.Weekday(b.DayOfWeek),
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Recurring: recurring,
		})
	}
	if err := h.svc.SetAvailability(c.Request.Context(), tutorID, blocks); err != nil {
		writeErr(c, err)
		return
	}
	h.GetAvailability(c)
}

func (h *BookingHandler) load(c *gin.Context) (*domain.Booking, bool) {
	b, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return nil, false
	}
	if !isParty(c, b.StudentID, b.TutorID) {
		// do not leak existence to strangers
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrNotFound.Error()})
		return nil, false
	}
	return b, true
}

func (h *BookingHandler) respond(c *gin.Context) func(*domain.Booking, error) {
	return func(b *domain.Booking, err error) {
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// isParty reports whether the caller is ADMIN or one of ids.
func isParty(c *gin.Context, ids ...string) bool {
	if c.GetString("role") == auth.RoleAdmin {
		return true
	}
	sub := c.GetString("sub")
	for _, id := range ids {
		if id == sub {
			return true
		}
	}
	return false
}

func reasonFrom(c *gin.Context) string {
	var in struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&in)
	return in.Reason
}

func writeErr(c *gin.Context, err error) {
	var ite *domain.IllegalTransitionError
	switch {
	case errors.As(err, &ite):
		c.JSON(http.StatusConflict, gin.H{"error": "illegal transition", "from": ite.From, "to": ite.To, "event": ite.Event})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		log.Printf("[booking] request_id=%s internal error: %v", middlewares.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
