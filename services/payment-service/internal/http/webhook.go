package httpx

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/omise/omise-go"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/pkg/middlewares"
	midtranscli "github.com/you/tutorspool/services/payment-service/internal/midtrans"
	omisecli "github.com/you/tutorspool/services/payment-service/internal/omise"
	"github.com/you/tutorspool/services/payment-service/internal/service"
)

// PaymentAPI is satisfied by *service.PaymentSvc.
type PaymentAPI interface {
	CreateCharge(ctx context.Context, in omisecli.ChargeInput) (*omise.Charge, error)
	GetCharge(id string) (*omise.Charge, error)
	Refund(ctx context.Context, chargeID string, amount int64) (*omise.Refund, error)
	HandleOmiseEvent(ctx context.Context, eventID string) (string, error)
	CreateMidtransCheckout(ctx context.Context, bookingID string, amount int64, email string) (midtranscli.Checkout, error)
	HandleMidtransNotification(ctx context.Context, n midtranscli.Notification) (string, error)
}

type Server struct {
	svc PaymentAPI
}

func NewRouter(svc PaymentAPI, signer *auth.Signer) *gin.Engine {
	s := &Server{svc: svc}
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestID(), middlewares.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/webhooks/omise", s.OmiseWebhook)
	r.POST("/webhooks/midtrans", s.MidtransWebhook)
	r.GET("/payments/return", s.Return)

	v1 := r.Group("/v1")
	v1.Use(middlewares.JWTAuth(signer))
	{
		v1.POST("/charges", middlewares.RequireRole(auth.RoleStudent, auth.RoleAdmin), s.CreateCharge)
		v1.POST("/charges/midtrans", middlewares.RequireRole(auth.RoleStudent, auth.RoleAdmin), s.CreateMidtransCheckout)
		v1.GET("/charges/:id", s.GetCharge)
		v1.POST("/refunds", middlewares.RequireRole(auth.RoleAdmin), s.Refund)
	}
	return r
}

type incomingEvent struct {
	ID  string `json:"id" binding:"required"`
	Key string `json:"key"`
}

// POST /webhooks/omise
// The body is untrusted; only the event id is used and the event itself is
// fetched from Omise.
func (s *Server) OmiseWebhook(c *gin.Context) {
	var inc incomingEvent
	if err := c.ShouldBindJSON(&inc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	key, err := s.svc.HandleOmiseEvent(c.Request.Context(), inc.ID)
	switch {
	case errors.Is(err, service.ErrUnverified):
		log.Printf("[webhook] omise event=%s: %v", inc.ID, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case err != nil:
		// non-2xx makes Omise redeliver
		log.Printf("[webhook] omise event=%s: %v", inc.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry later"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "published": key})
	}
}

// POST /webhooks/midtrans
func (s *Server) MidtransWebhook(c *gin.Context) {
	var n midtranscli.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	key, err := s.svc.HandleMidtransNotification(c.Request.Context(), n)
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, service.ErrNotConfigured):
		c.JSON(http.StatusNotFound, gin.H{"error": "midtrans disabled"})
	case err != nil:
		log.Printf("[webhook] midtrans order=%s: %v", n.OrderID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry later"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "published": key})
	}
}

// GET /payments/return?charge_id=...
func (s *Server) Return(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"charge_id": c.Query("charge_id"),
		"note":      "final status is confirmed by webhook",
	})
}

// POST /v1/charges
func (s *Server) CreateCharge(c *gin.Context) {
	var in struct {
		BookingID string `json:"booking_id" binding:"required"`
		Amount    int64  `json:"amount" binding:"required,gt=0"`
		Currency  string `json:"currency" binding:"required,len=3"`
		CardToken string `json:"card_token"`
		SourceID  string `json:"source_id"`
		ReturnURI string `json:"return_uri" binding:"omitempty,url"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := s.svc.CreateCharge(c.Request.Context(), omisecli.ChargeInput{
		BookingID: in.BookingID,
		Amount:    in.Amount,
		Currency:  in.Currency,
		CardToken: in.CardToken,
		SourceID:  in.SourceID,
		ReturnURI: in.ReturnURI,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"charge_id":     ch.ID,
		"status":        ch.Status,
		"authorize_uri": ch.AuthorizeURI,
	})
}

// POST /v1/charges/midtrans
func (s *Server) CreateMidtransCheckout(c *gin.Context) {
	var in struct {
		BookingID string `json:"booking_id" binding:"required"`
		Amount    int64  `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.svc.CreateMidtransCheckout(c.Request.Context(), in.BookingID, in.Amount, c.GetString("email"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// GET /v1/charges/:id
func (s *Server) GetCharge(c *gin.Context) {
	ch, err := s.svc.GetCharge(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"charge_id":  ch.ID,
		"status":     ch.Status,
		"amount":     ch.Amount,
		"currency":   ch.Currency,
		"booking_id": omisecli.BookingID(ch),
	})
}

// POST /v1/refunds (ADMIN)
func (s *Server) Refund(c *gin.Context) {
	var in struct {
		ChargeID string `json:"charge_id" binding:"required"`
		Amount   int64  `json:"amount" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rf, err := s.svc.Refund(c.Request.Context(), in.ChargeID, in.Amount)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"refund_id": rf.ID, "amount": rf.Amount, "currency": rf.Currency})
}

func writeErr(c *gin.Context, err error) {
	var oe *omise.Error
	switch {
	case errors.Is(err, service.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotConfigured), errors.Is(err, service.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBookingNotPayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &oe):
		c.JSON(http.StatusBadGateway, gin.H{"error": oe.Message, "code": oe.Code})
	default:
		log.Printf("[payment] request_id=%s error: %v", middlewares.GetRequestID(c), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
