package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/omise/omise-go"

	"github.com/you/tutorspool/pkg/events"
	midtranscli "github.com/you/tutorspool/services/payment-service/internal/midtrans"
	omisecli "github.com/you/tutorspool/services/payment-service/internal/omise"
)

var (
	ErrInvalidParams    = errors.New("invalid params")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnverified       = errors.New("event could not be verified with the gateway")
	ErrNotConfigured    = errors.New("gateway not configured")

	ErrBookingNotFound   = errors.New("booking not found")
	ErrBookingNotPayable = errors.New("booking is not awaiting payment")
)

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// OmiseAPI is satisfied by *omisecli.Gateway.
type OmiseAPI interface {
	CreateCharge(in omisecli.ChargeInput) (*omise.Charge, error)
	RetrieveCharge(id string) (*omise.Charge, error)
	CreateRefund(chargeID string, amount int64) (*omise.Refund, error)
	RetrieveEvent(id string) (*omise.Event, error)
}

// MidtransAPI is satisfied by *midtranscli.Gateway.
type MidtransAPI interface {
	Verify(n midtranscli.Notification) bool
	Status(orderID string) (midtranscli.Notification, error)
	CreateCheckout(bookingID string, amount int64, email string) (midtranscli.Checkout, error)
}

// BookingView is the part of a booking a charge is checked against.
type BookingView struct {
	ID         string
	Status     string
	PriceCents int64
	Currency   string
}

// Bookings is satisfied by *bookingcli.Client.
type Bookings interface {
	Booking(ctx context.Context, id string) (BookingView, error)
}

type PaymentSvc struct {
	omise    OmiseAPI
	midtrans MidtransAPI
	bookings Bookings
	pub      Publisher
	now      func() time.Time
}

// NewPaymentSvc wires the gateways. mt may be nil when Midtrans is not
// configured.
func NewPaymentSvc(om OmiseAPI, mt MidtransAPI, bookings Bookings, pub Publisher) *PaymentSvc {
	return &PaymentSvc{omise: om, midtrans: mt, bookings: bookings, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

// payable fails unless the booking is CONFIRMED. amount is compared with the
// booking price when both are known; currency when given.
func (s *PaymentSvc) payable(ctx context.Context, bookingID string, amount int64, currency string) error {
	if s.bookings == nil {
		return fmt.Errorf("%w: booking lookup", ErrNotConfigured)
	}
	b, err := s.bookings.Booking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != "CONFIRMED" {
		return fmt.Errorf("%w: booking %s is %s", ErrBookingNotPayable, bookingID, b.Status)
	}
	if amount > 0 && b.PriceCents > 0 && amount != b.PriceCents {
		return fmt.Errorf("%w: amount %d does not match price %d", ErrBookingNotPayable, amount, b.PriceCents)
	}
	if currency != "" && b.Currency != "" && !strings.EqualFold(currency, b.Currency) {
		return fmt.Errorf("%w: currency %s does not match %s", ErrBookingNotPayable, currency, b.Currency)
	}
	return nil
}

func (s *PaymentSvc) publish(ctx context.Context, key string, out events.PaymentOutcome) error {
	if s.pub == nil {
		return nil
	}
	if err := s.pub.PublishJSON(ctx, key, events.Wrap(key, s.now(), out)); err != nil {
		log.Printf("[payment] publish %s booking=%s: %v", key, out.BookingID, err)
		return err
	}
	log.Printf("[payment] published %s booking=%s intent=%s", key, out.BookingID, out.PaymentIntentID)
	return nil
}

// ---------- Omise charges ----------

// CreateCharge charges a card token or an existing source for a CONFIRMED
// booking. Charges that settle synchronously are published right away;
// pending ones wait for the webhook.
func (s *PaymentSvc) CreateCharge(ctx context.Context, in omisecli.ChargeInput) (*omise.Charge, error) {
	if in.BookingID == "" || in.Amount <= 0 || in.Currency == "" || (in.CardToken == "") == (in.SourceID == "") {
		return nil, ErrInvalidParams
	}
	if err := s.payable(ctx, in.BookingID, in.Amount, in.Currency); err != nil {
		return nil, err
	}
	ch, err := s.omise.CreateCharge(in)
	if err != nil {
		return nil, err
	}
	log.Printf("[payment] charge=%s booking=%s status=%s", ch.ID, in.BookingID, ch.Status)

	switch string(ch.Status) {
	case "successful", "failed":
		key, out := chargeOutcome(ch)
		out.GatewayEventID = "omise:charge:" + ch.ID + ":" + string(ch.Status)
		_ = s.publish(ctx, key, out)
	}
	return ch, nil
}

func (s *PaymentSvc) GetCharge(id string) (*omise.Charge, error) {
	return s.omise.RetrieveCharge(id)
}

// Refund refunds amount (the full charge when zero) and publishes
// payment.refunded for the booking the charge belongs to.
func (s *PaymentSvc) Refund(ctx context.Context, chargeID string, amount int64) (*omise.Refund, error) {
	if chargeID == "" || amount < 0 {
		return nil, ErrInvalidParams
	}
	ch, err := s.omise.RetrieveCharge(chargeID)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		amount = ch.Amount
	}
	rf, err := s.omise.CreateRefund(chargeID, amount)
	if err != nil {
		return nil, err
	}
	_ = s.publish(ctx, events.RKPaymentRefunded, events.PaymentOutcome{
		GatewayEventID:  "omise:refund:" + rf.ID,
		Gateway:         "omise",
		PaymentIntentID: ch.ID,
		BookingID:       omisecli.BookingID(ch),
		Amount:          rf.Amount,
		Currency:        rf.Currency,
	})
	return rf, nil
}

func chargeOutcome(ch *omise.Charge) (string, events.PaymentOutcome) {
	out := events.PaymentOutcome{
		Gateway:         "omise",
		PaymentIntentID: ch.ID,
		BookingID:       omisecli.BookingID(ch),
		Amount:          ch.Amount,
		Currency:        ch.Currency,
	}
	if string(ch.Status) == "successful" {
		return events.RKPaymentSucceeded, out
	}
	if ch.FailureCode != nil {
		out.Reason = *ch.FailureCode
	}
	return events.RKPaymentFailed, out
}

// HandleOmiseEvent re-fetches the event from Omise and publishes what it
// means for the booking. It returns the published key, or "" when the event
// carries nothing to reconcile.
func (s *PaymentSvc) HandleOmiseEvent(ctx context.Context, eventID string) (string, error) {
	if eventID == "" {
		return "", ErrInvalidParams
	}
	ev, err := s.omise.RetrieveEvent(eventID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnverified, err)
	}

	switch ev.Key {
	case "charge.complete":
		var ch omise.Charge
		if err := omisecli.DecodeData(ev, &ch); err != nil {
			return "", err
		}
		if st := string(ch.Status); st != "successful" && st != "failed" {
			return "", nil
		}
		key, out := chargeOutcome(&ch)
		out.GatewayEventID = "omise:" + ev.ID
		return key, s.publish(ctx, key, out)

	case "refund.create":
		var rf omise.Refund
		if err := omisecli.DecodeData(ev, &rf); err != nil {
			return "", err
		}
		ch, err := s.omise.RetrieveCharge(rf.Charge)
		if err != nil {
			return "", err
		}
		out := events.PaymentOutcome{
			GatewayEventID:  "omise:" + ev.ID,
			Gateway:         "omise",
			PaymentIntentID: ch.ID,
			BookingID:       omisecli.BookingID(ch),
			Amount:          rf.Amount,
			Currency:        rf.Currency,
		}
		return events.RKPaymentRefunded, s.publish(ctx, events.RKPaymentRefunded, out)
	}
	log.Printf("[payment] omise event %s key=%s skipped", ev.ID, ev.Key)
	return "", nil
}

// ---------- Midtrans ----------

func (s *PaymentSvc) CreateMidtransCheckout(ctx context.Context, bookingID string, amount int64, email string) (midtranscli.Checkout, error) {
	if s.midtrans == nil {
		return midtranscli.Checkout{}, ErrNotConfigured
	}
	if bookingID == "" || amount <= 0 {
		return midtranscli.Checkout{}, ErrInvalidParams
	}
	// Midtrans charges whole rupiah, so only the status is checked
	if err := s.payable(ctx, bookingID, 0, ""); err != nil {
		return midtranscli.Checkout{}, err
	}
	return s.midtrans.CreateCheckout(bookingID, amount, email)
}

// midtransKey maps a transaction status to a routing key, or "" when the
// transaction is still open.
func midtransKey(n midtranscli.Notification) string {
	switch n.TransactionStatus {
	case "settlement":
		return events.RKPaymentSucceeded
	case "capture":
		if n.FraudStatus == "" || n.FraudStatus == "accept" {
			return events.RKPaymentSucceeded
		}
		if n.FraudStatus == "deny" {
			return events.RKPaymentFailed
		}
	case "deny", "cancel", "expire", "failure":
		return events.RKPaymentFailed
	case "refund":
		return events.RKPaymentRefunded
	}
	return ""
}

func parseGross(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f))
}

// HandleMidtransNotification checks the signature, confirms the status with
// Midtrans and publishes the outcome.
func (s *PaymentSvc) HandleMidtransNotification(ctx context.Context, n midtranscli.Notification) (string, error) {
	if s.midtrans == nil {
		return "", ErrNotConfigured
	}
	if !s.midtrans.Verify(n) {
		return "", ErrInvalidSignature
	}
	st, err := s.midtrans.Status(n.OrderID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	key := midtransKey(st)
	if key == "" {
		log.Printf("[payment] midtrans order=%s status=%s fraud=%s skipped", st.OrderID, st.TransactionStatus, st.FraudStatus)
		return "", nil
	}
	currency := st.Currency
	if currency == "" {
		currency = "IDR"
	}
	out := events.PaymentOutcome{
		GatewayEventID:  "midtrans:" + st.TransactionID + ":" + st.TransactionStatus,
		Gateway:         "midtrans",
		PaymentIntentID: st.TransactionID,
		BookingID:       midtranscli.BookingFromOrder(st.OrderID),
		Amount:          parseGross(st.GrossAmount),
		Currency:        currency,
	}
	if key == events.RKPaymentFailed {
		out.Reason = st.TransactionStatus
	}
	return key, s.publish(ctx, key, out)
}
