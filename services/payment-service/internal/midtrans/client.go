package midtranscli

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// Notification is the HTTP notification body Midtrans posts, and also the
// shape returned by the status API.
type Notification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"` // capture, settlement, pending, deny, cancel, expire, refund, partial_refund, failure
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"` // accept / challenge / deny
	TransactionID     string `json:"transaction_id"`
}

type Gateway struct {
	serverKey string
	snap      snap.Client
	core      coreapi.Client
}

func NewGateway(serverKey string, production bool) *Gateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	g := &Gateway{serverKey: serverKey}
	g.snap.New(serverKey, env)
	g.core.New(serverKey, env)
	return g
}

// Signature is SHA512(order_id + status_code + gross_amount + server_key).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	h := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(h[:])
}

func (g *Gateway) Verify(n Notification) bool {
	want := strings.ToLower(n.SignatureKey)
	return want != "" && Signature(n.OrderID, n.StatusCode, n.GrossAmount, g.serverKey) == want
}

// Status asks Midtrans for the authoritative state of an order.
func (g *Gateway) Status(orderID string) (Notification, error) {
	res, mErr := g.core.CheckTransaction(orderID)
	if mErr != nil {
		return Notification{}, errors.New(mErr.GetMessage())
	}
	return Notification{
		TransactionTime:   res.TransactionTime,
		TransactionStatus: res.TransactionStatus,
		StatusCode:        res.StatusCode,
		OrderID:           res.OrderID,
		GrossAmount:       res.GrossAmount,
		Currency:          res.Currency,
		PaymentType:       res.PaymentType,
		FraudStatus:       res.FraudStatus,
		TransactionID:     res.TransactionID,
	}, nil
}

const orderSep = "~"

// OrderID derives a unique Midtrans order id from a booking id; Midtrans
// refuses to reuse an order id, so every checkout gets a fresh suffix.
func OrderID(bookingID string) string {
	return bookingID + orderSep + uuid.NewString()[:8]
}

func BookingFromOrder(orderID string) string {
	i := strings.LastIndex(orderID, orderSep)
	if i < 0 {
		return orderID
	}
	return orderID[:i]
}

type Checkout struct {
	OrderID     string `json:"order_id"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CreateCheckout opens a Snap transaction for the booking.
func (g *Gateway) CreateCheckout(bookingID string, amount int64, email string) (Checkout, error) {
	orderID := OrderID(bookingID)
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{OrderID: orderID, GrossAmt: amount},
		CustomerDetail:     &midtrans.CustomerDetails{Email: email},
		Items: &[]midtrans.ItemDetails{{
			ID:       bookingID,
			Price:    amount,
			Qty:      1,
			Name:     "Tutoring session",
			Category: "TUTORING",
		}},
		CustomField1: bookingID,
	}
	resp, mErr := g.snap.CreateTransaction(req)
	if mErr != nil {
		return Checkout{}, errors.New(mErr.GetMessage())
	}
	return Checkout{OrderID: orderID, Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}
