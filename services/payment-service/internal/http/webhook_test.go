package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omise/omise-go"

	"github.com/you/tutorspool/pkg/auth"
	midtranscli "github.com/you/tutorspool/services/payment-service/internal/midtrans"
	omisecli "github.com/you/tutorspool/services/payment-service/internal/omise"
	"github.com/you/tutorspool/services/payment-service/internal/service"
)

type stubAPI struct {
	omiseErr    error
	midtransErr error
	refunded    string
}

func (s *stubAPI) CreateCharge(_ context.Context, in omisecli.ChargeInput) (*omise.Charge, error) {
	if in.CardToken == "" && in.SourceID == "" {
		return nil, service.ErrInvalidParams
	}
	if in.BookingID == "b-pending" {
		return nil, service.ErrBookingNotPayable
	}
	ch := &omise.Charge{Status: omise.ChargeStatus("successful")}
	ch.ID = "chrg_1"
	return ch, nil
}

func (s *stubAPI) GetCharge(id string) (*omise.Charge, error) {
	ch := &omise.Charge{Amount: 100, Metadata: map[string]interface{}{"booking_id": "b-1"}}
	ch.ID = id
	return ch, nil
}

func (s *stubAPI) Refund(_ context.Context, chargeID string, amount int64) (*omise.Refund, error) {
	s.refunded = chargeID
	rf := &omise.Refund{Amount: amount}
	rf.ID = "rfnd_1"
	return rf, nil
}

func (s *stubAPI) HandleOmiseEvent(context.Context, string) (string, error) {
	return "payment.succeeded", s.omiseErr
}

func (s *stubAPI) CreateMidtransCheckout(context.Context, string, int64, string) (midtranscli.Checkout, error) {
	return midtranscli.Checkout{}, service.ErrNotConfigured
}

func (s *stubAPI) HandleMidtransNotification(context.Context, midtranscli.Notification) (string, error) {
	return "", s.midtransErr
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhooks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &stubAPI{}
	r := NewRouter(api, auth.NewSigner("k"))

	if w := do(r, http.MethodPost, "/webhooks/omise", "", `{"id":"evnt_1","key":"charge.complete"}`); w.Code != http.StatusOK {
		t.Fatalf("omise webhook = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/webhooks/omise", "", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("omise webhook without id = %d", w.Code)
	}
	api.omiseErr = service.ErrUnverified
	if w := do(r, http.MethodPost, "/webhooks/omise", "", `{"id":"evnt_x"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("unverified omise webhook = %d", w.Code)
	}
	api.omiseErr = errors.New("broker down")
	if w := do(r, http.MethodPost, "/webhooks/omise", "", `{"id":"evnt_1"}`); w.Code != http.StatusInternalServerError {
		t.Fatalf("failing omise webhook = %d", w.Code)
	}

	body := `{"order_id":"b-1~abc","status_code":"200","gross_amount":"10.00","signature_key":"x"}`
	if w := do(r, http.MethodPost, "/webhooks/midtrans", "", body); w.Code != http.StatusOK {
		t.Fatalf("midtrans webhook = %d", w.Code)
	}
	api.midtransErr = service.ErrInvalidSignature
	if w := do(r, http.MethodPost, "/webhooks/midtrans", "", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature = %d", w.Code)
	}
	api.midtransErr = service.ErrNotConfigured
	if w := do(r, http.MethodPost, "/webhooks/midtrans", "", body); w.Code != http.StatusNotFound {
		t.Fatalf("midtrans disabled = %d", w.Code)
	}
}

func TestChargeEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	signer := auth.NewSigner("k")
	api := &stubAPI{}
	r := NewRouter(api, signer)

	student, _ := signer.CreateAccessToken("stu-1", auth.RoleStudent, "s@example.com", time.Minute)
	admin, _ := signer.CreateAccessToken("adm-1", auth.RoleAdmin, "a@example.com", time.Minute)

	if w := do(r, http.MethodPost, "/v1/charges", "", `{}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous charge = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/v1/charges", student, `{"booking_id":"b-1","amount":50000,"currency":"THB","card_token":"tokn_1"}`)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), "chrg_1") {
		t.Fatalf("charge = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/v1/charges", student, `{"booking_id":"b-1","amount":50000,"currency":"THB"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("charge without token = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/charges", student, `{"booking_id":"b-pending","amount":50000,"currency":"THB","card_token":"tokn_1"}`); w.Code != http.StatusConflict {
		t.Fatalf("charge for unconfirmed booking = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/charges/midtrans", student, `{"booking_id":"b-1","amount":50000}`); w.Code != http.StatusNotFound {
		t.Fatalf("midtrans checkout disabled = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/v1/charges/chrg_9", student, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"booking_id":"b-1"`) {
		t.Fatalf("get charge = %d %s", w.Code, w.Body.String())
	}

	if w := do(r, http.MethodPost, "/v1/refunds", student, `{"charge_id":"chrg_1"}`); w.Code != http.StatusForbidden {
		t.Fatalf("student refund = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/refunds", admin, `{"charge_id":"chrg_1","amount":100}`); w.Code != http.StatusCreated || api.refunded != "chrg_1" {
		t.Fatalf("admin refund = %d", w.Code)
	}
}
