package bookingcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/services/payment-service/internal/service"
)

// Client reads bookings from booking-service with a short-lived ADMIN token.
type Client struct {
	baseURL string
	signer  *auth.Signer
	http    *http.Client
}

func NewClient(baseURL string, signer *auth.Signer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		http:    &http.Client{Timeout: timeout},
	}
}

type bookingResp struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

func (c *Client) Booking(ctx context.Context, id string) (service.BookingView, error) {
	tok, err := c.signer.CreateAccessToken("payment-service", auth.RoleAdmin, "", time.Minute)
	if err != nil {
		return service.BookingView{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/bookings/"+url.PathEscape(id), nil)
	if err != nil {
		return service.BookingView{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	res, err := c.http.Do(req)
	if err != nil {
		return service.BookingView{}, fmt.Errorf("booking api: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	switch {
	case res.StatusCode == http.StatusNotFound:
		return service.BookingView{}, fmt.Errorf("%w: %s", service.ErrBookingNotFound, id)
	case res.StatusCode != http.StatusOK:
		return service.BookingView{}, fmt.Errorf("booking api: status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out bookingResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return service.BookingView{}, fmt.Errorf("booking api: decode: %w", err)
	}
	return service.BookingView{ID: out.ID, Status: out.Status, PriceCents: out.PriceCents, Currency: out.Currency}, nil
}
