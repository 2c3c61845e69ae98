package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/you/tutorspool/services/booking-service/internal/service"
)

var ErrNotConfigured = errors.New("meeting api token not configured")

// Client creates scheduled meetings through a Zoom-compatible REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type createReq struct {
	Topic     string `json:"topic"`
	Type      int    `json:"type"` // 2 = scheduled
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	Timezone  string `json:"timezone"`
}

type createResp struct {
	ID       json.Number `json:"id"`
	JoinURL  string      `json:"join_url"`
	Password string      `json:"password"`
}

func (c *Client) CreateMeeting(ctx context.Context, req service.MeetingRequest) (service.Meeting, error) {
	if c.token == "" {
		return service.Meeting{}, ErrNotConfigured
	}
	body, err := json.Marshal(createReq{
		Topic:     req.Title,
		Type:      2,
		StartTime: req.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  req.DurationMinutes,
		Timezone:  "UTC",
	})
	if err != nil {
		return service.Meeting{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/me/meetings", bytes.NewReader(body))
	if err != nil {
		return service.Meeting{}, err
	}
	hreq.Header.Set("Authorization", "Bearer "+c.token)
	hreq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(hreq)
	if err != nil {
		return service.Meeting{}, fmt.Errorf("meeting api: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return service.Meeting{}, fmt.Errorf("meeting api: status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out createResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return service.Meeting{}, fmt.Errorf("meeting api: decode: %w", err)
	}
	if out.JoinURL == "" {
		return service.Meeting{}, errors.New("meeting api: response has no join_url")
	}
	return service.Meeting{JoinURL: out.JoinURL, Passcode: out.Password}, nil
}
