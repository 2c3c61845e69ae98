package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/you/tutorspool/services/booking-service/internal/service"
)

func sampleReq() service.MeetingRequest {
	return service.MeetingRequest{
		Title:           "Tutoring session: math",
		StartTime:       time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	}
}

func TestCreateMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/users/me/meetings" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var body createReq
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.StartTime != "2025-03-03T10:00:00Z" || body.Duration != 60 || body.Type != 2 {
			t.Errorf("unexpected body %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":85746065,"join_url":"https://zoom.example/j/85746065","password":"x1y2"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v2/", "tok", time.Second)
	m, err := c.CreateMeeting(context.Background(), sampleReq())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.JoinURL != "https://zoom.example/j/85746065" || m.Passcode != "x1y2" {
		t.Fatalf("unexpected meeting %+v", m)
	}
}

func TestCreateMeetingErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusInternalServerError, `{"message":"down"}`, "status 500"},
		{"no join url", http.StatusCreated, `{"id":1}`, "no join_url"},
		{"bad json", http.StatusCreated, `{`, "decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := NewClient(srv.URL, "tok", time.Second).CreateMeeting(context.Background(), sampleReq())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateMeetingTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "tok", 20*time.Millisecond).CreateMeeting(context.Background(), sampleReq())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestCreateMeetingWithoutToken(t *testing.T) {
	_, err := NewClient("http://unused", "", time.Second).CreateMeeting(context.Background(), sampleReq())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
