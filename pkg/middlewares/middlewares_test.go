package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/you/tutorspool/pkg/auth"
)

func newEngine(signer *auth.Signer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/who", JWTAuth(signer), RequireRole(auth.RoleTutor), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("sub")+"|"+GetRequestID(c))
	})
	return r
}

func TestJWTAuthAndRoles(t *testing.T) {
	signer := auth.NewSigner("s3cret")
	r := newEngine(signer)

	cases := []struct {
		name string
		role string
		tok  string
		want int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"garbage", "", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", auth.RoleStudent, "", http.StatusForbidden},
		{"tutor", auth.RoleTutor, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			req.Header.Set("X-Request-ID", "rid-1")
			h := tc.tok
			if tc.role != "" {
				tok, err := signer.CreateAccessToken("u-1", tc.role, "u@example.com", time.Minute)
				if err != nil {
					t.Fatalf("token: %v", err)
				}
				h = "Bearer " + tok
			}
			if h != "" {
				req.Header.Set("Authorization", h)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK && w.Body.String() != "u-1|rid-1" {
				t.Fatalf("body = %q", w.Body.String())
			}
			if w.Header().Get("X-Request-ID") != "rid-1" {
				t.Fatalf("request id not echoed")
			}
		})
	}
}
