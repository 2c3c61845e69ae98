package httpx

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/pkg/middlewares"
)

func NewRouter(svc BookingAPI, signer *auth.Signer, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestID(), middlewares.Logger())
	if len(allowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	bh := NewBookingHandler(svc)
	v1 := r.Group("/v1")
	v1.Use(middlewares.JWTAuth(signer))
	{
		v1.POST("/bookings", middlewares.RequireRole(auth.RoleStudent, auth.RoleAdmin), bh.Create)
		v1.GET("/bookings", bh.List)
		v1.GET("/bookings/:id", bh.Get)
		v1.POST("/bookings/:id/cancel", bh.Cancel)

		tutor := v1.Group("")
		tutor.Use(middlewares.RequireRole(auth.RoleTutor, auth.RoleAdmin))
		tutor.POST("/bookings/:id/confirm", bh.Confirm)
		tutor.POST("/bookings/:id/reject", bh.Reject)
		tutor.POST("/bookings/:id/complete", bh.Complete)
		tutor.PUT("/tutors/:id/availability", bh.PutAvailability)

		v1.GET("/tutors/:id/availability", bh.GetAvailability)
	}
	return r
}
