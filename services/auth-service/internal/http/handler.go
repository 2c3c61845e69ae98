package httpx

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/pkg/middlewares"
	"github.com/you/tutorspool/services/auth-service/internal/domain"
	"github.com/you/tutorspool/services/auth-service/internal/repository"
	"github.com/you/tutorspool/services/auth-service/internal/service"
)

// AuthAPI is satisfied by *service.AuthSvc.
type AuthAPI interface {
	Register(ctx context.Context, email, password, name, role string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, service.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (service.Tokens, error)
	Me(ctx context.Context, id string) (*domain.User, error)
}

type AuthHandler struct {
	svc AuthAPI
}

func NewRouter(svc AuthAPI, signer *auth.Signer) *gin.Engine {
	h := &AuthHandler{svc: svc}
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestID(), middlewares.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	v1 := r.Group("/v1/auth")
	{
		v1.POST("/register", h.Register)
		v1.POST("/login", h.Login)
		v1.POST("/refresh", h.Refresh)
		v1.GET("/me", middlewares.JWTAuth(signer), h.Me)
	}
	return r
}

func userJSON(u *domain.User) gin.H {
	return gin.H{"id": u.ID, "email": u.Email, "name": u.Name, "role": u.Role}
}

// POST /v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var in struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name" binding:"required"`
		Role     string `json:"role" binding:"required,oneof=STUDENT TUTOR"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.Register(c.Request.Context(), in.Email, in.Password, in.Name, in.Role)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, userJSON(u))
}

// POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var in struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, tok, err := h.svc.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(u), "tokens": tok})
}

// POST /v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var in struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.svc.Refresh(c.Request.Context(), in.RefreshToken)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// GET /v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.svc.Me(c.Request.Context(), c.GetString("sub"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, userJSON(u))
}

func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("[auth] request_id=%s internal error: %v", middlewares.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
