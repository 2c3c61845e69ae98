package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/services/auth-service/internal/domain"
	"github.com/you/tutorspool/services/auth-service/internal/repository"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	ByEmail(ctx context.Context, email string) (*domain.User, error)
	ByID(ctx context.Context, id string) (*domain.User, error)
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

type AuthSvc struct {
	repo       UserStore
	signer     *auth.Signer
	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
}

func NewAuthSvc(r UserStore, signer *auth.Signer, accessTTL, refreshTTL time.Duration) *AuthSvc {
	return &AuthSvc{repo: r, signer: signer, accessTTL: accessTTL, refreshTTL: refreshTTL, cost: bcrypt.DefaultCost}
}

// Register creates a STUDENT or TUTOR account. Admins are provisioned out of band.
func (s *AuthSvc) Register(ctx context.Context, email, password, name, role string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	role = strings.ToUpper(role)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}
	if len(password) < 8 || (role != auth.RoleStudent && role != auth.RoleTutor) {
		return nil, ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	u := &domain.User{Email: email, PasswordHash: string(hash), Name: strings.TrimSpace(name), Role: role}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthSvc) Login(ctx context.Context, email, password string) (*domain.User, Tokens, error) {
	u, err := s.repo.ByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Tokens{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, Tokens{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, Tokens{}, ErrInvalidCredentials
	}
	t, err := s.issue(u)
	return u, t, err
}

// Refresh trades a still-valid refresh token for a new pair. The user is
// reloaded so role changes take effect.
func (s *AuthSvc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	c, err := s.signer.ParseValidate(refreshToken)
	if err != nil {
		return Tokens{}, ErrInvalidCredentials
	}
	u, err := s.repo.ByID(ctx, c.Sub)
	if errors.Is(err, repository.ErrNotFound) {
		return Tokens{}, ErrInvalidCredentials
	}
	if err != nil {
		return Tokens{}, err
	}
	return s.issue(u)
}

func (s *AuthSvc) Me(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.ByID(ctx, id)
}

func (s *AuthSvc) issue(u *domain.User) (Tokens, error) {
	access, err := s.signer.CreateAccessToken(u.ID, u.Role, u.Email, s.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.signer.CreateAccessToken(u.ID, u.Role, u.Email, s.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.accessTTL / time.Second)}, nil
}
