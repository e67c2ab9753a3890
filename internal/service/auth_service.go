package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
	"github.com/arturoeanton/go-helpdesk-rag/pkg/config"
)

const minPasswordLen = 8

// AuthService handles registration, password login and role changes.
type AuthService struct {
	users  port.UserStore
	jwtCfg middleware.JWTConfig
	admins map[string]bool
}

// NewAuthService creates a new authentication service.
// Addresses in cfg.AdminEmails are given the admin role when they register or log in.
func NewAuthService(users port.UserStore, cfg *config.Config) *AuthService {
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		admins[normalizeEmail(e)] = true
	}
	return &AuthService{
		users: users,
		jwtCfg: middleware.JWTConfig{
			Secret:    cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Minute,
		},
		admins: admins,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// JWTConfig returns the token settings used to sign and verify tokens.
func (s *AuthService) JWTConfig() middleware.JWTConfig {
	return s.jwtCfg
}

// Register creates a user with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*domain.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("register: invalid email: %w", port.ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("register: password must be at least %d characters: %w", minPasswordLen, port.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	}
	if s.admins[email] {
		user.Role = domain.RoleAdmin
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login verifies credentials and returns a signed JWT.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, port.ErrUserNotFound) {
			return "", nil, port.ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, port.ErrInvalidCredentials
	}

	if s.admins[email] && user.Role != domain.RoleAdmin {
		if err := s.users.SetUserRole(ctx, user.ID, domain.RoleAdmin); err != nil {
			return "", nil, fmt.Errorf("login: %w", err)
		}
		user.Role = domain.RoleAdmin
		slog.Info("user promoted from ADMIN_EMAILS", "user_id", user.ID)
	}

	jwt, err := middleware.GenerateJWT(user, s.jwtCfg)
	if err != nil {
		return "", nil, fmt.Errorf("generate jwt: %w", err)
	}

	slog.Info("user authenticated", "user_id", user.ID)
	return jwt, user, nil
}

// SetRole changes the role of the user registered under email.
// Tokens already issued keep their old role until they expire.
func (s *AuthService) SetRole(ctx context.Context, email, role string) (*domain.User, error) {
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, fmt.Errorf("set role: unknown role %q: %w", role, port.ErrInvalidInput)
	}

	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	if user.Role == role {
		return user, nil
	}
	if err := s.users.SetUserRole(ctx, user.ID, role); err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	user.Role = role

	slog.Info("user role changed", "user_id", user.ID, "role", role)
	return user, nil
}
