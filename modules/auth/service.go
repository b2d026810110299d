package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrymomot/bookcircle/modules/library"
)

// Service turns credentials into authenticated principals. It owns
// registration with the community email-domain check, password
// verification, and access-token issuance. User records live in the
// library gateway: auth never keeps its own user table.
type Service struct {
	cfg     Config
	gateway library.Gateway
	tokens  TokenStore
	log     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService creates the auth service.
func NewService(cfg Config, gateway library.Gateway, tokens TokenStore, opts ...ServiceOption) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	s := &Service{
		cfg:     cfg,
		gateway: gateway,
		tokens:  tokens,
		log:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// emailDomainAllowed reports whether the email belongs to one of the
// configured community domains. Matching is case-insensitive.
func (s *Service) emailDomainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range s.cfg.AllowedEmailDomains {
		if domain == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

// Register creates a user for the given credentials.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (*library.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)

	if email == "" {
		return nil, library.NewValidationError("email", "is required")
	}
	if displayName == "" {
		return nil, library.NewValidationError("display_name", "is required")
	}
	if len(password) < 8 {
		return nil, library.NewValidationError("password", "must be at least 8 characters")
	}
	if !s.emailDomainAllowed(email) {
		return nil, ErrEmailDomainNotAllowed
	}

	if _, err := s.gateway.UserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, library.ErrNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := library.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := s.gateway.CreateUser(ctx, user); err != nil {
		if errors.Is(err, library.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &user, nil
}

// Login verifies the credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*library.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.gateway.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	user.LastLoginAt = time.Now()
	if err := s.gateway.UpdateUser(ctx, *user); err != nil {
		// Last-login is bookkeeping; a failed update must not block login.
		s.log.WarnContext(ctx, "failed to record last login", slog.Any("error", err))
	}

	token, err := newToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	if err := s.tokens.Save(ctx, token, user.ID, s.cfg.TokenTTL); err != nil {
		return nil, "", fmt.Errorf("save token: %w", err)
	}

	return user, token, nil
}

// Logout invalidates the token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Delete(ctx, token)
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*library.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	userID, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.gateway.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// newToken returns a 256-bit random token, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
