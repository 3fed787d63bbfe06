package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/store"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrMissingCode    = errors.New("authorization code is required")
	ErrNoEmail        = errors.New("account has no email address")
)

// Service provides authentication business logic.
type Service struct {
	users    store.UserStore
	sessions store.SessionStore
	provider CredentialProvider
	maxAge   time.Duration
}

// NewService creates a new auth service with the given stores and session max age in hours.
func NewService(users store.UserStore, sessions store.SessionStore, provider CredentialProvider, maxAgeHours int) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		provider: provider,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
	}
}

// MaxAge is how long a new session stays valid.
func (s *Service) MaxAge() time.Duration {
	return s.maxAge
}

// BeginLogin returns the provider's consent URL together with the state value
// the callback has to echo back.
func (s *Service) BeginLogin() (string, string, error) {
	state, err := GenerateToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	return s.provider.AuthCodeURL(state), state, nil
}

// CompleteLogin exchanges the authorization code, creates or refreshes the
// matching user and opens a new session for them.
func (s *Service) CompleteLogin(ctx context.Context, code string) (*models.Session, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	grant, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	identity, err := s.provider.Profile(ctx, grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if identity.Email == "" {
		return nil, ErrNoEmail
	}

	user, err := s.upsertUser(ctx, identity, grant)
	if err != nil {
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	expiresAt := time.Now().Add(s.maxAge)
	session, err := s.sessions.CreateSession(ctx, token, user.ID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in", "user_id", user.ID)
	return session, nil
}

func (s *Service) upsertUser(ctx context.Context, identity *Identity, grant *Grant) (*models.User, error) {
	existing, err := s.users.GetUserByProviderID(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if existing == nil {
		username := identity.DisplayName
		if username == "" {
			username = identity.Email
		}
		user, err := s.users.CreateUser(ctx, models.UserCreateParams{
			Username:       username,
			Email:          identity.Email,
			ProviderID:     identity.ID,
			AccessToken:    grant.AccessToken,
			RefreshToken:   grant.RefreshToken,
			TokenExpiresAt: grant.Expiry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return user, nil
	}

	// the provider only sometimes rotates the refresh token
	refresh := grant.RefreshToken
	if refresh == "" {
		refresh = existing.RefreshToken
	}
	user, err := s.users.UpdateUserTokens(ctx, existing.ID, models.UserTokenPatch{
		AccessToken:    grant.AccessToken,
		RefreshToken:   refresh,
		TokenExpiresAt: grant.Expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update user tokens: %w", err)
	}
	return user, nil
}

// Logout deletes the session identified by the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, token)
}

// ValidateSession checks if the given token corresponds to a valid session
// and returns the associated user.
func (s *Service) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	session, err := s.sessions.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil || !session.ExpiresAt.After(time.Now()) {
		return nil, ErrInvalidSession
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidSession
	}
	return user, nil
}

// CleanupExpiredSessions removes sessions past their expiry.
func (s *Service) CleanupExpiredSessions(ctx context.Context) error {
	return s.sessions.DeleteExpiredSessions(ctx)
}
