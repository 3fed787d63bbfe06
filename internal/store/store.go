package store

import (
	"context"
	"time"

	"github.com/znz-systems/mailmind/internal/models"
)

// Lookups return (nil, nil) when the record does not exist so callers can
// tell "no data" apart from a failing store.

type UserStore interface {
	CreateUser(ctx context.Context, params models.UserCreateParams) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByProviderID(ctx context.Context, providerID string) (*models.User, error)
	UpdateUserTokens(ctx context.Context, id string, patch models.UserTokenPatch) (*models.User, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) (*models.Session, error)
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) error
}

type MessageStore interface {
	// CreateMessage inserts msg unless a message with the same id exists.
	// It reports whether a new row was written.
	CreateMessage(ctx context.Context, msg *models.Message) (bool, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns the user's messages newest first.
	ListMessages(ctx context.Context, userID string, query models.MessageQuery) ([]models.Message, error)
	UpdateMessageState(ctx context.Context, id string, patch models.MessageStatePatch) (*models.Message, error)
	UpdateMessageEnrichment(ctx context.Context, id string, patch models.MessageEnrichmentPatch) error
}

type ChatStore interface {
	CreateChatTurn(ctx context.Context, userID string, role models.ChatRole, content string) (*models.ChatTurn, error)
	// ListChatTurns returns at most limit turns, newest first. limit <= 0
	// returns every turn.
	ListChatTurns(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error)
}

type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, params models.EmailAnalysisCreateParams) (*models.EmailAnalysis, error)
	// GetAnalysis returns the most recent analysis for the message.
	GetAnalysis(ctx context.Context, messageID string) (*models.EmailAnalysis, error)
}
