package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/znz-systems/mailmind/internal/ai"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/store"
)

// Sentinel errors returned by Service methods.
var (
	ErrNotFound         = errors.New("message not found")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidFolder    = errors.New("invalid folder")
	ErrMissingRecipient = errors.New("recipient is required")
	ErrUnauthenticated  = errors.New("mailbox credential missing or expired")
)

// DefaultInstruction is used when a reply is drafted without guidance.
const DefaultInstruction = "Please generate an appropriate reply"

const styleSampleLimit = ai.MaxStyleSamples

// Provider performs one-shot writes against the user's remote mailbox.
type Provider interface {
	MarkRead(ctx context.Context, id string) error
	Flag(ctx context.Context, id string) error
	SendReply(ctx context.Context, id, text string) error
	SendMessage(ctx context.Context, to, subject, body string) error
}

// ProviderOpener returns a Provider authenticated with accessToken.
type ProviderOpener func(accessToken string) Provider

type ReplyWriter interface {
	DeriveWritingStyle(ctx context.Context, samples []ai.SentSample) (*models.WritingStyle, error)
	GenerateReply(ctx context.Context, original ai.Original, style *models.WritingStyle, instruction string) (string, error)
}

// Service provides message business logic for the signed-in user.
type Service struct {
	users    store.UserStore
	messages store.MessageStore
	analyses store.AnalysisStore
	open     ProviderOpener
	writer   ReplyWriter
	now      func() time.Time
}

// NewService creates a new message Service.
func NewService(users store.UserStore, messages store.MessageStore, analyses store.AnalysisStore, open ProviderOpener, writer ReplyWriter) *Service {
	return &Service{
		users:    users,
		messages: messages,
		analyses: analyses,
		open:     open,
		writer:   writer,
		now:      time.Now,
	}
}

// List returns the user's messages in folder, newest first. search, when
// set, matches subject, sender and preview case-insensitively.
func (s *Service) List(ctx context.Context, userID string, q models.MessageQuery) ([]models.Message, error) {
	if q.Folder == "" {
		q.Folder = models.DefaultFolder
	}
	msgs, err := s.messages.ListMessages(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// Get returns the message if it exists and belongs to the user, and nil
// otherwise.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	if msg == nil || msg.UserID != userID {
		return nil, nil
	}
	return msg, nil
}

// Analysis returns the latest analysis of one of the user's messages, or nil
// when there is none.
func (s *Service) Analysis(ctx context.Context, userID, id string) (*models.EmailAnalysis, error) {
	msg, err := s.Get(ctx, userID, id)
	if err != nil || msg == nil {
		return nil, err
	}
	a, err := s.analyses.GetAnalysis(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting analysis for %s: %w", id, err)
	}
	return a, nil
}

// Update applies a user action to the stored message and returns the
// result, or nil if the message is unknown. Marking read or flagged is then
// mirrored to the provider; a failure there is logged only.
func (s *Service) Update(ctx context.Context, userID, id string, patch models.MessageStatePatch) (*models.Message, error) {
	if patch.Category != nil && !models.Category(*patch.Category).Valid() {
		return nil, ErrInvalidCategory
	}
	if patch.Folder != nil && strings.TrimSpace(*patch.Folder) == "" {
		return nil, ErrInvalidFolder
	}

	msg, err := s.Get(ctx, userID, id)
	if err != nil || msg == nil {
		return nil, err
	}
	if patch.Empty() {
		return msg, nil
	}

	updated, err := s.messages.UpdateMessageState(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("updating message %s: %w", id, err)
	}
	if updated == nil {
		return nil, nil
	}

	s.writeThrough(ctx, userID, id, patch)
	return updated, nil
}

func (s *Service) writeThrough(ctx context.Context, userID, id string, patch models.MessageStatePatch) {
	markRead := patch.IsRead != nil && *patch.IsRead
	flag := patch.IsFlagged != nil && *patch.IsFlagged
	if !markRead && !flag {
		return
	}

	provider, err := s.provider(ctx, userID)
	if err != nil {
		slog.Warn("skipping provider update", "user_id", userID, "message_id", id, "error", err)
		return
	}
	if markRead {
		if err := provider.MarkRead(ctx, id); err != nil {
			slog.Error("failed to mark message read at provider", "user_id", userID, "message_id", id, "error", err)
		}
	}
	if flag {
		if err := provider.Flag(ctx, id); err != nil {
			slog.Error("failed to flag message at provider", "user_id", userID, "message_id", id, "error", err)
		}
	}
}

// DraftReply writes a reply to the message in the style of the user's sent
// mail. Generation errors are returned as is.
func (s *Service) DraftReply(ctx context.Context, userID, id, instruction string) (string, error) {
	msg, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", ErrNotFound
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}

	sent, err := s.messages.ListMessages(ctx, userID, models.MessageQuery{Folder: models.SentFolder, Limit: styleSampleLimit})
	if err != nil {
		return "", fmt.Errorf("listing sent messages: %w", err)
	}
	samples := make([]ai.SentSample, 0, len(sent))
	for _, m := range sent {
		samples = append(samples, ai.SentSample{Subject: m.Subject, Body: m.Body})
	}

	style, err := s.writer.DeriveWritingStyle(ctx, samples)
	if err != nil {
		return "", err
	}
	return s.writer.GenerateReply(ctx, ai.Original{Subject: msg.Subject, Body: msg.Body, From: msg.From}, style, instruction)
}

// SendReply sends text as a reply to the message through the provider.
// Local state is left untouched.
func (s *Service) SendReply(ctx context.Context, userID, id, text string) error {
	msg, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}
	provider, err := s.provider(ctx, userID)
	if err != nil {
		return err
	}
	return provider.SendReply(ctx, id, text)
}

// Compose sends a new message through the provider.
func (s *Service) Compose(ctx context.Context, userID, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrMissingRecipient
	}
	provider, err := s.provider(ctx, userID)
	if err != nil {
		return err
	}
	return provider.SendMessage(ctx, to, subject, body)
}

func (s *Service) provider(ctx context.Context, userID string) (Provider, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", userID, err)
	}
	if user == nil || !user.HasValidToken(s.now()) {
		return nil, ErrUnauthenticated
	}
	return s.open(user.AccessToken), nil
}
