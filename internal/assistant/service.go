package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/znz-systems/mailmind/internal/ai"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/store"
)

var ErrEmptyQuery = errors.New("query is empty")

const (
	contextMessages = 10
	contextTurns    = 20
)

type Answerer interface {
	Answer(ctx context.Context, emails []ai.EmailContext, history []ai.Turn, query string) (string, error)
}

// Service answers questions about a user's mailbox and keeps the
// conversation history.
type Service struct {
	messages store.MessageStore
	chats    store.ChatStore
	answerer Answerer
}

func NewService(messages store.MessageStore, chats store.ChatStore, answerer Answerer) *Service {
	return &Service{
		messages: messages,
		chats:    chats,
		answerer: answerer,
	}
}

// HandleQuery records the user's question, answers it from recent mail and
// the recent conversation, and records the answer. The question is stored
// before anything else, so it survives a failed answer.
func (s *Service) HandleQuery(ctx context.Context, userID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyQuery
	}

	query, err := s.chats.CreateChatTurn(ctx, userID, models.ChatRoleUser, content)
	if err != nil {
		return "", fmt.Errorf("storing query: %w", err)
	}

	emails, err := s.emailContext(ctx, userID)
	if err != nil {
		return "", err
	}
	history, err := s.history(ctx, userID, query.ID)
	if err != nil {
		return "", err
	}

	reply, err := s.answerer.Answer(ctx, emails, history, content)
	if err != nil {
		if !errors.Is(err, ai.ErrGeneration) {
			err = fmt.Errorf("%w: %w", ai.ErrGeneration, err)
		}
		return "", err
	}

	if _, err := s.chats.CreateChatTurn(ctx, userID, models.ChatRoleAssistant, reply); err != nil {
		return "", fmt.Errorf("storing reply: %w", err)
	}
	return reply, nil
}

// History returns every turn of the user's conversation, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]models.ChatTurn, error) {
	turns, err := s.chats.ListChatTurns(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("listing chat turns: %w", err)
	}
	sortChronological(turns)
	if turns == nil {
		turns = []models.ChatTurn{}
	}
	return turns, nil
}

func (s *Service) emailContext(ctx context.Context, userID string) ([]ai.EmailContext, error) {
	// All folders, newest first.
	msgs, err := s.messages.ListMessages(ctx, userID, models.MessageQuery{Limit: contextMessages})
	if err != nil {
		return nil, fmt.Errorf("listing messages for context: %w", err)
	}
	if len(msgs) > contextMessages {
		msgs = msgs[:contextMessages]
	}

	out := make([]ai.EmailContext, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.EmailContext{
			Subject:  m.Subject,
			From:     m.From,
			Category: m.Category,
			Priority: m.Priority,
			Summary:  m.AISummary,
		})
	}
	return out, nil
}

// history returns up to contextTurns turns preceding the query turn,
// oldest first.
func (s *Service) history(ctx context.Context, userID string, queryID int64) ([]ai.Turn, error) {
	turns, err := s.chats.ListChatTurns(ctx, userID, contextTurns+1)
	if err != nil {
		return nil, fmt.Errorf("listing chat turns for context: %w", err)
	}

	prior := make([]models.ChatTurn, 0, len(turns))
	for _, t := range turns {
		if t.ID != queryID {
			prior = append(prior, t)
		}
	}
	sortChronological(prior)
	if len(prior) > contextTurns {
		prior = prior[len(prior)-contextTurns:]
	}

	out := make([]ai.Turn, 0, len(prior))
	for _, t := range prior {
		out = append(out, ai.Turn{Role: ai.Role(t.Role), Content: t.Content})
	}
	return out, nil
}

// sortChronological orders turns by timestamp, ties by insertion id.
func sortChronological(turns []models.ChatTurn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if !turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].CreatedAt.Before(turns[j].CreatedAt)
		}
		return turns[i].ID < turns[j].ID
	})
}
