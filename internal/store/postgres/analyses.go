package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/znz-systems/mailmind/internal/models"
)

type AnalysisStore struct {
	db *sql.DB
}

func NewAnalysisStore(db *sql.DB) *AnalysisStore {
	return &AnalysisStore{db: db}
}

// CreateAnalysis always appends; a re-run leaves earlier records in place and
// GetAnalysis serves the newest.
func (s *AnalysisStore) CreateAnalysis(ctx context.Context, params models.EmailAnalysisCreateParams) (*models.EmailAnalysis, error) {
	actions := params.SuggestedActions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := jsonParam(&actions)
	if err != nil {
		return nil, fmt.Errorf("encoding suggested actions: %w", err)
	}
	styleJSON, err := jsonParam(params.WritingStyle)
	if err != nil {
		return nil, fmt.Errorf("encoding writing style: %w", err)
	}

	a := &models.EmailAnalysis{
		MessageID:        params.MessageID,
		Sentiment:        params.Sentiment,
		Urgency:          params.Urgency,
		ActionRequired:   params.ActionRequired,
		SuggestedActions: actions,
		WritingStyle:     params.WritingStyle,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO email_analyses (message_id, sentiment, urgency, action_required, suggested_actions, writing_style)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		a.MessageID, a.Sentiment, a.Urgency, a.ActionRequired, actionsJSON, styleJSON,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AnalysisStore) GetAnalysis(ctx context.Context, messageID string) (*models.EmailAnalysis, error) {
	var (
		a         models.EmailAnalysis
		sentiment sql.NullString
		urgency   sql.NullInt64
		actions   []byte
		style     []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, sentiment, urgency, action_required, suggested_actions, writing_style, created_at
		 FROM email_analyses WHERE message_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		messageID,
	).Scan(&a.ID, &a.MessageID, &sentiment, &urgency, &a.ActionRequired, &actions, &style, &a.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}

	if sentiment.Valid {
		a.Sentiment = &sentiment.String
	}
	if urgency.Valid {
		u := int(urgency.Int64)
		a.Urgency = &u
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.SuggestedActions); err != nil {
			return nil, fmt.Errorf("decoding suggested actions: %w", err)
		}
	}
	if len(style) > 0 {
		a.WritingStyle = &models.WritingStyle{}
		if err := json.Unmarshal(style, a.WritingStyle); err != nil {
			return nil, fmt.Errorf("decoding writing style: %w", err)
		}
	}
	return &a, nil
}
