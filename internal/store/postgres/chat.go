package postgres

import (
	"context"
	"database/sql"

	"github.com/znz-systems/mailmind/internal/models"
)

type ChatStore struct {
	db *sql.DB
}

func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) CreateChatTurn(ctx context.Context, userID string, role models.ChatRole, content string) (*models.ChatTurn, error) {
	turn := &models.ChatTurn{
		UserID:  userID,
		Role:    role,
		Content: content,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_turns (user_id, role, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		turn.UserID, string(turn.Role), turn.Content,
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return turn, nil
}

func (s *ChatStore) ListChatTurns(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error) {
	query := `SELECT id, user_id, role, content, created_at
		 FROM chat_turns WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []models.ChatTurn
	for rows.Next() {
		var t models.ChatTurn
		var role string
		if err := rows.Scan(&t.ID, &t.UserID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = models.ChatRole(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
