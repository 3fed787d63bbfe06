package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/znz-systems/mailmind/internal/models"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, user_id, subject, sender, recipient, body, body_preview, received_at,
	is_read, is_important, is_flagged, folder, category, priority, ai_summary, ai_context, created_at`

func (s *MessageStore) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	folder := msg.Folder
	if folder == "" {
		folder = models.DefaultFolder
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (id, user_id, subject, sender, recipient, body, body_preview, received_at, is_read, is_important, is_flagged, folder)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.UserID, msg.Subject, msg.From, msg.To, msg.Body, msg.BodyPreview, msg.ReceivedAt,
		msg.IsRead, msg.IsImportant, msg.IsFlagged, folder,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *MessageStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *MessageStore) ListMessages(ctx context.Context, userID string, query models.MessageQuery) ([]models.Message, error) {
	stmt, args, limit := listMessagesQuery(userID, query)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// UpdateMessageState only writes the columns owned by user actions; the row
// lock taken by UPDATE merges it onto whatever enrichment wrote last.
func (s *MessageStore) UpdateMessageState(ctx context.Context, id string, patch models.MessageStatePatch) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE messages
		 SET is_read = COALESCE($2, is_read),
		     is_flagged = COALESCE($3, is_flagged),
		     folder = COALESCE($4, folder),
		     category = COALESCE($5, category)
		 WHERE id = $1
		 RETURNING `+messageColumns,
		id, patch.IsRead, patch.IsFlagged, patch.Folder, patch.Category,
	)
	return scanMessage(row)
}

func (s *MessageStore) UpdateMessageEnrichment(ctx context.Context, id string, patch models.MessageEnrichmentPatch) error {
	aiContext, err := jsonParam(patch.AIContext)
	if err != nil {
		return fmt.Errorf("encoding ai context: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET category = $2,
		     priority = $3,
		     ai_summary = $4,
		     ai_context = $5
		 WHERE id = $1`,
		id, patch.Category, patch.Priority, patch.AISummary, aiContext,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m         models.Message
		category  sql.NullString
		summary   sql.NullString
		aiContext []byte
	)
	err := row.Scan(
		&m.ID, &m.UserID, &m.Subject, &m.From, &m.To, &m.Body, &m.BodyPreview, &m.ReceivedAt,
		&m.IsRead, &m.IsImportant, &m.IsFlagged, &m.Folder, &category, &m.Priority, &summary, &aiContext, &m.CreatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	if category.Valid {
		m.Category = &category.String
	}
	if summary.Valid {
		m.AISummary = &summary.String
	}
	if len(aiContext) > 0 {
		m.AIContext = &models.AIContext{}
		if err := json.Unmarshal(aiContext, m.AIContext); err != nil {
			return nil, fmt.Errorf("decoding ai context for message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

// jsonParam encodes v for a jsonb column. lib/pq sends []byte as bytea, so
// the document goes over the wire as text.
func jsonParam[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// listMessagesQuery builds the filtered, paged SELECT for ListMessages and
// returns the effective limit.
func listMessagesQuery(userID string, query models.MessageQuery) (string, []any, int) {
	limit := query.Limit
	switch {
	case limit <= 0:
		limit = models.DefaultListLimit
	case limit > models.MaxListLimit:
		limit = models.MaxListLimit
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + messageColumns + ` FROM messages WHERE user_id = $1`)
	args = append(args, userID)

	if folder := strings.TrimSpace(query.Folder); folder != "" {
		args = append(args, folder)
		sb.WriteString(" AND folder = $" + itoa(len(args)))
	}
	if q := strings.TrimSpace(query.Search); q != "" {
		args = append(args, "%"+q+"%")
		n := itoa(len(args))
		sb.WriteString(" AND (subject ILIKE $" + n + " OR sender ILIKE $" + n + " OR body_preview ILIKE $" + n + ")")
	}

	args = append(args, limit)
	sb.WriteString(" ORDER BY received_at DESC, id LIMIT $" + itoa(len(args)))
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sb.WriteString(" OFFSET $" + itoa(len(args)))
	}
	return sb.String(), args, limit
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
