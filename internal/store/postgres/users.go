package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/secret"
)

// UserStore persists users with their provider tokens sealed by box.
type UserStore struct {
	db  *sql.DB
	box *secret.Box
}

func NewUserStore(db *sql.DB, box *secret.Box) *UserStore {
	return &UserStore{db: db, box: box}
}

const userColumns = `id, username, email, provider_id, access_token, refresh_token, token_expires_at, created_at`

func (s *UserStore) CreateUser(ctx context.Context, params models.UserCreateParams) (*models.User, error) {
	access, err := s.box.Seal(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}
	refresh, err := s.box.Seal(params.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("sealing refresh token: %w", err)
	}

	user := &models.User{
		ID:             uuid.NewString(),
		Username:       params.Username,
		Email:          params.Email,
		ProviderID:     params.ProviderID,
		AccessToken:    params.AccessToken,
		RefreshToken:   params.RefreshToken,
		TokenExpiresAt: params.TokenExpiresAt,
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, username, email, provider_id, access_token, refresh_token, token_expires_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		 RETURNING created_at`,
		user.ID, user.Username, user.Email, user.ProviderID, access, refresh, user.TokenExpiresAt,
	).Scan(&user.CreatedAt)
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return s.scanUser(row)
}

func (s *UserStore) GetUserByProviderID(ctx context.Context, providerID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_id = $1`, providerID)
	return s.scanUser(row)
}

// An empty token seals to the empty string, so signed-out users drop out
// without unsealing anything.
const syncableUsersQuery = `SELECT id FROM users
	WHERE access_token <> ''
	  AND (token_expires_at IS NULL OR token_expires_at > $1)
	ORDER BY created_at`

// ListSyncableUserIDs returns the ids of users holding an access token that
// has not expired at now, oldest account first.
func (s *UserStore) ListSyncableUserIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, syncableUsersQuery, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *UserStore) UpdateUserTokens(ctx context.Context, id string, patch models.UserTokenPatch) (*models.User, error) {
	access, err := s.box.Seal(patch.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}
	refresh, err := s.box.Seal(patch.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("sealing refresh token: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE users
		 SET access_token = $2,
		     refresh_token = $3,
		     token_expires_at = $4
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, access, refresh, patch.TokenExpiresAt,
	)
	return s.scanUser(row)
}

func (s *UserStore) scanUser(row rowScanner) (*models.User, error) {
	var (
		user       models.User
		providerID sql.NullString
		access     string
		refresh    string
		expiresAt  sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Username, &user.Email, &providerID, &access, &refresh, &expiresAt, &user.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	user.ProviderID = providerID.String
	if expiresAt.Valid {
		t := expiresAt.Time
		user.TokenExpiresAt = &t
	}
	if user.AccessToken, err = s.box.Open(access); err != nil {
		return nil, fmt.Errorf("opening access token for user %s: %w", user.ID, err)
	}
	if user.RefreshToken, err = s.box.Open(refresh); err != nil {
		return nil, fmt.Errorf("opening refresh token for user %s: %w", user.ID, err)
	}
	return &user, nil
}
