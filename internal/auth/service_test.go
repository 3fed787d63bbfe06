package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/znz-systems/mailmind/internal/graph"
	"github.com/znz-systems/mailmind/internal/models"
)

// --- Mock stores ---

type mockUserStore struct {
	usersByID       map[string]*models.User
	usersByProvider map[string]*models.User
	createErr       error
	nextID          int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		usersByID:       make(map[string]*models.User),
		usersByProvider: make(map[string]*models.User),
		nextID:          1,
	}
}

func (m *mockUserStore) CreateUser(_ context.Context, p models.UserCreateParams) (*models.User, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	u := &models.User{
		ID:             fmt.Sprintf("user-%d", m.nextID),
		Username:       p.Username,
		Email:          p.Email,
		ProviderID:     p.ProviderID,
		AccessToken:    p.AccessToken,
		RefreshToken:   p.RefreshToken,
		TokenExpiresAt: p.TokenExpiresAt,
		CreatedAt:      time.Now(),
	}
	m.nextID++
	m.usersByID[u.ID] = u
	m.usersByProvider[u.ProviderID] = u
	return u, nil
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return m.usersByID[id], nil
}

func (m *mockUserStore) GetUserByProviderID(_ context.Context, providerID string) (*models.User, error) {
	return m.usersByProvider[providerID], nil
}

func (m *mockUserStore) UpdateUserTokens(_ context.Context, id string, patch models.UserTokenPatch) (*models.User, error) {
	u, ok := m.usersByID[id]
	if !ok {
		return nil, nil
	}
	u.AccessToken = patch.AccessToken
	u.RefreshToken = patch.RefreshToken
	u.TokenExpiresAt = patch.TokenExpiresAt
	return u, nil
}

type mockSessionStore struct {
	sessions  map[string]*models.Session
	createErr error
	nextID    int64
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions: make(map[string]*models.Session),
		nextID:   1,
	}
}

func (m *mockSessionStore) CreateSession(_ context.Context, token, userID string, expiresAt time.Time) (*models.Session, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	s := &models.Session{
		ID:        m.nextID,
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	m.nextID++
	m.sessions[token] = s
	return s, nil
}

func (m *mockSessionStore) GetSessionByToken(_ context.Context, token string) (*models.Session, error) {
	return m.sessions[token], nil
}

func (m *mockSessionStore) DeleteSession(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

func (m *mockSessionStore) DeleteExpiredSessions(_ context.Context) error {
	now := time.Now()
	for token, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, token)
		}
	}
	return nil
}

type fakeProvider struct {
	grant       *Grant
	identity    *Identity
	exchangeErr error
	lastState   string
}

func (f *fakeProvider) AuthCodeURL(state string) string {
	f.lastState = state
	return "https://login.example.com/authorize?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (*Grant, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.grant, nil
}

func (f *fakeProvider) Profile(_ context.Context, _ string) (*Identity, error) {
	return f.identity, nil
}

func newTestService() (*Service, *mockUserStore, *mockSessionStore, *fakeProvider) {
	users := newMockUserStore()
	sessions := newMockSessionStore()
	expiry := time.Now().Add(time.Hour)
	provider := &fakeProvider{
		grant:    &Grant{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: &expiry},
		identity: &Identity{ID: "ms-1", DisplayName: "Alice", Email: "alice@example.com"},
	}
	return NewService(users, sessions, provider, 72), users, sessions, provider
}

// --- Tests ---

func TestBeginLogin(t *testing.T) {
	svc, _, _, provider := newTestService()

	authURL, state, err := svc.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if len(state) != 64 || provider.lastState != state {
		t.Errorf("unexpected state %q", state)
	}
	if !strings.Contains(authURL, state) {
		t.Errorf("auth URL %q does not carry state", authURL)
	}
}

func TestCompleteLogin_NewUser(t *testing.T) {
	svc, users, _, _ := newTestService()

	session, err := svc.CompleteLogin(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if session.Token == "" {
		t.Error("expected session token to be set")
	}

	user := users.usersByID[session.UserID]
	if user == nil {
		t.Fatal("expected user to be created")
	}
	if user.Email != "alice@example.com" || user.Username != "Alice" || user.ProviderID != "ms-1" {
		t.Errorf("unexpected user %+v", user)
	}
	if user.AccessToken != "access-1" || user.RefreshToken != "refresh-1" || user.TokenExpiresAt == nil {
		t.Errorf("tokens not stored: %+v", user)
	}
	if time.Until(session.ExpiresAt) < 71*time.Hour {
		t.Errorf("session expires too soon: %v", session.ExpiresAt)
	}
}

func TestCompleteLogin_ExistingUserKeepsRefreshToken(t *testing.T) {
	svc, users, _, provider := newTestService()

	first, err := svc.CompleteLogin(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}

	provider.grant = &Grant{AccessToken: "access-2"}
	second, err := svc.CompleteLogin(context.Background(), "code-2")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if second.UserID != first.UserID {
		t.Errorf("expected same user, got %s and %s", first.UserID, second.UserID)
	}
	if len(users.usersByID) != 1 {
		t.Errorf("expected one user, got %d", len(users.usersByID))
	}

	user := users.usersByID[first.UserID]
	if user.AccessToken != "access-2" {
		t.Errorf("access token not updated: %q", user.AccessToken)
	}
	if user.RefreshToken != "refresh-1" {
		t.Errorf("refresh token lost: %q", user.RefreshToken)
	}
}

func TestCompleteLogin_Errors(t *testing.T) {
	svc, _, _, provider := newTestService()

	if _, err := svc.CompleteLogin(context.Background(), ""); !errors.Is(err, ErrMissingCode) {
		t.Errorf("expected ErrMissingCode, got %v", err)
	}

	provider.identity = &Identity{ID: "ms-2"}
	if _, err := svc.CompleteLogin(context.Background(), "code"); !errors.Is(err, ErrNoEmail) {
		t.Errorf("expected ErrNoEmail, got %v", err)
	}

	exchangeErr := errors.New("invalid_grant")
	provider.exchangeErr = exchangeErr
	if _, err := svc.CompleteLogin(context.Background(), "code"); !errors.Is(err, exchangeErr) {
		t.Errorf("expected exchange error, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc, _, _, _ := newTestService()
	session, _ := svc.CompleteLogin(context.Background(), "code-1")

	err := svc.Logout(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	// Session should no longer be valid
	_, err = svc.ValidateSession(context.Background(), session.Token)
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession after logout, got %v", err)
	}
}

func TestValidateSession_Valid(t *testing.T) {
	svc, _, _, _ := newTestService()
	session, _ := svc.CompleteLogin(context.Background(), "code-1")

	user, err := svc.ValidateSession(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("validate session failed: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("expected email alice@example.com, got %s", user.Email)
	}
}

func TestValidateSession_InvalidToken(t *testing.T) {
	svc, _, _, _ := newTestService()

	for _, token := range []string{"", "bogus-token"} {
		if _, err := svc.ValidateSession(context.Background(), token); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("token %q: expected ErrInvalidSession, got %v", token, err)
		}
	}
}

func TestValidateSession_Expired(t *testing.T) {
	svc, _, sessions, _ := newTestService()
	session, _ := svc.CompleteLogin(context.Background(), "code-1")
	sessions.sessions[session.Token].ExpiresAt = time.Now().Add(-time.Minute)

	if _, err := svc.ValidateSession(context.Background(), session.Token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession, got %v", err)
	}

	if err := svc.CleanupExpiredSessions(context.Background()); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if len(sessions.sessions) != 0 {
		t.Errorf("expected expired session removed, %d left", len(sessions.sessions))
	}
}

func TestGenerateToken(t *testing.T) {
	token1, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if len(token1) != 64 { // 32 bytes = 64 hex chars
		t.Errorf("expected 64-char token, got %d chars", len(token1))
	}

	token2, _ := GenerateToken()
	if token1 == token2 {
		t.Error("expected unique tokens")
	}
}

func TestStateMatches(t *testing.T) {
	if !StateMatches("abc", "abc") {
		t.Error("expected equal states to match")
	}
	if StateMatches("abc", "abd") || StateMatches("", "") || StateMatches("abc", "") {
		t.Error("expected mismatched or empty states to fail")
	}
}

func TestMicrosoftProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		if form.Get("code") != "code-1" || form.Get("grant_type") != "authorization_code" {
			t.Errorf("unexpected token request %v", form)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		io.WriteString(w, `{"id":"ms-9","displayName":"Bob","mail":"bob@example.com"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewMicrosoftProvider(MicrosoftConfig{
		ClientID:    "client",
		RedirectURL: "http://localhost/auth/callback",
	}, graph.NewService(srv.URL))

	authURL := p.AuthCodeURL("state-1")
	if !strings.HasPrefix(authURL, "https://login.microsoftonline.com/common/oauth2/v2.0/authorize") {
		t.Errorf("auth URL = %s", authURL)
	}
	if !strings.Contains(authURL, "offline_access") || !strings.Contains(authURL, "state=state-1") {
		t.Errorf("auth URL missing scope or state: %s", authURL)
	}

	p.oauth.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	grant, err := p.Exchange(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if grant.AccessToken != "at" || grant.RefreshToken != "rt" || grant.Expiry == nil {
		t.Errorf("unexpected grant %+v", grant)
	}

	identity, err := p.Profile(context.Background(), grant.AccessToken)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if identity.ID != "ms-9" || identity.Email != "bob@example.com" || identity.DisplayName != "Bob" {
		t.Errorf("unexpected identity %+v", identity)
	}
}
