package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/znz-systems/mailmind/internal/auth"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/ratelimit"
)

type fakeValidator struct {
	users map[string]*models.User
	err   error
}

func (f *fakeValidator) ValidateSession(_ context.Context, token string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[token]
	if !ok {
		return nil, auth.ErrInvalidSession
	}
	return u, nil
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(user.ID))
}

func TestRequireAuth(t *testing.T) {
	v := &fakeValidator{users: map[string]*models.User{"good": {ID: "u1"}}}
	h := RequireAuth(v)(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"}) }, http.StatusOK, "u1"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK, "u1"},
		{"lowercase bearer", func(r *http.Request) { r.Header.Set("Authorization", "bearer good") }, http.StatusOK, "u1"},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"unknown token", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "bad"}) }, http.StatusUnauthorized, ""},
		{"basic auth", func(r *http.Request) { r.Header.Set("Authorization", "Basic Z29vZA==") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if tt.status == http.StatusOK && rr.Body.String() != tt.body {
				t.Errorf("body = %q", rr.Body.String())
			}
			if tt.status == http.StatusUnauthorized && rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON 401, got %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRequireAuthStoreFailure(t *testing.T) {
	h := RequireAuth(&fakeValidator{err: errors.New("db down")})(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := ratelimit.NewLimiter(0.001, 1)
	h := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(user *models.User) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if user != nil {
			req = req.WithContext(context.WithValue(req.Context(), UserContextKey, user))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do(&models.User{ID: "u1"}); code != http.StatusOK {
		t.Fatalf("first request for u1: %d", code)
	}
	if code := do(&models.User{ID: "u1"}); code != http.StatusTooManyRequests {
		t.Errorf("second request for u1: %d", code)
	}
	// Same IP, different user, separate bucket.
	if code := do(&models.User{ID: "u2"}); code != http.StatusOK {
		t.Errorf("first request for u2: %d", code)
	}
	// Anonymous requests fall back to the IP bucket.
	if code := do(nil); code != http.StatusOK {
		t.Errorf("first anonymous request: %d", code)
	}
	if code := do(nil); code != http.StatusTooManyRequests {
		t.Errorf("second anonymous request: %d", code)
	}
}
