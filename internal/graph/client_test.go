package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewService(srv.URL).Open("test-token")
}

func TestNormalize(t *testing.T) {
	rm := RemoteMessage{
		ID:               "msg-1",
		Subject:          "Quarterly numbers",
		From:             &Recipient{EmailAddress: EmailAddress{Address: "alice@example.com", Name: "Alice"}},
		ToRecipients:     []Recipient{{EmailAddress: EmailAddress{Address: "bob@example.com"}}, {EmailAddress: EmailAddress{Address: "carol@example.com"}}},
		Body:             &ItemBody{ContentType: "html", Content: "<p>hi</p>"},
		BodyPreview:      "hi",
		ReceivedDateTime: "2024-03-01T09:30:00Z",
		IsRead:           true,
		Importance:       "high",
		Flag:             &FollowupFlag{FlagStatus: "flagged"},
	}

	msg, err := Normalize(rm)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if msg.ID != "msg-1" || msg.From != "alice@example.com" {
		t.Errorf("got id %q from %q", msg.ID, msg.From)
	}
	if msg.To != "bob@example.com, carol@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Body != "<p>hi</p>" {
		t.Errorf("Body = %q", msg.Body)
	}
	if !msg.IsRead || !msg.IsImportant || !msg.IsFlagged {
		t.Errorf("flags: read=%v important=%v flagged=%v", msg.IsRead, msg.IsImportant, msg.IsFlagged)
	}
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	if !msg.ReceivedAt.Equal(want) {
		t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, want)
	}
}

func TestNormalizeDefaultsAbsentFields(t *testing.T) {
	msg, err := Normalize(RemoteMessage{ID: "msg-2", ReceivedDateTime: "2024-03-01T09:30:00Z"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if msg.From != "" || msg.To != "" || msg.Body != "" || msg.Subject != "" {
		t.Errorf("expected empty strings, got %+v", msg)
	}
	if msg.IsRead || msg.IsImportant || msg.IsFlagged {
		t.Errorf("expected false flags, got %+v", msg)
	}
}

func TestNormalizeRejectsMissingID(t *testing.T) {
	_, err := Normalize(RemoteMessage{ReceivedDateTime: "2024-03-01T09:30:00Z"})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestNormalizeRejectsBadTimestamp(t *testing.T) {
	_, err := Normalize(RemoteMessage{ID: "msg-3", ReceivedDateTime: "yesterday"})
	if !errors.Is(err, ErrInvalidTimestamp) || !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestFetchMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/mailFolders/inbox/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("$top") != "2" || q.Get("$skip") != "4" || q.Get("$orderby") != "receivedDateTime desc" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"value":[
			{"id":"b","subject":"newer","receivedDateTime":"2024-03-02T00:00:00Z"},
			{"id":"a","subject":"older","receivedDateTime":"2024-03-01T00:00:00Z"}
		]}`)
	})

	msgs, err := c.FetchMessages(context.Background(), "inbox", 2, 4)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "b" || msgs[1].ID != "a" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestFetchMessagesFailsOnInvalidMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"value":[{"subject":"no id","receivedDateTime":"2024-03-02T00:00:00Z"}]}`)
	})

	_, err := c.FetchMessages(context.Background(), "inbox", 10, 0)
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("missing id reported as a timestamp problem: %v", err)
	}
}

func TestFetchMessagesSkipsBadTimestamp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"value":[
			{"id":"c","subject":"newest","receivedDateTime":"2024-03-03T00:00:00Z"},
			{"id":"b","subject":"garbled","receivedDateTime":"03/02/2024"},
			{"id":"a","subject":"oldest","receivedDateTime":"2024-03-01T00:00:00Z"}
		]}`)
	})

	msgs, err := c.FetchMessages(context.Background(), "inbox", 10, 0)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "c" || msgs[1].ID != "a" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrProviderUnavailable},
		{http.StatusForbidden, ErrProviderUnavailable},
		{http.StatusTooManyRequests, ErrProviderUnavailable},
		{http.StatusBadGateway, ErrProviderUnavailable},
		{http.StatusBadRequest, ErrProviderRejected},
		{http.StatusNotFound, ErrProviderRejected},
	}

	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"code":"x"}}`, tt.status)
		})
		err := c.MarkRead(context.Background(), "msg-1")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewService(url).Open("t").FetchMessages(context.Background(), "inbox", 1, 0)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestRejectedRequestsDoNotTripBreaker(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad recipient", http.StatusBadRequest)
	})

	for i := 0; i < 12; i++ {
		err := c.SendMessage(context.Background(), "nobody", "s", "b")
		if !errors.Is(err, ErrProviderRejected) {
			t.Fatalf("call %d: expected ErrProviderRejected, got %v", i, err)
		}
	}
	if calls != 12 {
		t.Errorf("expected every request to reach the server, got %d", calls)
	}
}

func TestOpenBreakerIsUnavailable(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	for i := 0; i < 6; i++ {
		_ = c.MarkRead(context.Background(), "m")
	}
	err := c.MarkRead(context.Background(), "m")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if calls != 6 {
		t.Errorf("expected breaker to stop requests after 6 failures, server saw %d", calls)
	}
}

func TestWriteOperations(t *testing.T) {
	type seen struct {
		method, path string
		body         map[string]any
	}
	var got []seen
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, seen{r.Method, r.URL.Path, body})
		w.WriteHeader(http.StatusAccepted)
	})
	ctx := context.Background()

	if err := c.MarkRead(ctx, "m1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := c.Flag(ctx, "m1"); err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if err := c.SendReply(ctx, "m1", "thanks"); err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if err := c.SendMessage(ctx, "bob@example.com", "hello", "<p>hi</p>"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(got))
	}
	if got[0].method != http.MethodPatch || got[0].path != "/me/messages/m1" || got[0].body["isRead"] != true {
		t.Errorf("MarkRead request: %+v", got[0])
	}
	flag, _ := got[1].body["flag"].(map[string]any)
	if got[1].method != http.MethodPatch || flag["flagStatus"] != "flagged" {
		t.Errorf("Flag request: %+v", got[1])
	}
	if got[2].method != http.MethodPost || got[2].path != "/me/messages/m1/reply" || got[2].body["comment"] != "thanks" {
		t.Errorf("SendReply request: %+v", got[2])
	}
	msg, _ := got[3].body["message"].(map[string]any)
	if got[3].path != "/me/sendMail" || msg["subject"] != "hello" {
		t.Errorf("SendMessage request: %+v", got[3])
	}
}

func TestProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"id":"ms-1","displayName":"Alice","mail":null,"userPrincipalName":"alice@contoso.com"}`)
	})

	p, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.ID != "ms-1" || p.DisplayName != "Alice" {
		t.Errorf("unexpected profile %+v", p)
	}
	if !strings.EqualFold(p.Address(), "alice@contoso.com") {
		t.Errorf("Address() = %q", p.Address())
	}
}
