package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/znz-systems/mailmind/internal/models"
)

var (
	// ErrInvalidMessage is returned by Normalize when a provider message
	// lacks a field that cannot be defaulted.
	ErrInvalidMessage = errors.New("invalid provider message")
	// ErrInvalidTimestamp is the ErrInvalidMessage case of a message whose
	// id is fine but whose receivedDateTime does not parse.
	ErrInvalidTimestamp = fmt.Errorf("%w: unparsable receivedDateTime", ErrInvalidMessage)
)

type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type FollowupFlag struct {
	FlagStatus string `json:"flagStatus"`
}

// RemoteMessage is a message as Graph returns it.
type RemoteMessage struct {
	ID               string        `json:"id"`
	Subject          string        `json:"subject"`
	From             *Recipient    `json:"from"`
	ToRecipients     []Recipient   `json:"toRecipients"`
	Body             *ItemBody     `json:"body"`
	BodyPreview      string        `json:"bodyPreview"`
	ReceivedDateTime string        `json:"receivedDateTime"`
	IsRead           bool          `json:"isRead"`
	Importance       string        `json:"importance"`
	Flag             *FollowupFlag `json:"flag"`
}

type messagePage struct {
	Value []RemoteMessage `json:"value"`
}

// Normalize flattens a Graph message into the canonical shape. Optional
// fields default to their zero value; a missing id or an unparsable
// received time is an error.
func Normalize(m RemoteMessage) (models.CanonicalMessage, error) {
	if strings.TrimSpace(m.ID) == "" {
		return models.CanonicalMessage{}, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	received, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
	if err != nil {
		return models.CanonicalMessage{}, fmt.Errorf("%w: message %s: %q: %v", ErrInvalidTimestamp, m.ID, m.ReceivedDateTime, err)
	}

	msg := models.CanonicalMessage{
		ID:          m.ID,
		Subject:     m.Subject,
		BodyPreview: m.BodyPreview,
		ReceivedAt:  received.UTC(),
		IsRead:      m.IsRead,
		IsImportant: strings.EqualFold(m.Importance, "high"),
	}
	if m.From != nil {
		msg.From = m.From.EmailAddress.Address
	}
	if len(m.ToRecipients) > 0 {
		to := make([]string, 0, len(m.ToRecipients))
		for _, r := range m.ToRecipients {
			if r.EmailAddress.Address != "" {
				to = append(to, r.EmailAddress.Address)
			}
		}
		msg.To = strings.Join(to, ", ")
	}
	if m.Body != nil {
		msg.Body = m.Body.Content
	}
	if m.Flag != nil {
		msg.IsFlagged = m.Flag.FlagStatus == "flagged"
	}
	return msg, nil
}

// FetchMessages returns up to pageSize messages of folder, newest first,
// skipping the first skip. A message with an unparsable received time is
// logged and left out; a message without an id fails the whole page.
func (c *Client) FetchMessages(ctx context.Context, folder string, pageSize, skip int) ([]models.CanonicalMessage, error) {
	if folder == "" {
		folder = models.DefaultFolder
	}
	query := url.Values{}
	query.Set("$top", strconv.Itoa(pageSize))
	query.Set("$orderby", "receivedDateTime desc")
	if skip > 0 {
		query.Set("$skip", strconv.Itoa(skip))
	}

	var page messagePage
	path := "/me/mailFolders/" + url.PathEscape(folder) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, fmt.Errorf("fetching %s messages: %w", folder, err)
	}

	out := make([]models.CanonicalMessage, 0, len(page.Value))
	for _, rm := range page.Value {
		msg, err := Normalize(rm)
		if errors.Is(err, ErrInvalidTimestamp) {
			slog.Warn("skipping message with invalid received time", "folder", folder, "message_id", rm.ID, "received", rm.ReceivedDateTime)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	body := map[string]any{"isRead": true}
	if err := c.do(ctx, http.MethodPatch, "/me/messages/"+url.PathEscape(id), nil, body, nil); err != nil {
		return fmt.Errorf("marking message %s read: %w", id, err)
	}
	return nil
}

func (c *Client) Flag(ctx context.Context, id string) error {
	body := map[string]any{"flag": FollowupFlag{FlagStatus: "flagged"}}
	if err := c.do(ctx, http.MethodPatch, "/me/messages/"+url.PathEscape(id), nil, body, nil); err != nil {
		return fmt.Errorf("flagging message %s: %w", id, err)
	}
	return nil
}

func (c *Client) SendReply(ctx context.Context, id, text string) error {
	body := map[string]any{"comment": text}
	if err := c.do(ctx, http.MethodPost, "/me/messages/"+url.PathEscape(id)+"/reply", nil, body, nil); err != nil {
		return fmt.Errorf("replying to message %s: %w", id, err)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, to, subject, body string) error {
	payload := map[string]any{
		"message": map[string]any{
			"subject":      subject,
			"body":         ItemBody{ContentType: "HTML", Content: body},
			"toRecipients": []Recipient{{EmailAddress: EmailAddress{Address: to}}},
		},
	}
	if err := c.do(ctx, http.MethodPost, "/me/sendMail", nil, payload, nil); err != nil {
		return fmt.Errorf("sending message to %s: %w", to, err)
	}
	return nil
}

// Profile is the signed-in account as reported by /me.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Address returns the account's mail address, falling back to the principal
// name for accounts without a mailbox address.
func (p *Profile) Address() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &p); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: profile without id", ErrProviderRejected)
	}
	return &p, nil
}
