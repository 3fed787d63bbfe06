package models

import (
	"time"
)

// DefaultFolder is the folder a synced message lands in.
const DefaultFolder = "inbox"

// SentFolder holds the user's outgoing mail, used for writing-style analysis.
const SentFolder = "sent"

type User struct {
	ID             string
	Username       string
	Email          string
	ProviderID     string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	CreatedAt      time.Time
}

// HasValidToken reports whether the user holds an access token that has not
// expired at now.
func (u *User) HasValidToken(now time.Time) bool {
	if u.AccessToken == "" {
		return false
	}
	if u.TokenExpiresAt != nil && !u.TokenExpiresAt.After(now) {
		return false
	}
	return true
}

type UserCreateParams struct {
	Username       string
	Email          string
	ProviderID     string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}

// UserTokenPatch replaces the stored credential of a user.
type UserTokenPatch struct {
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}

type Session struct {
	ID        int64
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Category is the enrichment label assigned to a message.
type Category string

const (
	CategoryUrgent        Category = "urgent"
	CategoryMeeting       Category = "meeting"
	CategoryTask          Category = "task"
	CategoryFollowUp      Category = "follow-up"
	CategoryInformational Category = "informational"
	CategorySpam          Category = "spam"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryUrgent, CategoryMeeting, CategoryTask, CategoryFollowUp, CategoryInformational, CategorySpam:
		return true
	}
	return false
}

type AIContext struct {
	Type   string `json:"type"`
	Intent string `json:"intent"`
	Tone   string `json:"tone"`
}

type Message struct {
	ID          string // provider message id
	UserID      string
	Subject     string
	From        string
	To          string
	Body        string
	BodyPreview string
	ReceivedAt  time.Time
	IsRead      bool
	IsImportant bool
	IsFlagged   bool
	Folder      string

	Category  *string
	Priority  int
	AISummary *string
	AIContext *AIContext

	CreatedAt time.Time
}

// CanonicalMessage is a provider message normalized at the mailbox boundary.
type CanonicalMessage struct {
	ID          string
	Subject     string
	From        string
	To          string
	Body        string
	BodyPreview string
	ReceivedAt  time.Time
	IsRead      bool
	IsImportant bool
	IsFlagged   bool
}

// ToMessage turns a fetched message into an unenriched record owned by userID.
func (c CanonicalMessage) ToMessage(userID, folder string) *Message {
	if folder == "" {
		folder = DefaultFolder
	}
	return &Message{
		ID:          c.ID,
		UserID:      userID,
		Subject:     c.Subject,
		From:        c.From,
		To:          c.To,
		Body:        c.Body,
		BodyPreview: c.BodyPreview,
		ReceivedAt:  c.ReceivedAt,
		IsRead:      c.IsRead,
		IsImportant: c.IsImportant,
		IsFlagged:   c.IsFlagged,
		Folder:      folder,
	}
}

// MessageStatePatch carries user-driven changes. Nil fields are left as
// stored. It never touches enrichment fields other than a manual category.
type MessageStatePatch struct {
	IsRead    *bool
	IsFlagged *bool
	Folder    *string
	Category  *string
}

// Empty reports whether the patch changes nothing.
func (p MessageStatePatch) Empty() bool {
	return p.IsRead == nil && p.IsFlagged == nil && p.Folder == nil && p.Category == nil
}

// MessageEnrichmentPatch carries the output of a classification run. It never
// touches read, flag or folder state.
type MessageEnrichmentPatch struct {
	Category  *string
	Priority  int
	AISummary *string
	AIContext *AIContext
}

// Page sizes for MessageQuery. A zero Limit means DefaultListLimit; larger
// values are clamped to MaxListLimit.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

type MessageQuery struct {
	Folder string
	Search string
	Limit  int
	Offset int
}

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatTurn struct {
	ID        int64
	UserID    string
	Role      ChatRole
	Content   string
	CreatedAt time.Time
}

type WritingStyle struct {
	Tone          string   `json:"tone"`
	Formality     string   `json:"formality"`
	CommonPhrases []string `json:"commonPhrases"`
	GreetingStyle string   `json:"greetingStyle"`
	ClosingStyle  string   `json:"closingStyle"`
	AverageLength float64  `json:"averageLength"`
}

type EmailAnalysis struct {
	ID               int64
	MessageID        string
	Sentiment        *string
	Urgency          *int
	ActionRequired   bool
	SuggestedActions []string
	WritingStyle     *WritingStyle
	CreatedAt        time.Time
}

type EmailAnalysisCreateParams struct {
	MessageID        string
	Sentiment        *string
	Urgency          *int
	ActionRequired   bool
	SuggestedActions []string
	WritingStyle     *WritingStyle
}
