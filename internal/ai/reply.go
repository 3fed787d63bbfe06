package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/znz-systems/mailmind/internal/models"
)

// MaxStyleSamples caps how many sent messages feed one style analysis.
const MaxStyleSamples = 20

type SentSample struct {
	Subject string
	Body    string
}

// Original is the message being replied to.
type Original struct {
	Subject string
	Body    string
	From    string
}

// DefaultWritingStyle is used when the user has no sent mail to learn from.
func DefaultWritingStyle() *models.WritingStyle {
	return &models.WritingStyle{
		Tone:          "professional",
		Formality:     "neutral",
		CommonPhrases: []string{},
		GreetingStyle: "Hi,",
		ClosingStyle:  "Best regards,",
		AverageLength: 0,
	}
}

const styleSystemPrompt = "You are an expert in writing style analysis. Analyze email patterns and extract writing characteristics."

const stylePromptTemplate = `Analyze the writing style from these sent emails and provide a JSON response:
{
  "tone": "formal|informal|professional|casual",
  "formality": "very formal|formal|neutral|informal|very informal",
  "commonPhrases": ["array of frequently used phrases"],
  "greetingStyle": "typical greeting pattern",
  "closingStyle": "typical closing pattern",
  "averageLength": average_word_count
}

Emails to analyze:
%s`

// DeriveWritingStyle profiles the user's writing from at most
// MaxStyleSamples sent messages, taken from the front of samples.
func (e *Engine) DeriveWritingStyle(ctx context.Context, samples []SentSample) (*models.WritingStyle, error) {
	if len(samples) == 0 {
		return DefaultWritingStyle(), nil
	}
	if len(samples) > MaxStyleSamples {
		samples = samples[:MaxStyleSamples]
	}

	texts := make([]string, 0, len(samples))
	for _, s := range samples {
		texts = append(texts, fmt.Sprintf("Subject: %s\nBody: %s", s.Subject, s.Body))
	}

	raw, err := e.backend.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: styleSystemPrompt},
			{Role: RoleUser, Content: fmt.Sprintf(stylePromptTemplate, strings.Join(texts, "\n\n---\n\n"))},
		},
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: writing style: %w", ErrGeneration, err)
	}

	var style models.WritingStyle
	if err := decodeStrict(raw, &style); err != nil {
		return nil, err
	}
	if strings.TrimSpace(style.Tone) == "" || strings.TrimSpace(style.Formality) == "" {
		return nil, fmt.Errorf("%w: writing style missing tone or formality", ErrParse)
	}
	if style.AverageLength < 0 {
		return nil, fmt.Errorf("%w: negative average length", ErrParse)
	}
	if style.CommonPhrases == nil {
		style.CommonPhrases = []string{}
	}
	return &style, nil
}

const replySystemPrompt = "You are an expert email writer. Generate replies that match the user's writing style and appropriately respond to the context."

const replyPromptTemplate = `Generate a reply to this email using the user's writing style:

Original Email:
From: %s
Subject: %s
Body: %s

User's Writing Style:
- Tone: %s
- Formality: %s
- Typical greeting: %s
- Typical closing: %s
- Common phrases: %s

Context: %s

Generate a professional reply that matches the user's writing style and appropriately responds to the original email.`

// GenerateReply drafts a reply to original in the given style. The result is
// the backend's text as is.
func (e *Engine) GenerateReply(ctx context.Context, original Original, style *models.WritingStyle, instruction string) (string, error) {
	if style == nil {
		style = DefaultWritingStyle()
	}
	prompt := fmt.Sprintf(replyPromptTemplate,
		original.From, original.Subject, original.Body,
		style.Tone, style.Formality, style.GreetingStyle, style.ClosingStyle,
		strings.Join(style.CommonPhrases, ", "),
		instruction,
	)

	text, err := e.backend.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: replySystemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("%w: reply: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: reply: empty output", ErrGeneration)
	}
	return text, nil
}
