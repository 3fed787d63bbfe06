package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/znz-systems/mailmind/internal/models"
)

var (
	// ErrParse means the backend answered but the output did not match the
	// expected structure.
	ErrParse = errors.New("unparsable model output")
	// ErrGeneration means the backend failed or produced no usable text.
	ErrGeneration = errors.New("text generation failed")
)

// Engine builds prompts for the backend and turns its answers into typed
// results.
type Engine struct {
	backend Backend
}

func NewEngine(backend Backend) *Engine {
	return &Engine{backend: backend}
}

// Classification is the enrichment result for one message.
type Classification struct {
	Category         models.Category  `json:"category"`
	Priority         int              `json:"priority"`
	Urgency          int              `json:"urgency"`
	Sentiment        string           `json:"sentiment"`
	ActionRequired   bool             `json:"actionRequired"`
	SuggestedActions []string         `json:"suggestedActions"`
	Summary          string           `json:"summary"`
	Context          models.AIContext `json:"context"`
}

// EnrichmentPatch returns the message fields owned by enrichment.
func (c *Classification) EnrichmentPatch() models.MessageEnrichmentPatch {
	category := string(c.Category)
	summary := c.Summary
	aiContext := c.Context
	return models.MessageEnrichmentPatch{
		Category:  &category,
		Priority:  c.Priority,
		AISummary: &summary,
		AIContext: &aiContext,
	}
}

// AnalysisParams returns the analysis record for messageID.
func (c *Classification) AnalysisParams(messageID string) models.EmailAnalysisCreateParams {
	sentiment := c.Sentiment
	urgency := c.Urgency
	return models.EmailAnalysisCreateParams{
		MessageID:        messageID,
		Sentiment:        &sentiment,
		Urgency:          &urgency,
		ActionRequired:   c.ActionRequired,
		SuggestedActions: c.SuggestedActions,
	}
}

const classifySystemPrompt = "You are an expert email analyst. Analyze emails and provide structured insights in JSON format."

const classifyPromptTemplate = `Analyze this email and provide a JSON response with the following structure:
{
  "category": "urgent|meeting|task|follow-up|informational|spam",
  "priority": 1-5,
  "urgency": 1-5,
  "sentiment": "positive|negative|neutral",
  "actionRequired": boolean,
  "suggestedActions": ["array of suggested actions"],
  "summary": "brief summary in 1-2 sentences",
  "context": {
    "type": "work|meeting|request|reminder|notification",
    "intent": "follow-up|rsvp|complaint|opportunity|information",
    "tone": "formal|informal|urgent|friendly|professional"
  }
}

Email Details:
From: %s
Subject: %s
Body: %s`

// Classify asks the backend to categorize one message.
func (e *Engine) Classify(ctx context.Context, subject, body, from string) (*Classification, error) {
	raw, err := e.backend.Complete(ctx, CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: classifySystemPrompt},
			{Role: RoleUser, Content: fmt.Sprintf(classifyPromptTemplate, from, subject, body)},
		},
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: classify: %w", ErrGeneration, err)
	}
	return parseClassification(raw)
}

func parseClassification(raw string) (*Classification, error) {
	var c Classification
	if err := decodeStrict(raw, &c); err != nil {
		return nil, err
	}

	c.Category = models.Category(strings.ToLower(strings.TrimSpace(string(c.Category))))
	c.Sentiment = strings.ToLower(strings.TrimSpace(c.Sentiment))
	c.Summary = strings.TrimSpace(c.Summary)

	switch {
	case !c.Category.Valid():
		return nil, fmt.Errorf("%w: unknown category %q", ErrParse, c.Category)
	case c.Priority < 1 || c.Priority > 5:
		return nil, fmt.Errorf("%w: priority %d out of range", ErrParse, c.Priority)
	case c.Urgency < 1 || c.Urgency > 5:
		return nil, fmt.Errorf("%w: urgency %d out of range", ErrParse, c.Urgency)
	case !validSentiment(c.Sentiment):
		return nil, fmt.Errorf("%w: unknown sentiment %q", ErrParse, c.Sentiment)
	case c.Summary == "":
		return nil, fmt.Errorf("%w: missing summary", ErrParse)
	}
	if c.SuggestedActions == nil {
		c.SuggestedActions = []string{}
	}
	return &c, nil
}

func validSentiment(s string) bool {
	switch s {
	case "positive", "negative", "neutral":
		return true
	}
	return false
}

// decodeStrict reads exactly one JSON object from raw into v. Type mismatches
// and trailing data are parse errors.
func decodeStrict(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty output", ErrParse)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after object", ErrParse)
	}
	return nil
}
