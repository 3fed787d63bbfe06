package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AnswerMaxTokens caps the length of an assistant reply.
const AnswerMaxTokens = 500

// EmailContext is the reduced view of a message given to the assistant.
type EmailContext struct {
	Subject  string  `json:"subject"`
	From     string  `json:"from"`
	Category *string `json:"category"`
	Priority int     `json:"priority"`
	Summary  *string `json:"summary"`
}

type Turn struct {
	Role    Role
	Content string
}

const answerSystemPrompt = `You are an AI email assistant. Help users manage their emails, answer questions about their inbox, and provide email-related assistance.

Current email context: %s

Be helpful, concise, and professional. If asked to perform actions, explain what would be done but note that the user needs to confirm the action.`

// Answer replies to query given the user's recent mail and the prior turns of
// the conversation, oldest first.
func (e *Engine) Answer(ctx context.Context, emails []EmailContext, history []Turn, query string) (string, error) {
	summary := "No recent email context available."
	if len(emails) > 0 {
		b, err := json.Marshal(emails)
		if err != nil {
			return "", fmt.Errorf("encoding email context: %w", err)
		}
		summary = "Recent emails context: " + string(b)
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: fmt.Sprintf(answerSystemPrompt, summary)})
	for _, t := range history {
		messages = append(messages, ChatMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: query})

	text, err := e.backend.Complete(ctx, CompletionRequest{
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   AnswerMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: answer: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: answer: empty output", ErrGeneration)
	}
	return text, nil
}
