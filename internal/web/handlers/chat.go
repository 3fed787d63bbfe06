package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/znz-systems/mailmind/internal/assistant"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/web/middleware"
)

type Assistant interface {
	HandleQuery(ctx context.Context, userID, content string) (string, error)
	History(ctx context.Context, userID string) ([]models.ChatTurn, error)
}

type ChatHandler struct {
	assistant Assistant
}

func NewChatHandler(a Assistant) *ChatHandler {
	return &ChatHandler{assistant: a}
}

// HandleQuery answers a question about the caller's mailbox.
func (h *ChatHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var payload struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	reply, err := h.assistant.HandleQuery(r.Context(), user.ID, payload.Content)
	if err != nil {
		if errors.Is(err, assistant.ErrEmptyQuery) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "content is required"})
			return
		}
		writeServiceError(w, "failed to answer chat query", err, "user_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// HandleHistory returns the caller's conversation, oldest first.
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	turns, err := h.assistant.History(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "failed to load chat history", err, "user_id", user.ID)
		return
	}

	out := make([]chatTurnJSON, 0, len(turns))
	for _, t := range turns {
		out = append(out, chatTurnJSON{
			ID:        t.ID,
			Role:      string(t.Role),
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
