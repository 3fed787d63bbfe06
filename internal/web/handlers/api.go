package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/znz-systems/mailmind/internal/ai"
	"github.com/znz-systems/mailmind/internal/graph"
	"github.com/znz-systems/mailmind/internal/mailsync"
	"github.com/znz-systems/mailmind/internal/message"
	"github.com/znz-systems/mailmind/internal/models"
)

const maxRequestBodyBytes int64 = 1024 * 1024

type jsonResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into v. On failure it writes a 400
// and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return false
	}
	return true
}

// writeServiceError maps errors shared by the mailbox-facing services to a
// status code.
func writeServiceError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	switch {
	case errors.Is(err, mailsync.ErrUnauthenticated), errors.Is(err, message.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "mailbox authorization required"})
	case errors.Is(err, graph.ErrProviderRejected):
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "mail provider rejected the request"})
	case errors.Is(err, graph.ErrProviderUnavailable):
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "mail provider unavailable"})
	case errors.Is(err, ai.ErrGeneration), errors.Is(err, ai.ErrParse):
		slog.Error(msg, append(attrs, "error", err)...)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "text generation failed"})
	default:
		slog.Error(msg, append(attrs, "error", err)...)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
	}
}

type messageJSON struct {
	ID          string            `json:"id"`
	Subject     string            `json:"subject"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Body        string            `json:"body"`
	BodyPreview string            `json:"bodyPreview"`
	ReceivedAt  time.Time         `json:"receivedAt"`
	IsRead      bool              `json:"isRead"`
	IsImportant bool              `json:"isImportant"`
	IsFlagged   bool              `json:"isFlagged"`
	Folder      string            `json:"folder"`
	Category    *string           `json:"category"`
	Priority    int               `json:"priority"`
	AISummary   *string           `json:"aiSummary"`
	AIContext   *models.AIContext `json:"aiContext"`
}

func toMessageJSON(m *models.Message) messageJSON {
	return messageJSON{
		ID:          m.ID,
		Subject:     m.Subject,
		From:        m.From,
		To:          m.To,
		Body:        m.Body,
		BodyPreview: m.BodyPreview,
		ReceivedAt:  m.ReceivedAt,
		IsRead:      m.IsRead,
		IsImportant: m.IsImportant,
		IsFlagged:   m.IsFlagged,
		Folder:      m.Folder,
		Category:    m.Category,
		Priority:    m.Priority,
		AISummary:   m.AISummary,
		AIContext:   m.AIContext,
	}
}

type analysisJSON struct {
	ID               int64                `json:"id"`
	MessageID        string               `json:"messageId"`
	Sentiment        *string              `json:"sentiment"`
	Urgency          *int                 `json:"urgency"`
	ActionRequired   bool                 `json:"actionRequired"`
	SuggestedActions []string             `json:"suggestedActions"`
	WritingStyle     *models.WritingStyle `json:"writingStyle"`
	CreatedAt        time.Time            `json:"createdAt"`
}

func toAnalysisJSON(a *models.EmailAnalysis) analysisJSON {
	actions := a.SuggestedActions
	if actions == nil {
		actions = []string{}
	}
	return analysisJSON{
		ID:               a.ID,
		MessageID:        a.MessageID,
		Sentiment:        a.Sentiment,
		Urgency:          a.Urgency,
		ActionRequired:   a.ActionRequired,
		SuggestedActions: actions,
		WritingStyle:     a.WritingStyle,
		CreatedAt:        a.CreatedAt,
	}
}

type chatTurnJSON struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
