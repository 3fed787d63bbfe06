package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/znz-systems/mailmind/internal/message"
	"github.com/znz-systems/mailmind/internal/models"
	"github.com/znz-systems/mailmind/internal/web/middleware"
)

// MessageService is the part of message.Service the handlers use.
type MessageService interface {
	List(ctx context.Context, userID string, q models.MessageQuery) ([]models.Message, error)
	Analysis(ctx context.Context, userID, id string) (*models.EmailAnalysis, error)
	Update(ctx context.Context, userID, id string, patch models.MessageStatePatch) (*models.Message, error)
	DraftReply(ctx context.Context, userID, id, instruction string) (string, error)
	SendReply(ctx context.Context, userID, id, text string) error
	Compose(ctx context.Context, userID, to, subject, body string) error
}

type MessageHandler struct {
	messages MessageService
}

func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// HandleList returns the caller's messages in a folder, newest first,
// optionally filtered by a search term. limit defaults to 100 and may not
// exceed 500; offset pages past earlier results.
func (h *MessageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	q := r.URL.Query()

	query := models.MessageQuery{Folder: q.Get("folder"), Search: q.Get("q")}
	var ok bool
	if query.Limit, ok = intParam(q.Get("limit"), 1, models.MaxListLimit); !ok {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: fmt.Sprintf("limit must be between 1 and %d", models.MaxListLimit)})
		return
	}
	if query.Offset, ok = intParam(q.Get("offset"), 0, math.MaxInt32); !ok {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "offset must be a non-negative integer"})
		return
	}

	msgs, err := h.messages.List(r.Context(), user.ID, query)
	if err != nil {
		writeServiceError(w, "failed to list messages", err, "user_id", user.ID)
		return
	}

	out := make([]messageJSON, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageJSON(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleUpdate applies read, flag, folder or category changes.
func (h *MessageHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "messageID")

	var payload struct {
		IsRead    *bool   `json:"isRead"`
		IsFlagged *bool   `json:"isFlagged"`
		Folder    *string `json:"folder"`
		Category  *string `json:"category"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	msg, err := h.messages.Update(r.Context(), user.ID, id, models.MessageStatePatch{
		IsRead:    payload.IsRead,
		IsFlagged: payload.IsFlagged,
		Folder:    payload.Folder,
		Category:  payload.Category,
	})
	if err != nil {
		switch {
		case errors.Is(err, message.ErrInvalidCategory):
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid category"})
		case errors.Is(err, message.ErrInvalidFolder):
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid folder"})
		default:
			writeServiceError(w, "failed to update message", err, "message_id", id)
		}
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "message not found"})
		return
	}
	writeJSON(w, http.StatusOK, toMessageJSON(msg))
}

// HandleAnalysis returns the latest analysis of a message.
func (h *MessageHandler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "messageID")

	a, err := h.messages.Analysis(r.Context(), user.ID, id)
	if err != nil {
		writeServiceError(w, "failed to get analysis", err, "message_id", id)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "analysis not found"})
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisJSON(a))
}

// HandleDraft generates a reply in the caller's writing style.
func (h *MessageHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "messageID")

	var payload struct {
		Context string `json:"context"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &payload) {
		return
	}

	reply, err := h.messages.DraftReply(r.Context(), user.ID, id, payload.Context)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "message not found"})
			return
		}
		writeServiceError(w, "failed to draft reply", err, "message_id", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// HandleReply sends a reply to a message through the provider.
func (h *MessageHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "messageID")

	var payload struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.messages.SendReply(r.Context(), user.ID, id, payload.Body); err != nil {
		if errors.Is(err, message.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "message not found"})
			return
		}
		writeServiceError(w, "failed to send reply", err, "message_id", id)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleSend composes and sends a new message.
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var payload struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.messages.Compose(r.Context(), user.ID, payload.To, payload.Subject, payload.Body); err != nil {
		if errors.Is(err, message.ErrMissingRecipient) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "recipient is required"})
			return
		}
		writeServiceError(w, "failed to send message", err, "user_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// intParam parses an optional integer query parameter. An empty value yields
// zero so the service default applies.
func intParam(v string, lo, hi int) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}
