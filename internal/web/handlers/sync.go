package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/znz-systems/mailmind/internal/mailsync"
	"github.com/znz-systems/mailmind/internal/web/middleware"
)

type Syncer interface {
	SyncUser(ctx context.Context, userID string) (int, error)
}

type SyncHandler struct {
	syncer Syncer
}

func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// HandleSync pulls new mail for the signed-in user and reports how many
// messages were stored.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	n, err := h.syncer.SyncUser(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, mailsync.ErrUserNotFound) {
			writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "unknown user"})
			return
		}
		writeServiceError(w, "failed to sync mailbox", err, "user_id", user.ID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": n})
}
