package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	myMiddleware "jobchat/internal/middleware"
)

type Handler struct {
	repo   *Repository
	logger zerolog.Logger
}

func NewHandler(repo *Repository, logger zerolog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	notifications, err := h.repo.ListForRecipient(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("listing notifications failed")
		writeError(w, http.StatusInternalServerError, "failed to fetch notifications")
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	count, err := h.repo.UnreadCount(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("counting notifications failed")
		writeError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}

	if err := h.repo.MarkRead(r.Context(), id, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		h.logger.Error().Err(err).Int("notification_id", id).Msg("mark read failed")
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.repo.MarkAllRead(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("mark all read failed")
		writeError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
