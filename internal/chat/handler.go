package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jobchat/internal/metrics"
	myMiddleware "jobchat/internal/middleware"
)

type HandlerConfig struct {
	PongWait       time.Duration
	AllowedOrigins []string
}

type Handler struct {
	group    *GroupService
	private  *PrivateService
	hub      *Hub
	upgrader websocket.Upgrader
	pongWait time.Duration
	logger   zerolog.Logger
}

func NewHandler(group *GroupService, private *PrivateService, hub *Hub, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		group:   group,
		private: private,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		pongWait: cfg.PongWait,
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func principalFrom(r *http.Request) (Principal, bool) {
	id, username, ok := myMiddleware.PrincipalFrom(r.Context())
	if !ok {
		return Principal{}, false
	}
	return Principal{ID: id, Username: username}, true
}

// ServeGroupWs joins the caller to the (issue, job) room. Every refusal
// happens before the upgrade, so the client only sees a failed handshake.
func (h *Handler) ServeGroupWs(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		h.rejectHandshake(w, nil, ErrUnauthenticated)
		return
	}
	client := newClient(h.hub, principal, h.pongWait, h.logger)

	issueID, err1 := strconv.Atoi(chi.URLParam(r, "issue_id"))
	jobID, err2 := strconv.Atoi(chi.URLParam(r, "job_id"))
	if err1 != nil || err2 != nil {
		h.rejectHandshake(w, client, fmt.Errorf("%w: ids must be numeric", ErrValidation))
		return
	}

	room, err := h.group.Authorize(r.Context(), principal, issueID, jobID)
	if err != nil {
		h.rejectHandshake(w, client, err)
		return
	}
	client.authorize(room, func(ctx context.Context, text string) error {
		_, err := h.group.Post(ctx, room, principal, text)
		return err
	})

	h.serveSession(w, r, client)
}

// ServePrivateWs joins the caller to a private room; the counterparty is
// chosen the same way as for the HTTP endpoints.
func (h *Handler) ServePrivateWs(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		h.rejectHandshake(w, nil, ErrUnauthenticated)
		return
	}
	client := newClient(h.hub, principal, h.pongWait, h.logger)

	ref, err := contextRefFrom(r)
	if err != nil {
		h.rejectHandshake(w, client, err)
		return
	}
	userID, err := optionalUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		h.rejectHandshake(w, client, err)
		return
	}

	room, post, err := h.private.Connect(r.Context(), principal, ref, userID)
	if err != nil {
		h.rejectHandshake(w, client, err)
		return
	}
	client.authorize(room, post)

	h.serveSession(w, r, client)
}

func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request, client *Client) {
	// Join the room first: once the client sees the handshake complete it
	// receives every later event.
	if err := client.subscribe(); err != nil {
		h.rejectHandshake(w, client, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		client.Close()
		return
	}
	client.attach(conn)
	client.logger.Debug().Msg("connection subscribed")

	// The request context ends when this handler returns; keep its values
	// but not its cancellation for the lifetime of the connection.
	ctx := context.WithoutCancel(r.Context())

	go client.WritePump()
	client.ReadPump(ctx)
}

func (h *Handler) rejectHandshake(w http.ResponseWriter, client *Client, err error) {
	status := statusFor(err)
	if client != nil {
		client.reject()
	}
	metrics.Rejections.WithLabelValues(strconv.Itoa(status)).Inc()
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("websocket handshake failed")
	}
	http.Error(w, http.StatusText(status), status)
}

// GroupHistory returns the (issue, job) room's messages oldest first.
func (h *Handler) GroupHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		h.writeErr(w, ErrUnauthenticated)
		return
	}
	issueID, err1 := strconv.Atoi(chi.URLParam(r, "issue_id"))
	jobID, err2 := strconv.Atoi(chi.URLParam(r, "job_id"))
	if err1 != nil || err2 != nil {
		h.writeErr(w, fmt.Errorf("%w: ids must be numeric", ErrValidation))
		return
	}

	messages, err := h.group.History(r.Context(), principal, issueID, jobID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	views := make([]MessageView, len(messages))
	for i := range messages {
		views[i] = newMessageView(&messages[i], principal.ID)
	}
	h.JSON(w, http.StatusOK, views)
}

// PrivateMessages handles GET /api/chat/{kind}/{id}/messages?user_id=.
func (h *Handler) PrivateMessages(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		h.writeErr(w, ErrUnauthenticated)
		return
	}
	ref, err := contextRefFrom(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	userID, err := optionalUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}

	views, err := h.private.Messages(r.Context(), principal, ref, userID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusOK, views)
}

// SendPrivate handles POST /api/chat/{kind}/{id}/messages.
func (h *Handler) SendPrivate(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		h.writeErr(w, ErrUnauthenticated)
		return
	}
	ref, err := contextRefFrom(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	view, err := h.private.Send(r.Context(), principal, ref, req)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, view)
}

// Conversations handles GET /api/chat/{kind}/{id}/conversations.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		h.writeErr(w, ErrUnauthenticated)
		return
	}
	ref, err := contextRefFrom(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	conversations, err := h.private.Conversations(r.Context(), principal, ref)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.JSON(w, http.StatusOK, conversations)
}

func contextRefFrom(r *http.Request) (ContextRef, error) {
	kind, err := ParseContextKind(chi.URLParam(r, "kind"))
	if err != nil {
		return ContextRef{}, err
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return ContextRef{}, fmt.Errorf("%w: id must be numeric", ErrValidation)
	}
	return ContextRef{Kind: kind, ID: id}, nil
}

func optionalUserID(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, ErrValidation
	}
	return &id, nil
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("chat request failed")
		h.Error(w, status, "internal server error")
		return
	}
	h.Error(w, status, err.Error())
}
