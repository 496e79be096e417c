package widget

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/identity"
	"github.com/quendale/supportchat/internal/model/chat"
	"github.com/quendale/supportchat/internal/service/conversation"
	"github.com/quendale/supportchat/internal/service/orchestrator"
	"github.com/quendale/supportchat/internal/service/realtime"
	"github.com/quendale/supportchat/internal/service/session"
	"github.com/quendale/supportchat/pkg/utils"
)

// Handler exposes the widget API: session activation, message send/list,
// and the realtime event feed.
type Handler struct {
	manager    *conversation.Manager
	hub        *realtime.Hub
	authSecret string
	cookies    identity.CookieConfig
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// New creates the widget handler.
func New(manager *conversation.Manager, hub *realtime.Hub, authSecret string, cookies identity.CookieConfig, log zerolog.Logger) *Handler {
	return &Handler{
		manager:    manager,
		hub:        hub,
		authSecret: authSecret,
		cookies:    cookies,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.With().Str("component", "widget").Logger(),
	}
}

// RegisterRoutes registers the widget routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleActivate)
	r.Delete("/session", h.handleClose)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handleSendMessage)
		r.Get("/events", h.handleEvents)
	})
}

type activateResponse struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

// handleActivate is the widget-open entry point: resolve (or create) the
// session for the caller's identity and return it with its history.
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ident, err := identity.FromRequest(r, h.authSecret)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ids := identity.NewCookieStore(w, r, h.cookies)
	conv, err := h.manager.Activate(r.Context(), ident, ids)
	if err != nil {
		if errors.Is(err, session.ErrCannotStartConversation) {
			utils.RespondError(w, http.StatusServiceUnavailable, "cannot start conversation")
			return
		}
		h.log.Error().Err(err).Msg("activation failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to activate widget")
		return
	}

	utils.RespondJSON(w, http.StatusOK, activateResponse{
		Session:  conv.Session(),
		Messages: conv.Messages(),
	})
}

// handleClose detaches the caller's conversation. Idempotent.
func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookies.SessionName); err == nil && c.Value != "" {
		h.manager.Deactivate(c.Value)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationFor(r)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "conversation not active")
		return
	}

	payload := map[string]any{
		"messages": conv.Messages(),
		"inFlight": conv.InFlight(),
	}
	if err := conv.LastError(); err != nil {
		payload["notice"] = orchestrator.ErrAssistantUnavailable.Error()
	}

	utils.RespondJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationFor(r)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "conversation not active")
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch err := conv.Send(payload.Content); {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrSendInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.log.Error().Err(err).Msg("send failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to send message")
	default:
		utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// conversationFor looks up the active conversation for the path session id,
// requiring that it matches the caller's session cookie so one visitor
// cannot address another's conversation.
func (h *Handler) conversationFor(r *http.Request) (*conversation.Conversation, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	c, err := r.Cookie(h.cookies.SessionName)
	if err != nil || c.Value != sessionID {
		return nil, false
	}
	return h.manager.Get(sessionID)
}
