package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/quendale/supportchat/internal/handler/widget"
	"github.com/quendale/supportchat/internal/identity"
	middlewarePkg "github.com/quendale/supportchat/internal/middleware"
	"github.com/quendale/supportchat/internal/service/conversation"
	"github.com/quendale/supportchat/internal/service/realtime"
	"github.com/quendale/supportchat/pkg/utils"
)

// NewRouter wires HTTP routes to the conversation engine.
func NewRouter(manager *conversation.Manager, hub *realtime.Hub, authSecret string, cookies identity.CookieConfig, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	widgetHandler := widget.New(manager, hub, authSecret, cookies, log)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		api.Route("/widget", func(api chi.Router) {
			widgetHandler.RegisterRoutes(api)
		})
	})

	return r
}
