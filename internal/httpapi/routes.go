package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/hub"
	"github.com/DoyleJ11/drawsync/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger, opts ws.ServerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/lobbies", CreateLobby(h, log))
	r.Get("/lobbies/{code}", GetLobby(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log, opts))
	return r
}
