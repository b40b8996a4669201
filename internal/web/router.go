package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"comfy-relay/server/internal/config"
)

func NewRouter(cfg *config.Config, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(zap.L().Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/", RestHandler(h.Root))
	r.Get("/health", RestHandler(h.Health))
	r.Get("/ws", h.Websocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", RestHandler(h.Status))
		r.Post("/test-comfyui", RestHandler(h.TestComfyUI))

		r.Post("/generate", RestHandler(h.Generate))
		r.Get("/queue", RestHandler(h.Queue))
		r.Get("/history/{prompt_id}", RestHandler(h.History))
		r.Get("/images/{filename}", h.Image)

		r.Post("/interrupt", RestHandler(h.Interrupt))
		r.Post("/clear", RestHandler(h.Clear))

		r.Get("/events/recent", RestHandler(h.RecentEvents))
	})

	return r
}
