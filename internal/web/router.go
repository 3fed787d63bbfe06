package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/znz-systems/mailmind/internal/ratelimit"
	"github.com/znz-systems/mailmind/internal/web/handlers"
	"github.com/znz-systems/mailmind/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	AuthHandler    *handlers.AuthHandler
	SyncHandler    *handlers.SyncHandler
	MessageHandler *handlers.MessageHandler
	ChatHandler    *handlers.ChatHandler
	HealthHandler  *handlers.HealthHandler
	Sessions       middleware.SessionValidator
	Limiter        *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	r.Get("/healthz", deps.HealthHandler.HandleHealth)

	// Public auth routes, limited per IP
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Get("/api/auth/url", deps.AuthHandler.HandleAuthURL)
		r.Get("/auth/callback", deps.AuthHandler.HandleCallback)
		r.Post("/api/auth/logout", deps.AuthHandler.HandleLogout)
	})

	// Authenticated API, limited per user
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Sessions))
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Post("/api/sync", deps.SyncHandler.HandleSync)

		r.Get("/api/messages", deps.MessageHandler.HandleList)
		r.Post("/api/messages/send", deps.MessageHandler.HandleSend)
		r.Patch("/api/messages/{messageID}", deps.MessageHandler.HandleUpdate)
		r.Get("/api/messages/{messageID}/analysis", deps.MessageHandler.HandleAnalysis)
		r.Post("/api/messages/{messageID}/draft", deps.MessageHandler.HandleDraft)
		r.Post("/api/messages/{messageID}/reply", deps.MessageHandler.HandleReply)

		r.Post("/api/chat", deps.ChatHandler.HandleQuery)
		r.Get("/api/chat", deps.ChatHandler.HandleHistory)
	})

	return r
}
