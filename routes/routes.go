package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-router/app"
	"github.com/upb/llm-router/handlers"
	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(deps.Logger))
	r.Use(middleware.Recover(deps.Logger))
	if timeout := deps.Config.Server.WriteTimeout; timeout > 0 {
		r.Use(chimw.Timeout(timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// A nil *postgres.DB must not become a non-nil interface
	var db handlers.DatabaseChecker
	if deps.DB != nil {
		db = deps.DB
	}

	health := handlers.NewHealthHandler(deps.Orchestrator, db, deps.Logger)
	if deps.RequestLog != nil {
		health.WithRequestLog(deps.RequestLog)
	}
	chat := handlers.NewChatHandler(deps.Orchestrator, deps.RequestLog, handlers.ChatDefaults{
		MaxTokens:   deps.Config.Routing.DefaultMaxTokens,
		Temperature: deps.Config.Routing.DefaultTemperature,
	}, deps.Logger)
	models := handlers.NewModelsHandler(deps.Orchestrator, deps.Logger)
	requests := handlers.NewRequestsHandler(deps.RequestLog, deps.Logger)

	// Health check endpoints
	r.Get("/health", health.HandleHealth)
	r.Get("/ready", health.HandleReadiness)

	// Generation
	r.Route("/chat", func(r chi.Router) {
		r.Post("/", chat.HandleChat)
		r.Post("/claude", chat.HandleChatWith("claude"))
		r.Post("/mistral", chat.HandleChatWith("mistral"))
		r.Post("/ollama", chat.HandleChatWith("ollama"))
	})

	// Backend management
	r.Get("/models", models.HandleListModels)
	r.Get("/metrics", models.HandleMetrics)
	r.Route("/models/{name}/reload", func(r chi.Router) {
		r.Get("/", models.HandleReloadStatus)
		r.With(deps.AuthMiddleware.RequireAuth).Post("/", models.HandleReload)
	})

	// Request log
	r.With(deps.AuthMiddleware.RequireAuth).Get("/requests", requests.HandleListRequests)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
