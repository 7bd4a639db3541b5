/*
Package handler provides the HTTP handlers and routing setup for the Curenium messaging server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API, internal
service ingest, and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/Plannorium/curenium-sub005/internal/pkg/auth/jwt"
	"github.com/Plannorium/curenium-sub005/internal/pkg/limiter"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
	"github.com/Plannorium/curenium-sub005/internal/pkg/resp"
)

const (
	ConnectRate  = 0.5
	ConnectBurst = 5
	IngestRate   = 10
	IngestBurst  = 20
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
func Router(deps *AppDeps) http.Handler {
	connectLimiter := limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst)
	ingestLimiter := limiter.NewIPRateLimiter(rate.Limit(IngestRate), IngestBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "Curenium Messaging Server",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Get("/rooms/{room}/messages", HandleRoomHistory(deps))
		api.Get("/conversations/recent", HandleRecentConversations(deps))

		api.Route("/presence", func(p chi.Router) {
			p.Post("/heartbeat", HandleHeartbeat(deps))
			p.Post("/offline", HandleOffline(deps))
		})

		api.Post("/files/presign-upload", HandlePresignUploadURL(deps))
		api.Get("/files/presign-download", HandlePresignDownloadURL(deps))
	})

	ingestHandler := ingestLimiter.Middleware(HandleInternalIngest(deps))
	r.Post("/internal/messages", http.HandlerFunc(ingestHandler.ServeHTTP))

	r.Get("/ws/{room}", HandleWebSocket(wsUpgrader, connectLimiter, deps))

	return r
}
