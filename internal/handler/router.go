/*
Package handler provides the HTTP handlers and routing setup for the Agora gateway.

This file defines the main Router, applying logging, CORS and recovery middleware, per-IP
limiters on the WebSocket handshake and the notification endpoint, and bearer
authentication on the API.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"agora/internal/pkg/auth/jwt"
	"agora/internal/pkg/limiter"
	"agora/internal/pkg/logx"
	"agora/internal/pkg/resp"
)

// Router sets up the main HTTP routing table (chi.Router) for the gateway.
// ctx bounds the background cleanup of the limiters.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	handshakeLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.HandshakeRate), deps.Config.HandshakeBurst)
	notifyLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.NotifyRate), deps.Config.NotifyBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
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
	if deps.Config.IsDevelopment() {
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
		users, handles := deps.Registry.Stats()

		data := map[string]any{
			"status":      "ok",
			"service":     "Agora Gateway",
			"connections": deps.Gateway.Connections(),
			"online":      users,
			"handles":     handles,
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(notifier chi.Router) {
			notifier.Use(notifyLimiter.Middleware)
			notifier.Use(jwt.RequireIdentity(deps.Verifier, deps.Config.NotifierRole))
			notifier.Post("/notifications", HandleDispatchNotification(deps))
		})

		api.Group(func(authed chi.Router) {
			authed.Use(jwt.RequireIdentity(deps.Verifier, ""))
			authed.Get("/presence", HandleListOnline(deps))
			authed.Get("/presence/{userId}", HandleGetPresence(deps))
		})
	})

	r.Get("/ws", HandleWebSocket(deps, wsUpgrader, handshakeLimiter))

	return r
}
