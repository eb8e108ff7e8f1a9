/*
Package handler provides the HTTP handlers and routing setup for the Nook relay server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
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

	"nook/internal/pkg/auth"
	"nook/internal/pkg/limiter"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/metrics"
	"nook/internal/pkg/resp"
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// The rate limiters' cleanup goroutines live until ctx is cancelled.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	wsLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.WSConnectRate), deps.Config.WSConnectBurst)
	apiLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.APIRate), deps.Config.APIBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
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
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	// Limiters key on RemoteAddr, so forwarded headers are only trusted behind a proxy that sets them.
	if deps.Config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "Nook Relay",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/session", func(api chi.Router) {
		api.Use(apiLimiter.Middleware)
		api.With(auth.RequireIdentity(deps.Sessions)).Get("/", HandleGetSession())
		api.Post("/logout", HandleLogout(deps))
	})

	r.Route("/ws", func(ws chi.Router) {
		ws.Get("/messages", HandleChatSocket(deps, wsUpgrader, wsLimiter))
		ws.Get("/call", HandleCallSocket(deps, wsUpgrader, wsLimiter))
	})

	return r
}
