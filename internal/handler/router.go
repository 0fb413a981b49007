/*
Package handler provides the HTTP handlers and routing setup for the Pulse realtime server.

This file defines the main Router, applying middleware like logging, CORS and IP-based rate
limiting before delegating requests to the WebSocket and presence API handlers.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"pulse/internal/pkg/auth/jwt"
	"pulse/internal/pkg/limiter"
	"pulse/internal/pkg/logx"
	"pulse/internal/pkg/resp"
)

// Router sets up the main HTTP routing table for the application.
// ctx bounds background work such as the rate limiter sweep.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	upgradeLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.UpgradeRate), deps.Config.UpgradeBurst)
	notifyLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.NotifyRate), deps.Config.NotifyBurst)

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
			"service": "Pulse Realtime",
		}
		resp.RespondSuccess(w, r, data)
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.RequireIdentity(deps.Config.JWTSecret))

		api.Get("/presence", HandleListPresence(deps))
		api.Get("/presence/{userId}", HandleGetPresence(deps))
		rateLimitedNotifyHandler := notifyLimiter.Middleware(HandleSendNotification(deps))
		api.Post("/notifications", http.HandlerFunc(rateLimitedNotifyHandler.ServeHTTP))
		api.Get("/stats", HandleStats(deps))
	})

	r.Get("/ws", HandleWebSocket(deps, wsUpgrader, upgradeLimiter))

	return r
}
