/*
Package handler provides the HTTP handlers and routing setup for the UltraMedic dispatch server.

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"ultramedic/internal/pkg/limiter"
	"ultramedic/internal/pkg/logx"
	"ultramedic/internal/pkg/resp"
)

const (
	CreateRate  = 0.05
	CreateBurst = 3
	LoginRate   = 0.2
	LoginBurst  = 5
	LiveRate    = 0.5
	LiveBurst   = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// The rate limiters' cleanup loops stop when ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	createLimiter := limiter.NewIPRateLimiter(ctx, "create_call", rate.Limit(CreateRate), CreateBurst)
	loginLimiter := limiter.NewIPRateLimiter(ctx, "login", rate.Limit(LoginRate), LoginBurst)
	liveLimiter := limiter.NewIPRateLimiter(ctx, "live", rate.Limit(LiveRate), LiveBurst)

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
			// native field clients send no Origin header
			if origin == "" {
				return true
			}
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
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
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
		data := map[string]any{
			"status":           "ok",
			"service":          "UltraMedic Dispatch Server",
			"live_connections": deps.Dispatch.Hub().Len(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/user", func(u chi.Router) {
			u.With(loginLimiter.Middleware).Post("/login", HandleLogin(deps))
			u.With(loginLimiter.Middleware).Post("/register", HandleRegister(deps))

			u.Group(func(authed chi.Router) {
				authed.Use(RequireUser(deps))
				authed.Post("/logout", HandleLogout(deps))
				authed.Post("/register_code", HandleCreateRegisterCode(deps))
				authed.Get("/me", HandleGetMe())
			})
		})

		api.Route("/call", func(call chi.Router) {
			call.Use(RequireUser(deps))

			call.With(createLimiter.Middleware).Post("/emergency", HandleCreateCall(deps))
			call.Get("/emergency", HandleGetCall(deps))
			call.Delete("/emergency", HandleCompleteCall(deps))
			call.Post("/emergency/hospital", HandleFindHospital(deps))
			call.Post("/emergency/status", HandleAdvanceStatus(deps))
			call.Get("/list", HandleListCalls(deps))
			call.Post("/notice", HandleNotice(deps))
			call.Post("/{userID}/take", HandleTakeCall(deps))
			call.Delete("/{userID}", HandleCancelCall(deps))
		})
	})

	liveHandler := HandleLiveChannel(wsUpgrader, liveLimiter, deps)
	r.Get("/ws/emergency", liveHandler)
	r.Get("/ws/emergency/{userID}", liveHandler)

	return r
}
