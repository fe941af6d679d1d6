/*
Package main is the entry point for the UltraMedic dispatch server.

It is responsible for loading configuration, initializing the global logging system,
opening the durable (PostgreSQL) and ephemeral (Redis) stores, setting up the HTTP
server with the live channel hub, and gracefully handling operating system interrupt
signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ultramedic/internal/app/db"
	"ultramedic/internal/app/dispatch"
	"ultramedic/internal/app/places"
	"ultramedic/internal/app/session"
	"ultramedic/internal/app/tour"
	"ultramedic/internal/app/user"
	"ultramedic/internal/configs"
	"ultramedic/internal/handler"
	"ultramedic/internal/pkg/logx"
)

const sessionPurgeInterval = 10 * time.Minute

func main() {
	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment variables
	cfg, err := configs.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(logx.Options{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("redis_addr", cfg.Redis.Addr).
		Dur("live_idle_timeout", cfg.Live.IdleTimeout).
		Msg("Configuration loaded successfully")

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to open database")
	}
	defer pool.Close()

	redisClient, err := db.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logx.Fatal(err, "Failed to connect to Redis")
	}
	defer redisClient.Close()

	users := db.New(pool)
	sessions := session.NewStore(redisClient)
	guard := user.NewGuard(users, sessions, cfg.JWTSecret)

	hub := dispatch.NewHub()
	service := dispatch.NewService(dispatch.ServiceDeps{
		Store:       tour.NewStore(redisClient),
		Hub:         hub,
		Guard:       guard,
		Repo:        users,
		Places:      places.NewClient(cfg.Places),
		IdleTimeout: cfg.Live.IdleTimeout,
	})

	go purgeSessions(ctx, sessions)

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Config:   cfg,
		Guard:    guard,
		Users:    users,
		Sessions: sessions,
		Dispatch: service,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("UltraMedic Dispatch Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	// hijacked live channels are not covered by server.Shutdown
	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
}

func purgeSessions(ctx context.Context, sessions *session.Store) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.PurgeExpired(ctx)
			if err != nil {
				logx.Error(err, "Session purge failed")
				continue
			}
			if n > 0 {
				logx.Info("Expired sessions purged.", "count", n)
			}
		}
	}
}
