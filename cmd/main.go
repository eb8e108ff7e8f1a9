/*
Package main is the entry point for the Nook relay server.

It is responsible for loading configuration, initializing the global logging system and tracing,
opening the session store, starting the session reaper, the chat registry and the signal hub,
setting up the HTTP server, and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown.
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

	"nook/internal/app/account"
	"nook/internal/app/chat"
	"nook/internal/app/db"
	"nook/internal/app/events"
	"nook/internal/app/session"
	relay "nook/internal/app/signal"
	"nook/internal/configs"
	"nook/internal/handler"
	"nook/internal/pkg/logx"
	"nook/internal/pkg/telemetry"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("session_reap_interval", cfg.SessionReapInterval).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logx.Fatal(err, "Failed to initialize tracing")
	}

	store, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to open session store")
	}
	logx.Info("Session store ready", "dialect", store.Dialect)

	// Without a reaper, expired sessions are swept inline on every validation.
	sessionOpts := []session.Option{session.WithLifetimes(cfg.MemberSessionTTL, cfg.AdminSessionTTL)}
	if cfg.SessionReapInterval == 0 {
		sessionOpts = append(sessionOpts, session.WithInlineSweep())
	}
	sessions := session.NewAuthority(store.DB, sessionOpts...)
	if cfg.SessionReapInterval > 0 {
		go sessions.Run(ctx, cfg.SessionReapInterval)
	}

	publisher := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)

	registry := chat.NewRegistry()
	hub := relay.NewHub(cfg.SignalBuffer)

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Config:   cfg,
		Sessions: sessions,
		Accounts: account.NewDirectory(store.DB),
		Chat:     registry,
		Signals:  hub,
		Events:   publisher,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info("Nook relay server starting", "addr", serverAddr)
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

	// Hijacked WebSocket connections are not tracked by the HTTP server.
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Chat registry did not drain")
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Signal hub did not drain")
	}

	if err := publisher.Close(); err != nil {
		logx.Error(err, "Failed to close event publisher")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logx.Error(err, "Failed to flush traces")
	}
	if err := store.Close(); err != nil {
		logx.Error(err, "Failed to close session store")
	}

	logx.Info("Server gracefully stopped.")
}
