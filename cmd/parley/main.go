package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/anthropic"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("parley starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Anthropic clients — synthesis and guardrail may use different models
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	base := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	reasoning := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.ReasoningModel)
	slog.Info("anthropic clients ready", "model", cfg.AnthropicModel, "reasoning_model", cfg.ReasoningModel)

	// Auth
	if cfg.JWTSecret == "" {
		slog.Error("PARLEY_JWT_SECRET is required")
		os.Exit(1)
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, time.Duration(cfg.TokenTTLMinutes)*time.Minute)

	// Agent pipeline
	if cfg.SerperAPIKey == "" {
		slog.Warn("SERPER_API_KEY not set — web_search tool will refuse invocations")
	}
	tools := agent.NewToolbox(cfg.SerperAPIKey, slog.Default())
	pipeline := agent.New(base, reasoning, tools, agent.NewMemoryCheckpoints(), slog.Default())

	// Sessions and history
	registry := session.New(db, slog.Default())
	window := history.New(db, registry, cfg.HistoryWindow)

	// NATS (optional — the service runs without event emission)
	var publisher *events.Publisher
	if cfg.NatsURL != "" {
		publisher, err = events.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without event emission")
	}

	// WebSocket gateway
	gw := gateway.New(db, registry, window, pipeline, publisher, wsAuthorizer(verifier, db), slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, api.Deps{
		Users:    db,
		Verifier: verifier,
		Log:      db,
		Registry: registry,
		Gateway:  gw,
		Logger:   slog.Default(),
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := publisher.Publish(events.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("parley ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("parley stopped")
}

// wsAuthorizer validates a connection token against the user id claimed
// in the WebSocket path.
func wsAuthorizer(verifier *auth.Verifier, users auth.UserStore) gateway.AuthorizeFunc {
	return func(ctx context.Context, token string, userID int64) error {
		claims, err := verifier.Verify(token)
		if err != nil {
			return err
		}
		subject, err := claims.SubjectID()
		if err != nil {
			return err
		}
		if subject != userID {
			return fmt.Errorf("token subject %d does not match claimed user %d", subject, userID)
		}
		user, err := users.UserByID(ctx, subject)
		if err != nil {
			return auth.ErrUnknownSubject
		}
		if !user.Active {
			return auth.ErrUnknownSubject
		}
		return nil
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
