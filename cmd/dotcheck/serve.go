package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/dotcheck/internal/api"
	"github.com/ashureev/dotcheck/internal/live"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Run the check-in API.

Examples:
  # Serve with the scripted model on :8080
  dotcheck serve

  # Use an OpenAI-compatible endpoint
  MODEL_PROVIDER=openai MODEL_API_KEY=... dotcheck serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", a.cfg.DBPath)
	if a.cfg.Model.Provider == "scripted" {
		slog.Warn("Scripted model provider in use, check-ins complete without extraction", "env", a.cfg.Env)
	}
	if a.cfg.CronSecret == "" {
		slog.Warn("CRON_SECRET is empty, cron endpoints will reject every request")
	}

	sm := live.NewSessionManager()
	limiter := api.NewRateLimiter(a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window)
	defer limiter.Stop()

	router := api.NewRouter(api.Deps{
		Repo:           a.repo,
		Engine:         a.engine,
		Scheduler:      a.scheduler,
		Limiter:        limiter,
		LiveCheckins:   live.NewWebSocketHandler(a.engine, sm, a.cfg.AllowedOrigins),
		CronSecret:     a.cfg.CronSecret,
		AllowedOrigins: a.cfg.AllowedOrigins,
		HealthTimeout:  a.cfg.Timeout.HealthCheck,
	})

	// No WriteTimeout: live check-ins hold the connection open.
	srv := &http.Server{
		Addr:        ":" + a.cfg.Port,
		Handler:     router,
		ReadTimeout: a.cfg.Timeout.Read,
		IdleTimeout: a.cfg.Timeout.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...", "live_checkins", sm.Count())
	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
