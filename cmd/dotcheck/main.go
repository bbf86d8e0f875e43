// Package main implements the dotcheck server and operator commands.
package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/dotcheck/internal/agent"
	"github.com/ashureev/dotcheck/internal/config"
	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/metrics"
	"github.com/ashureev/dotcheck/internal/profile"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/ashureev/dotcheck/internal/scheduler"
	"github.com/ashureev/dotcheck/internal/shared"
	"github.com/ashureev/dotcheck/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dotcheck",
	Short: "Check-in scheduling and conversation server",
	Long: `dotcheck schedules conversational check-ins for employees and runs
the turn-by-turn conversations with the check-in agents.

Configuration is read from the environment and an optional .env file.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		if err := godotenv.Load(); err != nil {
			slog.Info("No .env file found, using environment variables")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(seedCmd)
}

// app is the wired service graph shared by all commands.
type app struct {
	cfg       *config.Config
	repo      *store.SQLiteStore
	model     agent.Model
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	engine    *conversation.Engine
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	repo, err := store.NewSQLite(cfg.DBPath, store.WithRetryPolicy(shared.RetryPolicy{
		MaxRetries: cfg.DB.MaxRetries,
		BaseDelay:  cfg.DB.RetryBaseDelay,
	}))
	if err != nil {
		return nil, err
	}

	reg, err := registry.Default()
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	logger := slog.Default()
	model, err := agent.NewModel(agent.Config{
		Provider:   cfg.Model.Provider,
		ModelName:  cfg.Model.Name,
		BaseURL:    cfg.Model.BaseURL,
		APIKey:     cfg.Model.APIKey,
		GRPCAddr:   cfg.Model.GRPCAddr,
		Timeout:    cfg.Model.Timeout,
		RateLimit:  cfg.Model.RateLimit,
		MaxRetries: cfg.Model.MaxRetries,
	}, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	slog.Info("Model provider ready", "provider", cfg.Model.Provider)

	m := metrics.New()
	agents := agent.NewService(reg, model, cfg.Model.Timeout, logger)

	return &app{
		cfg:       cfg,
		repo:      repo,
		model:     model,
		metrics:   m,
		scheduler: scheduler.New(repo, reg, scheduler.Config{OnboardingDays: cfg.OnboardingDays}, m, logger),
		engine:    conversation.New(repo, reg, agents, profile.NewMerger(repo), m, logger),
	}, nil
}

func (a *app) Close() {
	a.model.Close()
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}
