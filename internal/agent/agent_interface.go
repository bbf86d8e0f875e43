package agent

import (
	"context"
	"fmt"
	"log/slog"
)

// Model is a language-model provider: one request, one text response.
type Model interface {
	// Complete sends the request and returns the raw assistant text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Close releases resources.
	Close()
}

// Ensure the providers implement Model.
var (
	_ Model = (*GrpcClient)(nil)
	_ Model = (*OpenAIClient)(nil)
	_ Model = (*ScriptedModel)(nil)
)

// NewModel builds the provider named by cfg.Provider.
func NewModel(cfg Config, logger *slog.Logger) (Model, error) {
	switch cfg.Provider {
	case "openai":
		c, err := NewOpenAIClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "grpc":
		c, err := NewGrpcClient(GrpcClientConfig{Address: cfg.GRPCAddr, Model: cfg.ModelName}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "", "scripted":
		return NewScriptedModel(), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
