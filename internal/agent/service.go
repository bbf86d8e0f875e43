package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
)

const defaultTimeout = 30 * time.Second

// Service dispatches opening and turn requests to the agent selected by code.
type Service struct {
	registry *registry.Registry
	model    Model
	timeout  time.Duration
	logger   *slog.Logger
}

// NewService creates a new agent service backed by model.
func NewService(reg *registry.Registry, model Model, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: reg,
		model:    model,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *Service) resolve(code string) (registry.Agent, persona, error) {
	a, err := s.registry.Lookup(code)
	if err != nil {
		return registry.Agent{}, persona{}, err
	}
	p, err := personaFor(a.Code)
	if err != nil {
		return registry.Agent{}, persona{}, err
	}
	return a, p, nil
}

// Opening asks the agent for the first line of a session.
func (s *Service) Opening(ctx context.Context, code string, ac AgentContext) (string, error) {
	a, p, err := s.resolve(code)
	if err != nil {
		return "", err
	}

	raw, err := s.complete(ctx, a.Code, CompletionRequest{
		System: p.systemPrompt(a, ac),
		Messages: []Message{{
			Role:    string(domain.RoleUser),
			Content: "Start the check-in with a short, friendly opening question. Respond with {\"reply\": string}.",
		}},
		JSON: true,
	})
	if err != nil {
		return "", err
	}

	opening := parseOpening(raw)
	if opening == "" {
		s.logger.Warn("Model returned no opening, using default", "agent", a.Code)
		opening = p.opening(ac)
	}
	return opening, nil
}

// ProcessTurn runs one user turn. ac.History must already end with the user
// message being answered.
func (s *Service) ProcessTurn(ctx context.Context, code string, ac AgentContext) (TurnResult, error) {
	a, p, err := s.resolve(code)
	if err != nil {
		return TurnResult{}, err
	}

	messages := make([]Message, 0, len(ac.History))
	for _, m := range ac.History {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}

	raw, err := s.complete(ctx, a.Code, CompletionRequest{
		System:   p.systemPrompt(a, ac),
		Messages: messages,
		JSON:     true,
	})
	if err != nil {
		return TurnResult{}, err
	}

	res, err := parseTurnResult(raw)
	if err != nil {
		s.logger.Warn("Model reply rejected", "agent", a.Code, "error", err)
		return TurnResult{}, fmt.Errorf("%w: %w", domain.ErrAgentInvocationFailed, err)
	}
	if ac.WrapUp && !res.IsComplete {
		s.logger.Info("Forcing completion on final turn", "agent", a.Code, "turn", ac.TurnNumber)
		res.IsComplete = true
	}
	return res, nil
}

func (s *Service) complete(ctx context.Context, code registry.AgentCode, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.model.Complete(ctx, req)
	if err != nil {
		s.logger.Error("Agent invocation failed", "agent", code, "error", err)
		return "", fmt.Errorf("%w: %w", domain.ErrAgentInvocationFailed, err)
	}
	return raw, nil
}

// Close releases resources.
func (s *Service) Close() {
	if s.model != nil {
		s.model.Close()
	}
}
