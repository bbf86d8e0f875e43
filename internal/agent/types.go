// Package agent implements the conversational check-in agents and the
// language-model clients they talk through.
package agent

import (
	"encoding/json"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
)

// AgentContext is the state every agent receives. Agents never get
// agent-specific context types.
type AgentContext struct {
	EmployeeName     string
	JobTitle         string
	Department       string
	Level            domain.Level
	OrganizationName string
	HasSupervisor    bool
	SupervisorName   string
	Profile          domain.Profile
	History          []domain.StoredMessage

	// TurnNumber is the 1-based index of the user turn being answered.
	TurnNumber int
	MaxTurns   int
	// WrapUp asks the agent to conclude on this turn.
	WrapUp bool
}

// NewAgentContext builds the shared context for an employee.
func NewAgentContext(emp *domain.Employee, org *domain.Organization, profile domain.Profile) AgentContext {
	ac := AgentContext{
		EmployeeName:   emp.DisplayName,
		JobTitle:       emp.JobTitle,
		Level:          emp.Level,
		HasSupervisor:  emp.HasSupervisor(),
		SupervisorName: emp.SupervisorName,
		Profile:        profile,
	}
	if emp.Department != nil {
		ac.Department = emp.Department.Name
	}
	if org != nil {
		ac.OrganizationName = org.Name
	}
	return ac
}

// TurnResult is what an agent returns for one user turn.
type TurnResult struct {
	Reply      string          `json:"reply"`
	IsComplete bool            `json:"is_complete"`
	Extracted  json.RawMessage `json:"extracted,omitempty"`
}

// Message is one chat message sent to a language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single request/response exchange with a model.
type CompletionRequest struct {
	System   string
	Messages []Message
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Config holds agent configuration.
type Config struct {
	Provider   string
	ModelName  string
	BaseURL    string
	APIKey     string
	GRPCAddr   string
	Timeout    time.Duration
	RateLimit  float64
	MaxRetries int
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		Provider:   "scripted",
		ModelName:  "gpt-4o-mini",
		BaseURL:    "https://api.openai.com",
		Timeout:    30 * time.Second,
		RateLimit:  2,
		MaxRetries: 2,
	}
}
