// Package registry holds the immutable catalog of check-in agents and the
// topics each of them asks about.
package registry

import (
	_ "embed"
	"fmt"
	"slices"
	"sort"

	"github.com/ashureev/dotcheck/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// AgentCode identifies one of the fixed conversational agents.
type AgentCode string

const (
	AgentPulse           AgentCode = "pulse"
	AgentRoleDiscovery   AgentCode = "role_discovery"
	AgentWorkflowMapper  AgentCode = "workflow_mapper"
	AgentFrictionScanner AgentCode = "friction_scanner"
	AgentFocusTracker    AgentCode = "focus_tracker"
)

// KnownCodes lists every agent the engine can dispatch to.
var KnownCodes = []AgentCode{
	AgentFocusTracker,
	AgentFrictionScanner,
	AgentPulse,
	AgentRoleDiscovery,
	AgentWorkflowMapper,
}

// FrequencyHint tells the scheduler how often an agent should run.
type FrequencyHint string

const (
	FrequencyCoreWeekly FrequencyHint = "core_weekly"
	FrequencyOnboarding FrequencyHint = "onboarding"
	FrequencyPeriodic   FrequencyHint = "periodic"
	FrequencyRare       FrequencyHint = "rare"
)

// OutputSchema names the shape of an agent's structured extraction.
type OutputSchema string

const (
	SchemaMorale   OutputSchema = "morale"
	SchemaRole     OutputSchema = "role"
	SchemaWorkflow OutputSchema = "workflow"
	SchemaFriction OutputSchema = "friction"
	SchemaFocus    OutputSchema = "focus"
)

// Topic is one question area an agent covers.
type Topic struct {
	Code     string `yaml:"code" json:"code"`
	Question string `yaml:"question" json:"question"`
}

// Agent is the capability metadata for one agent.
type Agent struct {
	Code           AgentCode      `yaml:"code" json:"code"`
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description" json:"description"`
	Frequency      FrequencyHint  `yaml:"frequency" json:"frequency"`
	OutputSchema   OutputSchema   `yaml:"output_schema" json:"output_schema"`
	Levels         []domain.Level `yaml:"levels" json:"levels,omitempty"`
	DepartmentTags []string       `yaml:"department_tags" json:"department_tags,omitempty"`
	MaxTurns       int            `yaml:"max_turns" json:"max_turns"`
	Topics         []Topic        `yaml:"topics" json:"topics"`
}

// TopicCodes returns the codes of the agent's topics.
func (a Agent) TopicCodes() []string {
	codes := make([]string, 0, len(a.Topics))
	for _, t := range a.Topics {
		codes = append(codes, t.Code)
	}
	return codes
}

// AppliesTo reports whether the agent may be scheduled for the employee.
// Empty level or department filters match everyone.
func (a Agent) AppliesTo(e *domain.Employee) bool {
	if len(a.Levels) > 0 && !slices.Contains(a.Levels, e.Level) {
		return false
	}
	if len(a.DepartmentTags) == 0 {
		return true
	}
	for _, tag := range e.DepartmentTags() {
		if slices.Contains(a.DepartmentTags, tag) {
			return true
		}
	}
	return false
}

// Registry is an immutable set of agents keyed by code.
type Registry struct {
	agents map[AgentCode]Agent
	codes  []AgentCode
}

type catalogFile struct {
	Agents []Agent `yaml:"agents"`
}

// Default builds the registry from the embedded catalog.
func Default() (*Registry, error) {
	return Load(defaultCatalog)
}

// Load builds a registry from a YAML catalog.
func Load(data []byte) (*Registry, error) {
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}
	return New(cat.Agents...)
}

// New validates the agents and builds a registry.
func New(agents ...Agent) (*Registry, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("registry: no agents configured")
	}
	r := &Registry{agents: make(map[AgentCode]Agent, len(agents))}
	for _, a := range agents {
		if !slices.Contains(KnownCodes, a.Code) {
			return nil, fmt.Errorf("registry: %w: %q", domain.ErrUnknownAgent, a.Code)
		}
		if _, dup := r.agents[a.Code]; dup {
			return nil, fmt.Errorf("registry: duplicate agent %q", a.Code)
		}
		if err := validateAgent(a); err != nil {
			return nil, err
		}
		if a.MaxTurns <= 0 {
			a.MaxTurns = 5
		}
		a.Levels = slices.Clone(a.Levels)
		a.DepartmentTags = slices.Clone(a.DepartmentTags)
		a.Topics = slices.Clone(a.Topics)
		r.agents[a.Code] = a
		r.codes = append(r.codes, a.Code)
	}
	sort.Slice(r.codes, func(i, j int) bool { return r.codes[i] < r.codes[j] })
	return r, nil
}

func validateAgent(a Agent) error {
	switch a.Frequency {
	case FrequencyCoreWeekly, FrequencyOnboarding, FrequencyPeriodic, FrequencyRare:
	default:
		return fmt.Errorf("registry: agent %q has unknown frequency %q", a.Code, a.Frequency)
	}
	switch a.OutputSchema {
	case SchemaMorale, SchemaRole, SchemaWorkflow, SchemaFriction, SchemaFocus:
	default:
		return fmt.Errorf("registry: agent %q has unknown output schema %q", a.Code, a.OutputSchema)
	}
	if len(a.Topics) == 0 {
		return fmt.Errorf("registry: agent %q declares no topics", a.Code)
	}
	return nil
}

// Get returns the agent for a code.
func (r *Registry) Get(code AgentCode) (Agent, bool) {
	a, ok := r.agents[code]
	return a, ok
}

// Lookup resolves a stored agent code string.
func (r *Registry) Lookup(code string) (Agent, error) {
	a, ok := r.agents[AgentCode(code)]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %q", domain.ErrUnknownAgent, code)
	}
	return a, nil
}

// Agents returns all agents ordered by code.
func (r *Registry) Agents() []Agent {
	out := make([]Agent, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, r.agents[c])
	}
	return out
}

// Codes returns all codes in ascending order.
func (r *Registry) Codes() []AgentCode {
	return slices.Clone(r.codes)
}
