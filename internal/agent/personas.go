package agent

import (
	"fmt"
	"strings"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
)

// persona is the fixed strategy data for one agent kind.
type persona struct {
	role    string
	goal    string
	extract string
	opening func(ac AgentContext) string
}

// personaFor is the closed dispatch table from agent code to strategy.
func personaFor(code registry.AgentCode) (persona, error) {
	switch code {
	case registry.AgentPulse:
		return persona{
			role:    "a warm weekly pulse check-in",
			goal:    "Learn how the week is going, how heavy the workload feels, and anything dragging morale down.",
			extract: `{"morale_trend": "improving|steady|declining", "pain_points": [{"summary": "...", "severity": "low|medium|high"}]}`,
			opening: func(ac AgentContext) string {
				return fmt.Sprintf("Hi %s! Quick pulse check: how has your week been so far?", firstName(ac.EmployeeName))
			},
		}, nil
	case registry.AgentRoleDiscovery:
		return persona{
			role:    "an onboarding interviewer mapping someone's role",
			goal:    "Understand what this person is responsible for and which duties take most of their time.",
			extract: `{"role_summary": "...", "duties": [{"name": "...", "description": "...", "frequency": "daily|weekly|monthly"}], "open_gaps": [{"question": "...", "resolved": false}]}`,
			opening: func(ac AgentContext) string {
				title := ac.JobTitle
				if title == "" {
					title = "your role"
				}
				return fmt.Sprintf("Welcome, %s! I'd love to understand %s. In your own words, what are you responsible for?", firstName(ac.EmployeeName), title)
			},
		}, nil
	case registry.AgentWorkflowMapper:
		return persona{
			role:    "a process analyst mapping recurring workflows",
			goal:    "Walk through one recurring workflow step by step and the tools it uses.",
			extract: `{"workflows": [{"name": "...", "steps": ["..."], "tools": ["..."]}], "pain_points": [{"summary": "...", "workflow": "..."}], "open_gaps": [{"question": "..."}]}`,
			opening: func(ac AgentContext) string {
				return fmt.Sprintf("Hi %s, let's map one thing you do regularly. Which task do you repeat most often?", firstName(ac.EmployeeName))
			},
		}, nil
	case registry.AgentFrictionScanner:
		return persona{
			role:    "a friction scanner looking for blockers",
			goal:    "Find what slows this person down and what questions about their work remain unanswered.",
			extract: `{"pain_points": [{"summary": "...", "severity": "low|medium|high"}], "open_gaps": [{"question": "...", "resolved": false}]}`,
			opening: func(ac AgentContext) string {
				return fmt.Sprintf("Hey %s, what is one thing that slowed you down recently?", firstName(ac.EmployeeName))
			},
		}, nil
	case registry.AgentFocusTracker:
		return persona{
			role:    "a brief focus tracker",
			goal:    "Capture what this person is focused on right now and their top priorities.",
			extract: `{"current_focus": {"summary": "...", "items": ["..."]}}`,
			opening: func(ac AgentContext) string {
				return fmt.Sprintf("Hi %s! What's your main focus this week?", firstName(ac.EmployeeName))
			},
		}, nil
	default:
		return persona{}, fmt.Errorf("%w: %s", domain.ErrUnknownAgent, code)
	}
}

func (p persona) systemPrompt(a registry.Agent, ac AgentContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s for %s.\n", p.role, orDefault(ac.OrganizationName, "the organization"))
	fmt.Fprintf(&b, "Goal: %s\n", p.goal)
	b.WriteString("Topics to cover:\n")
	for _, t := range a.Topics {
		fmt.Fprintf(&b, "- %s: %s\n", t.Code, t.Question)
	}

	b.WriteString("\nEmployee:\n")
	fmt.Fprintf(&b, "- name: %s\n", ac.EmployeeName)
	if ac.JobTitle != "" {
		fmt.Fprintf(&b, "- title: %s\n", ac.JobTitle)
	}
	if ac.Department != "" {
		fmt.Fprintf(&b, "- department: %s\n", ac.Department)
	}
	fmt.Fprintf(&b, "- level: %s\n", ac.Level)
	if ac.HasSupervisor {
		fmt.Fprintf(&b, "- reports to: %s\n", orDefault(ac.SupervisorName, "a supervisor"))
	}
	if summary := profileSummary(ac.Profile); summary != "" {
		b.WriteString("\nKnown so far:\n")
		b.WriteString(summary)
	}

	b.WriteString("\nAsk one short question at a time. Do not repeat what is already known.\n")
	b.WriteString("Respond with a JSON object: {\"reply\": string, \"is_complete\": bool, \"extracted\": object}.\n")
	b.WriteString("Set is_complete once the topics are covered and fill extracted with:\n")
	b.WriteString(p.extract)
	b.WriteString("\n")
	if ac.WrapUp {
		b.WriteString("This is the last turn: thank them, set is_complete to true and fill extracted.\n")
	} else if ac.MaxTurns > 0 {
		fmt.Fprintf(&b, "This is turn %d of at most %d.\n", ac.TurnNumber, ac.MaxTurns)
	}
	return b.String()
}

func profileSummary(p domain.Profile) string {
	var b strings.Builder
	if p.RoleSummary != "" {
		fmt.Fprintf(&b, "- role: %s\n", p.RoleSummary)
	}
	for _, d := range p.Duties {
		fmt.Fprintf(&b, "- duty: %s\n", d.Name)
	}
	for _, w := range p.Workflows {
		fmt.Fprintf(&b, "- workflow: %s\n", w.Name)
	}
	for _, pp := range p.PainPoints {
		fmt.Fprintf(&b, "- pain point: %s\n", pp.Summary)
	}
	if p.CurrentFocus != nil && p.CurrentFocus.Summary != "" {
		fmt.Fprintf(&b, "- current focus: %s\n", p.CurrentFocus.Summary)
	}
	if p.MoraleTrend != "" {
		fmt.Fprintf(&b, "- morale: %s\n", p.MoraleTrend)
	}
	for _, g := range p.OpenGaps {
		if !g.Resolved {
			fmt.Fprintf(&b, "- open question: %s\n", g.Question)
		}
	}
	return b.String()
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
