package scheduler

import (
	"testing"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func veteran() *domain.Employee {
	return &domain.Employee{ID: "emp-1", Level: domain.LevelIC, JoinedAt: monday.AddDate(-1, 0, 0)}
}

func agent(code registry.AgentCode, freq registry.FrequencyHint, topics ...string) registry.Agent {
	a := registry.Agent{Code: code, Frequency: freq}
	for _, t := range topics {
		a.Topics = append(a.Topics, registry.Topic{Code: t})
	}
	return a
}

func asked(topic string, ago time.Duration, answered int) domain.TopicHistory {
	ts := monday.Add(-ago)
	return domain.TopicHistory{EmployeeID: "emp-1", Topic: topic, LastAskedAt: &ts, TimesAnswered: answered}
}

func codes(cs []Candidate) []registry.AgentCode {
	out := make([]registry.AgentCode, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Agent.Code)
	}
	return out
}

func TestRankPrefersNeverAskedOverAskedYesterday(t *testing.T) {
	// Whatever the frequency hints, an agent asked yesterday loses to one
	// that was never asked.
	hints := []registry.FrequencyHint{
		registry.FrequencyCoreWeekly, registry.FrequencyPeriodic,
		registry.FrequencyRare, registry.FrequencyOnboarding,
	}
	for _, ha := range hints {
		for _, hb := range hints {
			a := agent(registry.AgentPulse, ha, "a")
			b := agent(registry.AgentFocusTracker, hb, "b")
			history := []domain.TopicHistory{asked("a", 24*time.Hour, 0)}

			ranked := Rank([]registry.Agent{a, b}, veteran(), history, monday, DefaultOnboardingDays)
			require.Len(t, ranked, 2)
			assert.Equal(t, registry.AgentFocusTracker, ranked[0].Agent.Code, "a=%s b=%s", ha, hb)
		}
	}
}

func TestRankTiesBreakByCode(t *testing.T) {
	agents := []registry.Agent{
		agent(registry.AgentWorkflowMapper, registry.FrequencyPeriodic, "w"),
		agent(registry.AgentFrictionScanner, registry.FrequencyPeriodic, "f"),
	}
	ranked := Rank(agents, veteran(), nil, monday, DefaultOnboardingDays)
	assert.Equal(t, []registry.AgentCode{registry.AgentFrictionScanner, registry.AgentWorkflowMapper}, codes(ranked))
}

func TestRankOnboardingLeadsForNewHires(t *testing.T) {
	agents := []registry.Agent{
		agent(registry.AgentPulse, registry.FrequencyCoreWeekly, "morale"),
		agent(registry.AgentRoleDiscovery, registry.FrequencyOnboarding, "role_summary"),
	}

	newHire := &domain.Employee{ID: "emp-1", Level: domain.LevelIC, JoinedAt: monday.AddDate(0, 0, -3)}
	ranked := Rank(agents, newHire, nil, monday, DefaultOnboardingDays)
	assert.Equal(t, registry.AgentRoleDiscovery, ranked[0].Agent.Code)

	ranked = Rank(agents, veteran(), nil, monday, DefaultOnboardingDays)
	assert.Equal(t, registry.AgentPulse, ranked[0].Agent.Code)

	// Once asked, onboarding no longer leads even inside the window.
	history := []domain.TopicHistory{asked("role_summary", 48*time.Hour, 0), asked("morale", 48*time.Hour, 0)}
	ranked = Rank(agents, newHire, history, monday, DefaultOnboardingDays)
	assert.Equal(t, registry.AgentPulse, ranked[0].Agent.Code)
}

func TestRankPenalizesFrequentlyAnswered(t *testing.T) {
	agents := []registry.Agent{
		agent(registry.AgentPulse, registry.FrequencyCoreWeekly, "morale"),
		agent(registry.AgentFocusTracker, registry.FrequencyCoreWeekly, "current_focus"),
	}
	history := []domain.TopicHistory{
		asked("morale", 40*24*time.Hour, 8),
		asked("current_focus", 40*24*time.Hour, 1),
	}
	ranked := Rank(agents, veteran(), history, monday, DefaultOnboardingDays)
	assert.Equal(t, registry.AgentFocusTracker, ranked[0].Agent.Code)
	assert.Equal(t, 8, ranked[1].TimesAnswered)
}

func TestRankFiltersByLevelAndDepartment(t *testing.T) {
	managersOnly := agent(registry.AgentWorkflowMapper, registry.FrequencyPeriodic, "w")
	managersOnly.Levels = []domain.Level{domain.LevelManager}
	opsOnly := agent(registry.AgentFrictionScanner, registry.FrequencyPeriodic, "f")
	opsOnly.DepartmentTags = []string{"ops"}
	open := agent(registry.AgentPulse, registry.FrequencyCoreWeekly, "p")

	emp := veteran()
	emp.Department = &domain.Department{Tags: []string{"ops"}}
	ranked := Rank([]registry.Agent{managersOnly, opsOnly, open}, emp, nil, monday, DefaultOnboardingDays)
	assert.ElementsMatch(t, []registry.AgentCode{registry.AgentFrictionScanner, registry.AgentPulse}, codes(ranked))
}
