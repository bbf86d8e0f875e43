package registry

import (
	"testing"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoadsAllAgents(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, KnownCodes, reg.Codes())
	pulse, ok := reg.Get(AgentPulse)
	require.True(t, ok)
	assert.Equal(t, FrequencyCoreWeekly, pulse.Frequency)
	assert.Equal(t, SchemaMorale, pulse.OutputSchema)
	assert.Equal(t, []string{"morale", "workload"}, pulse.TopicCodes())
}

func TestNewRejectsUnknownAndDuplicateAgents(t *testing.T) {
	topic := []Topic{{Code: "x", Question: "?"}}

	_, err := New(Agent{Code: "astrologer", Frequency: FrequencyRare, OutputSchema: SchemaFocus, Topics: topic})
	require.ErrorIs(t, err, domain.ErrUnknownAgent)

	a := Agent{Code: AgentPulse, Frequency: FrequencyCoreWeekly, OutputSchema: SchemaMorale, Topics: topic}
	_, err = New(a, a)
	require.Error(t, err)

	_, err = New(Agent{Code: AgentPulse, Frequency: "hourly", OutputSchema: SchemaMorale, Topics: topic})
	require.Error(t, err)
}

func TestNewDefaultsMaxTurns(t *testing.T) {
	reg, err := New(Agent{
		Code:         AgentFocusTracker,
		Frequency:    FrequencyCoreWeekly,
		OutputSchema: SchemaFocus,
		Topics:       []Topic{{Code: "current_focus", Question: "?"}},
	})
	require.NoError(t, err)

	a, err := reg.Lookup("focus_tracker")
	require.NoError(t, err)
	assert.Equal(t, 5, a.MaxTurns)

	_, err = reg.Lookup("pulse")
	assert.ErrorIs(t, err, domain.ErrUnknownAgent)
}

func TestAppliesTo(t *testing.T) {
	a := Agent{Levels: []domain.Level{domain.LevelIC}, DepartmentTags: []string{"ops"}}

	tests := []struct {
		name string
		emp  domain.Employee
		want bool
	}{
		{"matching level and tag", domain.Employee{Level: domain.LevelIC, Department: &domain.Department{Tags: []string{"ops", "field"}}}, true},
		{"wrong level", domain.Employee{Level: domain.LevelExec, Department: &domain.Department{Tags: []string{"ops"}}}, false},
		{"no department", domain.Employee{Level: domain.LevelIC}, false},
		{"other tag", domain.Employee{Level: domain.LevelIC, Department: &domain.Department{Tags: []string{"sales"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.AppliesTo(&tt.emp))
		})
	}

	open := Agent{}
	assert.True(t, open.AppliesTo(&domain.Employee{Level: domain.LevelExec}))
}
