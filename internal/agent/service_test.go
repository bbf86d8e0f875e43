package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, model Model, timeout time.Duration) *Service {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	return NewService(reg, model, timeout, nil)
}

func testContext() AgentContext {
	return AgentContext{
		EmployeeName:     "Dana Ruiz",
		JobTitle:         "Dispatcher",
		Department:       "Operations",
		Level:            domain.LevelIC,
		OrganizationName: "Acme Freight",
		HasSupervisor:    true,
		SupervisorName:   "Sam Lee",
	}
}

func TestEveryKnownAgentHasAPersona(t *testing.T) {
	for _, code := range registry.KnownCodes {
		p, err := personaFor(code)
		require.NoError(t, err, code)
		assert.NotEmpty(t, p.opening(testContext()), code)
		assert.NotEmpty(t, p.extract, code)
	}

	_, err := personaFor("astrologer")
	assert.ErrorIs(t, err, domain.ErrUnknownAgent)
}

func TestOpeningUsesModelReply(t *testing.T) {
	model := NewScriptedModel(`{"reply": "Morning Dana, how's the week?"}`)
	svc := newTestService(t, model, time.Second)

	opening, err := svc.Opening(context.Background(), "pulse", testContext())
	require.NoError(t, err)
	assert.Equal(t, "Morning Dana, how's the week?", opening)

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "Acme Freight")
	assert.Contains(t, reqs[0].System, "reports to: Sam Lee")
	assert.Contains(t, reqs[0].System, "morale")
}

func TestOpeningFallsBackWhenModelIsBlank(t *testing.T) {
	svc := newTestService(t, NewScriptedModel(`{"reply": ""}`), time.Second)

	opening, err := svc.Opening(context.Background(), "focus_tracker", testContext())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(opening, "Hi Dana"), opening)
}

func TestUnknownAgentCode(t *testing.T) {
	model := NewScriptedModel()
	svc := newTestService(t, model, time.Second)

	_, err := svc.Opening(context.Background(), "astrologer", testContext())
	require.ErrorIs(t, err, domain.ErrUnknownAgent)
	assert.Zero(t, model.Calls())
}

func TestProcessTurnParsesEnvelope(t *testing.T) {
	model := NewScriptedModel("```json\n{\"reply\": \"Thanks!\", \"is_complete\": true, \"extracted\": {\"role_summary\": \"Dispatcher\"}}\n```")
	svc := newTestService(t, model, time.Second)

	ac := testContext()
	ac.History = []domain.StoredMessage{
		{Role: domain.RoleAssistant, Content: "What do you do?"},
		{Role: domain.RoleUser, Content: "I dispatch trucks."},
	}
	res, err := svc.ProcessTurn(context.Background(), "role_discovery", ac)
	require.NoError(t, err)
	assert.Equal(t, "Thanks!", res.Reply)
	assert.True(t, res.IsComplete)
	assert.JSONEq(t, `{"role_summary": "Dispatcher"}`, string(res.Extracted))

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, "user", reqs[0].Messages[1].Role)
}

func TestProcessTurnForcesCompletionOnWrapUp(t *testing.T) {
	svc := newTestService(t, NewScriptedModel(`{"reply": "One more thing?", "is_complete": false}`), time.Second)

	ac := testContext()
	ac.WrapUp = true
	ac.History = []domain.StoredMessage{{Role: domain.RoleUser, Content: "busy week"}}
	res, err := svc.ProcessTurn(context.Background(), "pulse", ac)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
}

func TestProcessTurnFailures(t *testing.T) {
	ac := testContext()
	ac.History = []domain.StoredMessage{{Role: domain.RoleUser, Content: "hello"}}

	t.Run("model error", func(t *testing.T) {
		model := NewScriptedModel()
		model.FailNext(errors.New("upstream down"))
		svc := newTestService(t, model, time.Second)

		_, err := svc.ProcessTurn(context.Background(), "pulse", ac)
		require.ErrorIs(t, err, domain.ErrAgentInvocationFailed)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("timeout", func(t *testing.T) {
		model := NewScriptedModel(`{"reply": "late"}`)
		model.SetDelay(time.Second)
		svc := newTestService(t, model, 20*time.Millisecond)

		_, err := svc.ProcessTurn(context.Background(), "pulse", ac)
		require.ErrorIs(t, err, domain.ErrAgentInvocationFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("malformed reply", func(t *testing.T) {
		svc := newTestService(t, NewScriptedModel("I am not JSON"), time.Second)

		_, err := svc.ProcessTurn(context.Background(), "pulse", ac)
		require.ErrorIs(t, err, domain.ErrAgentInvocationFailed)
	})
}
