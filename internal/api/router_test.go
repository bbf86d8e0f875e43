package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/dotcheck/internal/agent"
	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/profile"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/ashureev/dotcheck/internal/scheduler"
	"github.com/ashureev/dotcheck/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cronSecret = "tick-tock"

type stack struct {
	repo   *store.SQLiteStore
	model  *agent.ScriptedModel
	router http.Handler
}

func newStack(t *testing.T, limit int) *stack {
	t.Helper()
	ctx := context.Background()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "dotcheck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.UpsertOrganization(ctx, &domain.Organization{
		ID:               "org-1",
		Name:             "Acme Freight",
		Timezone:         "UTC",
		Frequency:        domain.FrequencyDaily,
		OneCheckinPerDay: true,
	}))
	for _, id := range []string{"emp-1", "emp-2"} {
		require.NoError(t, repo.UpsertEmployee(ctx, &domain.Employee{
			ID:             id,
			OrganizationID: "org-1",
			DisplayName:    "Dana " + id,
			Level:          domain.LevelIC,
			Status:         domain.StatusActive,
			JoinedAt:       time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		}))
	}

	reg, err := registry.Default()
	require.NoError(t, err)
	model := agent.NewScriptedModel()
	engine := conversation.New(repo, reg, agent.NewService(reg, model, time.Second, nil), profile.NewMerger(repo), nil, nil)
	sched := scheduler.New(repo, reg, scheduler.Config{}, nil, nil)

	limiter := NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)

	return &stack{
		repo:  repo,
		model: model,
		router: NewRouter(Deps{
			Repo:           repo,
			Engine:         engine,
			Scheduler:      sched,
			Limiter:        limiter,
			CronSecret:     cronSecret,
			AllowedOrigins: []string{"*"},
		}),
	}
}

func (s *stack) do(t *testing.T, method, path, employeeID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, http.NoBody)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if employeeID != "" {
		r.Header.Set("X-Employee-ID", employeeID)
	}
	if strings.HasPrefix(path, "/api/cron/") {
		r.Header.Set("X-Cron-Secret", cronSecret)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestCheckinLifecycleOverHTTP(t *testing.T) {
	s := newStack(t, 100)

	tick := s.do(t, http.MethodPost, "/api/cron/orgs/org-1/tick", "", `{"date":"2026-10-19"}`)
	require.Equal(t, http.StatusOK, tick.Code, tick.Body.String())
	report := decode[scheduler.TickReport](t, tick)
	assert.Equal(t, 2, report.Created)

	// A repeated tick is a no-op.
	again := decode[scheduler.TickReport](t, s.do(t, http.MethodPost, "/api/cron/orgs/org-1/tick?date=2026-10-19", "", ""))
	assert.Zero(t, again.Created)

	list := s.do(t, http.MethodGet, "/api/checkins", "emp-1", "")
	require.Equal(t, http.StatusOK, list.Code)
	open := decode[struct {
		Sessions []domain.Session `json:"sessions"`
	}](t, list)
	require.Len(t, open.Sessions, 1)
	sessionID := open.Sessions[0].ID

	s.model.Push(
		`{"reply": "Hi Dana, what is on your plate?"}`,
		`{"reply": "Thanks, that's all!", "is_complete": true, "extracted": {}}`,
	)

	opening := s.do(t, http.MethodPost, "/api/checkins/"+sessionID+"/opening", "emp-1", "")
	require.Equal(t, http.StatusOK, opening.Code, opening.Body.String())
	assert.Equal(t, "Hi Dana, what is on your plate?", decode[conversation.Reply](t, opening).Message)

	forbidden := s.do(t, http.MethodPost, "/api/checkins/"+sessionID+"/turns", "emp-2", `{"message":"hi"}`)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	empty := s.do(t, http.MethodPost, "/api/checkins/"+sessionID+"/turns", "emp-1", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	turn := s.do(t, http.MethodPost, "/api/checkins/"+sessionID+"/turns", "emp-1", `{"message":"Shipping the Q4 plan"}`)
	require.Equal(t, http.StatusOK, turn.Code, turn.Body.String())
	reply := decode[conversation.Reply](t, turn)
	assert.True(t, reply.IsComplete)
	assert.Equal(t, domain.StateCompleted, reply.State)

	late := s.do(t, http.MethodPost, "/api/checkins/"+sessionID+"/turns", "emp-1", `{"message":"one more thing"}`)
	assert.Equal(t, http.StatusConflict, late.Code)
	assert.True(t, decode[errorBody](t, late).Completed)

	view := s.do(t, http.MethodGet, "/api/checkins/"+sessionID, "emp-1", "")
	require.Equal(t, http.StatusOK, view.Code)
	assert.Len(t, decode[conversation.SessionView](t, view).Messages, 3)

	missing := s.do(t, http.MethodGet, "/api/checkins/nope", "emp-1", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	s := newStack(t, 100)
	created := s.do(t, http.MethodPost, "/api/cron/orgs/org-1/employees/emp-1/sessions", "", `{"agent_code":"pulse","date":"2026-10-19"}`)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	sess := decode[domain.Session](t, created)

	s.model.Push(`{"reply": "Noted.", "is_complete": false}`)
	path := "/api/checkins/" + sess.ID + "/turns"
	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"message":"fine"}`))
		r.Header.Set("X-Employee-ID", "emp-1")
		r.Header.Set(IdempotencyHeader, "attempt-1")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Noted.", decode[conversation.Reply](t, w).Message)
	}
	assert.Equal(t, 1, s.model.Calls())
}

func TestCronEndpoints(t *testing.T) {
	s := newStack(t, 100)

	r := httptest.NewRequest(http.MethodPost, "/api/cron/orgs/org-1/tick", http.NoBody)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code, "secret required")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/cron/orgs/org-x/tick", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/cron/orgs/org-1/tick", "", `{"date":"tomorrow"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/cron/orgs/org-1/tick", "", `{"date":`).Code)

	path := "/api/cron/orgs/org-1/employees/emp-1/sessions"
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, path, "", `{"agent_code":"focus_tracker","source":"triggered","date":"2026-10-19"}`).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path, "", `{"agent_code":"pulse","date":"2026-10-19"}`).Code, "one check-in per day")
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, path, "", `{"agent_code":"astrologer"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, path, "", `{"agent_code":"pulse","source":"autopilot"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/cron/orgs/org-2/employees/emp-1/sessions", "", `{"agent_code":"pulse"}`).Code)
}

func TestRateLimitPerEmployee(t *testing.T) {
	s := newStack(t, 1)
	path := "/api/checkins/any/opening"

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, path, "emp-1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, path, "emp-1", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, path, "emp-2", "").Code)
}

func TestUnknownEmployeeIsUnauthorized(t *testing.T) {
	s := newStack(t, 100)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/checkins", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/checkins", "ghost", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newStack(t, 100)

	health := s.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, health.Code)
	body := decode[map[string]interface{}](t, health)
	assert.Equal(t, "healthy", body["status"])

	metrics := s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
}
