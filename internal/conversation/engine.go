// Package conversation drives the per-session turn state machine:
// Pending, then Started on the first reply, then Completed when the agent
// says so.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/dotcheck/internal/agent"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/metrics"
	"github.com/ashureev/dotcheck/internal/profile"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/ashureev/dotcheck/internal/store"
)

// ErrEmptyMessage is returned for a turn without text.
var ErrEmptyMessage = errors.New("message is required")

// maxMessageLength bounds a single user message.
const maxMessageLength = 4000

// Store is the persistence the engine needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error)
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)
	GetProfile(ctx context.Context, employeeID string) (*domain.ProfileRecord, error)
	GetTranscript(ctx context.Context, sessionID string) (*domain.Transcript, error)
	ListOpenSessions(ctx context.Context, employeeID string) ([]*domain.Session, error)
	SaveOpening(ctx context.Context, sessionID string, opening domain.StoredMessage) (*domain.Transcript, error)
	CommitTurn(ctx context.Context, c store.TurnCommit) (store.CommitResult, error)
}

// Agents runs the agent selected by code.
type Agents interface {
	Opening(ctx context.Context, code string, ac agent.AgentContext) (string, error)
	ProcessTurn(ctx context.Context, code string, ac agent.AgentContext) (agent.TurnResult, error)
}

// TurnInput is one user message.
type TurnInput struct {
	Message string `json:"message"`
	// IdempotencyKey identifies a client attempt; a retry with the same key
	// returns the stored reply.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Reply is what the employee sees after a request.
type Reply struct {
	SessionID      string              `json:"session_id"`
	Message        string              `json:"message"`
	IsComplete     bool                `json:"is_complete"`
	State          domain.SessionState `json:"state"`
	ProfileVersion int                 `json:"profile_version,omitempty"`
	// Duplicate is set when the reply was replayed from the transcript.
	Duplicate bool `json:"duplicate,omitempty"`
}

// SessionView is a read-only view of a session and its transcript.
type SessionView struct {
	Session   *domain.Session        `json:"session"`
	State     domain.SessionState    `json:"state"`
	AgentName string                 `json:"agent_name"`
	Messages  []domain.StoredMessage `json:"messages"`
}

// Engine processes openings and turns. It keeps no state between calls.
type Engine struct {
	repo     Store
	registry *registry.Registry
	agents   Agents
	merger   *profile.Merger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an engine. A nil metrics set disables instrumentation.
func New(repo Store, reg *registry.Registry, agents Agents, merger *profile.Merger, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		registry: reg,
		agents:   agents,
		merger:   merger,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// loadSession returns the session if it belongs to employeeID.
func (e *Engine) loadSession(ctx context.Context, employeeID, sessionID string) (*domain.Session, error) {
	sess, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	if employeeID == "" || sess.EmployeeID != employeeID {
		return nil, domain.ErrNotAuthorized
	}
	return sess, nil
}

func (e *Engine) buildContext(ctx context.Context, sess *domain.Session) (agent.AgentContext, error) {
	emp, err := e.repo.GetEmployee(ctx, sess.EmployeeID)
	if err != nil {
		return agent.AgentContext{}, fmt.Errorf("load employee: %w", err)
	}
	if emp == nil {
		return agent.AgentContext{}, domain.ErrEmployeeNotFound
	}
	org, err := e.repo.GetOrganization(ctx, sess.OrganizationID)
	if err != nil {
		return agent.AgentContext{}, fmt.Errorf("load organization: %w", err)
	}
	rec, err := e.repo.GetProfile(ctx, sess.EmployeeID)
	if err != nil {
		return agent.AgentContext{}, fmt.Errorf("load profile: %w", err)
	}
	return agent.NewAgentContext(emp, org, rec.Profile), nil
}

// GetOpeningMessage returns the session's opening line, asking the agent for
// it the first time. The session stays Pending until the employee replies.
func (e *Engine) GetOpeningMessage(ctx context.Context, employeeID, sessionID string) (*Reply, error) {
	sess, err := e.loadSession(ctx, employeeID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsCompleted() {
		return nil, domain.ErrSessionAlreadyCompleted
	}

	tr, err := e.repo.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if tr != nil {
		return openingFrom(sess, tr), nil
	}

	ac, err := e.buildContext(ctx, sess)
	if err != nil {
		return nil, err
	}
	text, err := e.callOpening(ctx, sess, ac)
	if err != nil {
		return nil, err
	}

	tr, err = e.repo.SaveOpening(ctx, sessionID, domain.StoredMessage{Role: domain.RoleAssistant, Content: text})
	if errors.Is(err, domain.ErrTurnConflict) {
		// A concurrent request stored its opening first; serve that one.
		tr, err = e.repo.GetTranscript(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load transcript: %w", err)
		}
		if tr == nil {
			return nil, domain.ErrTurnConflict
		}
		return openingFrom(sess, tr), nil
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("Opening stored", "session_id", sessionID, "employee_id", employeeID, "agent", sess.AgentCode)
	return openingFrom(sess, tr), nil
}

func openingFrom(sess *domain.Session, tr *domain.Transcript) *Reply {
	r := &Reply{SessionID: sess.ID, State: sess.State()}
	for _, m := range tr.Messages {
		if m.Role == domain.RoleAssistant {
			r.Message = m.Content
			break
		}
	}
	return r
}

func (e *Engine) callOpening(ctx context.Context, sess *domain.Session, ac agent.AgentContext) (string, error) {
	start := e.now()
	text, err := e.agents.Opening(ctx, sess.AgentCode, ac)
	e.observeCall(sess.AgentCode, start)
	if err != nil {
		e.recordTurn(sess.AgentCode, "error")
		return "", err
	}
	return text, nil
}

// ProcessTurn appends the employee's message, asks the agent for a reply and
// commits the result. On completion the extraction is merged into the profile
// in the same commit. Nothing is written when the agent call fails.
func (e *Engine) ProcessTurn(ctx context.Context, employeeID, sessionID string, in TurnInput) (*Reply, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	msg = truncateMessage(msg)

	sess, err := e.loadSession(ctx, employeeID, sessionID)
	if err != nil {
		return nil, err
	}
	tr, err := e.repo.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	if sess.IsCompleted() {
		return nil, domain.ErrSessionAlreadyCompleted
	}
	if reply, ok := replayDuplicate(sess, tr, msg, in.IdempotencyKey); ok {
		e.logger.Info("Duplicate turn replayed", "session_id", sessionID, "employee_id", employeeID)
		e.recordTurn(sess.AgentCode, "duplicate")
		return reply, nil
	}

	def, err := e.registry.Lookup(sess.AgentCode)
	if err != nil {
		return nil, err
	}

	var history []domain.StoredMessage
	revision := 0
	userTurns := 0
	if tr != nil {
		history = append(history, tr.Messages...)
		revision = tr.Revision
		userTurns = tr.UserTurns()
	}
	history = append(history, domain.StoredMessage{Role: domain.RoleUser, Content: msg})

	ac, err := e.buildContext(ctx, sess)
	if err != nil {
		return nil, err
	}
	ac.History = history
	ac.TurnNumber = userTurns + 1
	ac.MaxTurns = def.MaxTurns
	ac.WrapUp = def.MaxTurns > 0 && ac.TurnNumber >= def.MaxTurns

	start := e.now()
	res, err := e.agents.ProcessTurn(ctx, sess.AgentCode, ac)
	e.observeCall(sess.AgentCode, start)
	if err != nil {
		e.recordTurn(sess.AgentCode, "error")
		return nil, err
	}

	now := e.now()
	commit := store.TurnCommit{
		SessionID:        sess.ID,
		EmployeeID:       sess.EmployeeID,
		ExpectedRevision: revision,
		Messages:         append(history, domain.StoredMessage{Role: domain.RoleAssistant, Content: res.Reply}),
		TurnKey:          in.IdempotencyKey,
	}
	if sess.StartedAt == nil {
		commit.StartedAt = &now
	}
	if res.IsComplete {
		mutate, err := e.merger.Mutation(def.OutputSchema, res.Extracted)
		if err != nil {
			e.logger.Warn("Agent returned an unusable extraction", "session_id", sessionID, "agent", sess.AgentCode, "error", err)
			e.recordTurn(sess.AgentCode, "error")
			return nil, fmt.Errorf("%w: %w", domain.ErrAgentInvocationFailed, err)
		}
		commit.Complete = true
		commit.CompletedAt = now
		commit.Extracted = res.Extracted
		commit.AnsweredTopics = def.TopicCodes()
		commit.Profile = mutate
	}

	result, err := e.repo.CommitTurn(ctx, commit)
	if err != nil {
		e.recordTurn(sess.AgentCode, "commit_error")
		e.logger.Warn("Turn commit failed", "session_id", sessionID, "employee_id", employeeID, "error", err)
		return nil, err
	}

	reply := &Reply{
		SessionID:      sess.ID,
		Message:        res.Reply,
		IsComplete:     res.IsComplete,
		State:          domain.StateStarted,
		ProfileVersion: result.ProfileVersion,
	}
	if res.IsComplete {
		reply.State = domain.StateCompleted
		if e.metrics != nil {
			e.metrics.RecordCompletion(sess.AgentCode, string(def.OutputSchema), true)
		}
		e.logger.Info("Session completed",
			"session_id", sessionID, "employee_id", employeeID, "agent", sess.AgentCode,
			"profile_version", result.ProfileVersion)
	}
	e.recordTurn(sess.AgentCode, "ok")
	return reply, nil
}

// truncateMessage repairs invalid UTF-8 and caps the message at
// maxMessageLength bytes without splitting a character, so the stored turn
// equals what a retry of the same text normalizes to.
func truncateMessage(msg string) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= maxMessageLength {
		return msg
	}
	cut := maxMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// replayDuplicate detects a retried turn: the same idempotency key as the last
// commit or, without a key, the same text as the last answered user message.
func replayDuplicate(sess *domain.Session, tr *domain.Transcript, msg, key string) (*Reply, bool) {
	if tr == nil {
		return nil, false
	}
	last := tr.LastUserIndex()
	if last < 0 || last+1 >= len(tr.Messages) {
		return nil, false
	}

	var dup bool
	if key != "" {
		dup = key == tr.LastTurnKey
	} else {
		dup = tr.Messages[last].Content == msg && last+2 == len(tr.Messages)
	}
	if !dup {
		return nil, false
	}
	return &Reply{
		SessionID:  sess.ID,
		Message:    tr.Messages[last+1].Content,
		IsComplete: sess.IsCompleted(),
		State:      sess.State(),
		Duplicate:  true,
	}, true
}

// GetSession returns a read-only view of the session. Completed sessions are
// served from here.
func (e *Engine) GetSession(ctx context.Context, employeeID, sessionID string) (*SessionView, error) {
	sess, err := e.loadSession(ctx, employeeID, sessionID)
	if err != nil {
		return nil, err
	}
	tr, err := e.repo.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	view := &SessionView{Session: sess, State: sess.State(), Messages: []domain.StoredMessage{}}
	if tr != nil {
		view.Messages = tr.Messages
	}
	if a, err := e.registry.Lookup(sess.AgentCode); err == nil {
		view.AgentName = a.Name
	}
	return view, nil
}

// ListOpen returns the employee's incomplete sessions, oldest first.
func (e *Engine) ListOpen(ctx context.Context, employeeID string) ([]*domain.Session, error) {
	sessions, err := e.repo.ListOpenSessions(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	return sessions, nil
}

func (e *Engine) recordTurn(agentCode, result string) {
	if e.metrics != nil {
		e.metrics.RecordTurn(agentCode, result)
	}
}

func (e *Engine) observeCall(agentCode string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveAgentCall(agentCode, e.now().Sub(start).Seconds())
	}
}
