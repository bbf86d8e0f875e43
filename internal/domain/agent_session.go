package domain

import (
	"encoding/json"
	"time"
)

// SessionSource records who created a session.
type SessionSource string

const (
	SourceAutopilot SessionSource = "autopilot"
	SourceManual    SessionSource = "manual"
	SourceTriggered SessionSource = "triggered"
)

// SessionState is derived from the session timestamps.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateStarted   SessionState = "started"
	StateCompleted SessionState = "completed"
)

// DateLayout is the calendar date format used for scheduled dates.
const DateLayout = "2006-01-02"

// Session is one scheduled conversational attempt with an employee.
type Session struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	EmployeeID     string        `json:"employee_id"`
	AgentCode      string        `json:"agent_code"`
	ScheduledDate  string        `json:"scheduled_date"`
	ScheduledFor   time.Time     `json:"scheduled_for"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Source         SessionSource `json:"source"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// State returns the lifecycle state implied by the timestamps.
func (s *Session) State() SessionState {
	switch {
	case s.CompletedAt != nil:
		return StateCompleted
	case s.StartedAt != nil:
		return StateStarted
	default:
		return StatePending
	}
}

// IsCompleted returns true once the agent has signalled completion.
func (s *Session) IsCompleted() bool {
	return s.CompletedAt != nil
}

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StoredMessage is a serialized chat message entry.
type StoredMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the answer record owned by the turn engine for one session.
type Transcript struct {
	SessionID   string          `json:"session_id"`
	Messages    []StoredMessage `json:"messages"`
	Extracted   json.RawMessage `json:"extracted,omitempty"`
	LastTurnKey string          `json:"-"`
	// Revision increments on every commit and guards concurrent writers.
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastUserIndex returns the index of the most recent user message, or -1.
func (t *Transcript) LastUserIndex() int {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// UserTurns counts user-authored messages.
func (t *Transcript) UserTurns() int {
	n := 0
	for _, m := range t.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// TopicHistory tracks how recently and how often a topic was asked.
type TopicHistory struct {
	EmployeeID    string     `json:"employee_id"`
	Topic         string     `json:"topic"`
	LastAskedAt   *time.Time `json:"last_asked_at,omitempty"`
	TimesAnswered int        `json:"times_answered"`
}
