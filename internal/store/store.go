// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
)

// SlotAnyAgent is the slot key used when an organization allows a single open
// check-in per employee per day regardless of agent.
const SlotAnyAgent = "*"

// SlotAutopilot is shared by rotation-created sessions so at most one of them
// is open per employee per day.
const SlotAutopilot = "autopilot"

// NewSession describes a session to create through the guarded insert.
type NewSession struct {
	OrganizationID string
	EmployeeID     string
	AgentCode      string
	ScheduledDate  string
	ScheduledFor   time.Time
	Source         domain.SessionSource
	// SlotKey participates in the open-session uniqueness index together with
	// employee and date: the agent code, or SlotAnyAgent.
	SlotKey string
	// Topics are marked as asked at AskedAt when the insert wins.
	Topics  []string
	AskedAt time.Time
}

// TurnCommit is everything one conversational turn writes. It is applied
// atomically or not at all.
type TurnCommit struct {
	SessionID  string
	EmployeeID string
	// ExpectedRevision is the transcript revision the turn was computed from;
	// zero when no transcript existed.
	ExpectedRevision int
	Messages         []domain.StoredMessage
	TurnKey          string
	// StartedAt marks the session started if it is not already.
	StartedAt *time.Time

	Complete       bool
	CompletedAt    time.Time
	Extracted      json.RawMessage
	AnsweredTopics []string
	// Profile is applied to the employee profile when Complete is set.
	Profile domain.ProfileMutation
}

// CommitResult reports what a TurnCommit produced.
type CommitResult struct {
	Revision       int
	ProfileVersion int
}

// Repository defines the interface for persisting check-in data.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// UpsertOrganization creates or updates an organization and its policy.
	UpsertOrganization(ctx context.Context, org *domain.Organization) error

	// GetOrganization returns nil, nil when the organization does not exist.
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)

	// UpsertDepartment creates or updates a department.
	UpsertDepartment(ctx context.Context, orgID string, dept *domain.Department) error

	// UpsertEmployee creates or updates an employee membership.
	UpsertEmployee(ctx context.Context, emp *domain.Employee) error

	// GetEmployee returns nil, nil when the employee does not exist.
	GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error)

	// ListActiveEmployees returns the active members of an organization.
	ListActiveEmployees(ctx context.Context, orgID string) ([]*domain.Employee, error)

	// ListTopicHistory returns the topic history rows of an employee.
	ListTopicHistory(ctx context.Context, employeeID string) ([]domain.TopicHistory, error)

	// CreateSession inserts a pending session. It returns domain.ErrSchedulingConflict
	// when the open-session uniqueness constraint rejects the row.
	CreateSession(ctx context.Context, ns NewSession) (*domain.Session, error)

	// ListEmployeeSessionsOn returns every session of an employee on date,
	// complete or not.
	ListEmployeeSessionsOn(ctx context.Context, employeeID, date string) ([]*domain.Session, error)

	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListOpenSessions returns incomplete sessions of an employee, oldest first.
	ListOpenSessions(ctx context.Context, employeeID string) ([]*domain.Session, error)

	// ListSessionsOn returns every session of an organization on date.
	ListSessionsOn(ctx context.Context, orgID, date string) ([]*domain.Session, error)

	// GetTranscript returns nil, nil when no turn was committed yet.
	GetTranscript(ctx context.Context, sessionID string) (*domain.Transcript, error)

	// SaveOpening stores the opening message as the first transcript entry. It
	// returns domain.ErrTurnConflict if a transcript already exists.
	SaveOpening(ctx context.Context, sessionID string, opening domain.StoredMessage) (*domain.Transcript, error)

	// CommitTurn applies one turn atomically.
	CommitTurn(ctx context.Context, c TurnCommit) (CommitResult, error)

	// GetProfile returns the employee profile, or an empty version 0 record.
	GetProfile(ctx context.Context, employeeID string) (*domain.ProfileRecord, error)

	// UpdateProfile runs mutate on the current document and stores it with
	// version+1 in one transaction, returning the new version.
	UpdateProfile(ctx context.Context, employeeID string, mutate domain.ProfileMutation) (int, error)
}
