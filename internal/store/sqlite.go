package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
	now   func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithRetryPolicy overrides the SQLITE_BUSY retry policy.
func WithRetryPolicy(p shared.RetryPolicy) Option {
	return func(s *SQLiteStore) { s.retry = p }
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so writers queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		frequency TEXT NOT NULL DEFAULT 'weekly',
		preferred_days TEXT NOT NULL DEFAULT '',
		window_start INTEGER NOT NULL DEFAULT 0,
		window_end INTEGER NOT NULL DEFAULT 0,
		one_per_day INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		tags_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		display_name TEXT NOT NULL,
		job_title TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT 'ic',
		department_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		supervisor_id TEXT,
		override_json TEXT,
		joined_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_employees_org_status ON employees(organization_id, status);

	CREATE TABLE IF NOT EXISTS topic_history (
		employee_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		last_asked_at INTEGER,
		times_answered INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (employee_id, topic)
	);

	CREATE TABLE IF NOT EXISTS checkin_sessions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		agent_code TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		scheduled_for INTEGER NOT NULL,
		slot_key TEXT NOT NULL,
		source TEXT NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	-- At most one incomplete session per (employee, agent, date).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_agent_day
		ON checkin_sessions(employee_id, agent_code, scheduled_date)
		WHERE completed_at IS NULL;
	-- One-per-day organizations share the '*' slot across agents.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_slot
		ON checkin_sessions(employee_id, scheduled_date, slot_key)
		WHERE completed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_org_date ON checkin_sessions(organization_id, scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_sessions_employee ON checkin_sessions(employee_id, scheduled_date);

	CREATE TABLE IF NOT EXISTS transcripts (
		session_id TEXT PRIMARY KEY REFERENCES checkin_sessions(id),
		messages_json TEXT NOT NULL,
		extracted_json TEXT,
		last_turn_key TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		employee_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		document_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, retrying the whole transaction on SQLITE_BUSY.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return shared.RetryOnConflict(ctx, s.retry, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", op, err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("Rollback failed", "op", op, "error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", op, err)
		}
		return nil
	})
}

// UpsertOrganization creates or updates an organization and its policy.
func (s *SQLiteStore) UpsertOrganization(ctx context.Context, org *domain.Organization) error {
	query := `
	INSERT INTO organizations (id, name, timezone, frequency, preferred_days,
		window_start, window_end, one_per_day, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		timezone = excluded.timezone,
		frequency = excluded.frequency,
		preferred_days = excluded.preferred_days,
		window_start = excluded.window_start,
		window_end = excluded.window_end,
		one_per_day = excluded.one_per_day,
		updated_at = excluded.updated_at`

	now := s.now()
	created := org.CreatedAt
	if created.IsZero() {
		created = now
	}
	tz := org.Timezone
	if tz == "" {
		tz = "UTC"
	}

	_, err := s.db.ExecContext(ctx, query,
		org.ID, org.Name, tz, string(org.Frequency), encodeWeekdays(org.PreferredDays),
		int(org.Window.Start), int(org.Window.End), org.OneCheckinPerDay,
		created.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *SQLiteStore) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	query := `
		SELECT id, name, timezone, frequency, preferred_days,
		       window_start, window_end, one_per_day, created_at, updated_at
		FROM organizations WHERE id = ?`

	var org domain.Organization
	var frequency, days string
	var start, end int
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&org.ID, &org.Name, &org.Timezone, &frequency, &days,
		&start, &end, &org.OneCheckinPerDay, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan organization row: %w", err)
	}

	org.Frequency = domain.Frequency(frequency)
	org.PreferredDays = decodeWeekdays(days)
	org.Window = domain.TimeRange{Start: domain.Clock(start), End: domain.Clock(end)}
	org.CreatedAt = time.Unix(createdAt, 0)
	org.UpdatedAt = time.Unix(updatedAt, 0)
	return &org, nil
}

// UpsertDepartment creates or updates a department.
func (s *SQLiteStore) UpsertDepartment(ctx context.Context, orgID string, dept *domain.Department) error {
	tags, err := json.Marshal(nonNil(dept.Tags))
	if err != nil {
		return fmt.Errorf("encode department tags: %w", err)
	}
	query := `
	INSERT INTO departments (id, organization_id, name, tags_json)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		tags_json = excluded.tags_json`
	if _, err := s.db.ExecContext(ctx, query, dept.ID, orgID, dept.Name, string(tags)); err != nil {
		return fmt.Errorf("upsert department: %w", err)
	}
	return nil
}

// UpsertEmployee creates or updates an employee membership.
func (s *SQLiteStore) UpsertEmployee(ctx context.Context, emp *domain.Employee) error {
	query := `
	INSERT INTO employees (id, organization_id, display_name, job_title, level,
		department_id, status, supervisor_id, override_json, joined_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		display_name = excluded.display_name,
		job_title = excluded.job_title,
		level = excluded.level,
		department_id = excluded.department_id,
		status = excluded.status,
		supervisor_id = excluded.supervisor_id,
		override_json = excluded.override_json,
		updated_at = excluded.updated_at`

	var deptID, supervisorID, override interface{}
	if emp.Department != nil && emp.Department.ID != "" {
		deptID = emp.Department.ID
	}
	if emp.SupervisorID != "" {
		supervisorID = emp.SupervisorID
	}
	if len(emp.Override) > 0 {
		data, err := json.Marshal(emp.Override)
		if err != nil {
			return fmt.Errorf("encode schedule override: %w", err)
		}
		override = string(data)
	}

	now := s.now()
	joined := emp.JoinedAt
	if joined.IsZero() {
		joined = now
	}
	created := emp.CreatedAt
	if created.IsZero() {
		created = now
	}
	status := emp.Status
	if status == "" {
		status = domain.StatusActive
	}
	level := emp.Level
	if level == "" {
		level = domain.LevelIC
	}

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.OrganizationID, emp.DisplayName, emp.JobTitle, string(level),
		deptID, string(status), supervisorID, override,
		joined.Unix(), created.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert employee: %w", err)
	}
	return nil
}

const employeeColumns = `
	e.id, e.organization_id, e.display_name, e.job_title, e.level, e.status,
	e.supervisor_id, COALESCE(sup.display_name, ''), e.override_json,
	d.id, d.name, d.tags_json, e.joined_at, e.created_at, e.updated_at
	FROM employees e
	LEFT JOIN employees sup ON sup.id = e.supervisor_id
	LEFT JOIN departments d ON d.id = e.department_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*domain.Employee, error) {
	var emp domain.Employee
	var level, status string
	var supervisorID, override, deptID, deptName, deptTags sql.NullString
	var joinedAt, createdAt, updatedAt int64

	if err := row.Scan(
		&emp.ID, &emp.OrganizationID, &emp.DisplayName, &emp.JobTitle, &level, &status,
		&supervisorID, &emp.SupervisorName, &override,
		&deptID, &deptName, &deptTags, &joinedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	emp.Level = domain.Level(level)
	emp.Status = domain.EmployeeStatus(status)
	emp.SupervisorID = supervisorID.String
	emp.JoinedAt = time.Unix(joinedAt, 0)
	emp.CreatedAt = time.Unix(createdAt, 0)
	emp.UpdatedAt = time.Unix(updatedAt, 0)

	if override.Valid && override.String != "" {
		var o domain.ScheduleOverride
		if err := json.Unmarshal([]byte(override.String), &o); err != nil {
			return nil, fmt.Errorf("decode schedule override for %s: %w", emp.ID, err)
		}
		emp.Override = o
	}
	if deptID.Valid {
		dept := &domain.Department{ID: deptID.String, Name: deptName.String}
		if deptTags.Valid && deptTags.String != "" {
			if err := json.Unmarshal([]byte(deptTags.String), &dept.Tags); err != nil {
				return nil, fmt.Errorf("decode department tags for %s: %w", emp.ID, err)
			}
		}
		emp.Department = dept
	}
	return &emp, nil
}

// GetEmployee retrieves an employee by ID.
func (s *SQLiteStore) GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` WHERE e.id = ?`, employeeID)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan employee row: %w", err)
	}
	return emp, nil
}

// ListActiveEmployees returns the active members of an organization ordered by ID.
func (s *SQLiteStore) ListActiveEmployees(ctx context.Context, orgID string) ([]*domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+employeeColumns+` WHERE e.organization_id = ? AND e.status = ? ORDER BY e.id`,
		orgID, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query active employees: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close employee rows", "error", closeErr)
		}
	}()

	var out []*domain.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee row: %w", err)
		}
		out = append(out, emp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// ListTopicHistory returns the topic history rows of an employee.
func (s *SQLiteStore) ListTopicHistory(ctx context.Context, employeeID string) ([]domain.TopicHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, topic, last_asked_at, times_answered
		FROM topic_history WHERE employee_id = ? ORDER BY topic`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("query topic history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close topic history rows", "error", closeErr)
		}
	}()

	var out []domain.TopicHistory
	for rows.Next() {
		var h domain.TopicHistory
		var lastAsked sql.NullInt64
		if err := rows.Scan(&h.EmployeeID, &h.Topic, &lastAsked, &h.TimesAnswered); err != nil {
			return nil, fmt.Errorf("scan topic history row: %w", err)
		}
		if lastAsked.Valid {
			ts := time.Unix(lastAsked.Int64, 0)
			h.LastAskedAt = &ts
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic history: %w", err)
	}
	return out, nil
}

// CreateSession inserts a pending session guarded by the open-session
// uniqueness indexes. Topic history is only touched when the insert wins.
func (s *SQLiteStore) CreateSession(ctx context.Context, ns NewSession) (*domain.Session, error) {
	now := s.now()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		OrganizationID: ns.OrganizationID,
		EmployeeID:     ns.EmployeeID,
		AgentCode:      ns.AgentCode,
		ScheduledDate:  ns.ScheduledDate,
		ScheduledFor:   ns.ScheduledFor,
		Source:         ns.Source,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	slot := ns.SlotKey
	if slot == "" {
		slot = ns.AgentCode
	}
	askedAt := ns.AskedAt
	if askedAt.IsZero() {
		askedAt = now
	}

	err := s.inTx(ctx, "create session", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkin_sessions (id, organization_id, employee_id, agent_code,
				scheduled_date, scheduled_for, slot_key, source, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.OrganizationID, sess.EmployeeID, sess.AgentCode,
			sess.ScheduledDate, sess.ScheduledFor.Unix(), slot, string(sess.Source),
			now.Unix(), now.Unix(),
		)
		if shared.IsSQLiteUniqueError(err) {
			return domain.ErrSchedulingConflict
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		for _, topic := range ns.Topics {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO topic_history (employee_id, topic, last_asked_at, times_answered)
				VALUES (?, ?, ?, 0)
				ON CONFLICT(employee_id, topic) DO UPDATE SET
					last_asked_at = MAX(COALESCE(topic_history.last_asked_at, 0), excluded.last_asked_at)`,
				ns.EmployeeID, topic, askedAt.Unix(),
			); err != nil {
				return fmt.Errorf("mark topic %s asked: %w", topic, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

const sessionColumns = `id, organization_id, employee_id, agent_code, scheduled_date,
	scheduled_for, source, started_at, completed_at, created_at, updated_at
	FROM checkin_sessions`

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var source string
	var scheduledFor, createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64

	if err := row.Scan(
		&sess.ID, &sess.OrganizationID, &sess.EmployeeID, &sess.AgentCode, &sess.ScheduledDate,
		&scheduledFor, &source, &startedAt, &completedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	sess.Source = domain.SessionSource(source)
	sess.ScheduledFor = time.Unix(scheduledFor, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	if startedAt.Valid {
		ts := time.Unix(startedAt.Int64, 0)
		sess.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		sess.CompletedAt = &ts
	}
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` WHERE id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) listSessions(ctx context.Context, where string, args ...interface{}) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// ListOpenSessions returns incomplete sessions of an employee, oldest first.
func (s *SQLiteStore) ListOpenSessions(ctx context.Context, employeeID string) ([]*domain.Session, error) {
	return s.listSessions(ctx, `employee_id = ? AND completed_at IS NULL ORDER BY scheduled_for, id`, employeeID)
}

// ListEmployeeSessionsOn returns every session of an employee on date.
func (s *SQLiteStore) ListEmployeeSessionsOn(ctx context.Context, employeeID, date string) ([]*domain.Session, error) {
	return s.listSessions(ctx, `employee_id = ? AND scheduled_date = ? ORDER BY created_at, id`, employeeID, date)
}

// ListSessionsOn returns every session of an organization on date.
func (s *SQLiteStore) ListSessionsOn(ctx context.Context, orgID, date string) ([]*domain.Session, error) {
	return s.listSessions(ctx, `organization_id = ? AND scheduled_date = ? ORDER BY employee_id, agent_code, id`, orgID, date)
}

// GetTranscript retrieves the transcript of a session.
func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) (*domain.Transcript, error) {
	return getTranscript(ctx, s.db, sessionID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTranscript(ctx context.Context, q queryer, sessionID string) (*domain.Transcript, error) {
	query := `
		SELECT session_id, messages_json, extracted_json, last_turn_key, revision, created_at, updated_at
		FROM transcripts WHERE session_id = ?`

	var t domain.Transcript
	var messages string
	var extracted sql.NullString
	var createdAt, updatedAt int64

	err := q.QueryRowContext(ctx, query, sessionID).Scan(
		&t.SessionID, &messages, &extracted, &t.LastTurnKey, &t.Revision, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &t.Messages); err != nil {
		return nil, fmt.Errorf("decode transcript messages: %w", err)
	}
	if extracted.Valid {
		t.Extracted = json.RawMessage(extracted.String)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

// SaveOpening stores the opening line as the first transcript entry.
func (s *SQLiteStore) SaveOpening(ctx context.Context, sessionID string, opening domain.StoredMessage) (*domain.Transcript, error) {
	now := s.now()
	messages := []domain.StoredMessage{opening}
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode opening: %w", err)
	}

	err = s.inTx(ctx, "save opening", func(tx *sql.Tx) error {
		var completed sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT completed_at FROM checkin_sessions WHERE id = ?`, sessionID).Scan(&completed)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if completed.Valid {
			return domain.ErrSessionAlreadyCompleted
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transcripts (session_id, messages_json, revision, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)`,
			sessionID, string(data), now.Unix(), now.Unix())
		if shared.IsSQLiteUniqueError(err) {
			return domain.ErrTurnConflict
		}
		if err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.Transcript{
		SessionID: sessionID,
		Messages:  messages,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CommitTurn applies one turn atomically: session timestamps, the full
// transcript, and on completion the topic answer counts and the profile.
//
//nolint:gocyclo // The commit is one transaction; splitting it hides the ordering.
func (s *SQLiteStore) CommitTurn(ctx context.Context, c TurnCommit) (CommitResult, error) {
	var result CommitResult
	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return result, fmt.Errorf("encode transcript: %w", err)
	}
	var extracted interface{}
	if c.Complete && len(c.Extracted) > 0 {
		extracted = string(c.Extracted)
	}

	err = s.inTx(ctx, "commit turn", func(tx *sql.Tx) error {
		result = CommitResult{}
		now := s.now()

		var startedAt, completedAt interface{}
		if c.StartedAt != nil {
			startedAt = c.StartedAt.Unix()
		}
		if c.Complete {
			completedAt = c.CompletedAt.Unix()
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE checkin_sessions
			SET started_at = COALESCE(started_at, ?),
			    completed_at = ?,
			    updated_at = ?
			WHERE id = ? AND completed_at IS NULL`,
			startedAt, completedAt, now.Unix(), c.SessionID)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM checkin_sessions WHERE id = ?`, c.SessionID).Scan(&exists); err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if exists == 0 {
				return domain.ErrSessionNotFound
			}
			return domain.ErrSessionAlreadyCompleted
		}

		if c.ExpectedRevision == 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO transcripts (session_id, messages_json, extracted_json, last_turn_key, revision, created_at, updated_at)
				VALUES (?, ?, ?, ?, 1, ?, ?)`,
				c.SessionID, string(messages), extracted, c.TurnKey, now.Unix(), now.Unix())
			if shared.IsSQLiteUniqueError(err) {
				return domain.ErrTurnConflict
			}
			if err != nil {
				return fmt.Errorf("insert transcript: %w", err)
			}
			result.Revision = 1
		} else {
			res, err := tx.ExecContext(ctx, `
				UPDATE transcripts
				SET messages_json = ?, extracted_json = ?, last_turn_key = ?,
				    revision = revision + 1, updated_at = ?
				WHERE session_id = ? AND revision = ?`,
				string(messages), extracted, c.TurnKey, now.Unix(), c.SessionID, c.ExpectedRevision)
			if err != nil {
				return fmt.Errorf("update transcript: %w", err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			if rows == 0 {
				return domain.ErrTurnConflict
			}
			result.Revision = c.ExpectedRevision + 1
		}

		if !c.Complete {
			return nil
		}

		for _, topic := range c.AnsweredTopics {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO topic_history (employee_id, topic, last_asked_at, times_answered)
				VALUES (?, ?, ?, 1)
				ON CONFLICT(employee_id, topic) DO UPDATE SET
					times_answered = topic_history.times_answered + 1`,
				c.EmployeeID, topic, c.CompletedAt.Unix(),
			); err != nil {
				return fmt.Errorf("mark topic %s answered: %w", topic, err)
			}
		}

		if c.Profile != nil {
			version, err := updateProfileTx(ctx, tx, c.EmployeeID, c.Profile, now)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrProfileMergeFailed, err)
			}
			result.ProfileVersion = version
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

// GetProfile retrieves the profile of an employee, or an empty version 0 one.
func (s *SQLiteStore) GetProfile(ctx context.Context, employeeID string) (*domain.ProfileRecord, error) {
	return getProfile(ctx, s.db, employeeID)
}

func getProfile(ctx context.Context, q queryer, employeeID string) (*domain.ProfileRecord, error) {
	rec := &domain.ProfileRecord{EmployeeID: employeeID}
	var doc string
	var updatedAt int64

	err := q.QueryRowContext(ctx,
		`SELECT version, document_json, updated_at FROM profiles WHERE employee_id = ?`, employeeID,
	).Scan(&rec.Version, &doc, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &rec.Profile); err != nil {
		return nil, fmt.Errorf("decode profile document: %w", err)
	}
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return rec, nil
}

// UpdateProfile runs mutate and stores the result with version+1.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, employeeID string, mutate domain.ProfileMutation) (int, error) {
	var version int
	err := s.inTx(ctx, "update profile", func(tx *sql.Tx) error {
		v, err := updateProfileTx(ctx, tx, employeeID, mutate, s.now())
		version = v
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func updateProfileTx(ctx context.Context, tx *sql.Tx, employeeID string, mutate domain.ProfileMutation, now time.Time) (int, error) {
	rec, err := getProfile(ctx, tx, employeeID)
	if err != nil {
		return 0, err
	}
	doc := rec.Profile
	if err := mutate(&doc); err != nil {
		return 0, fmt.Errorf("mutate profile: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode profile: %w", err)
	}

	next := rec.Version + 1
	res, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (employee_id, version, document_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			version = excluded.version,
			document_json = excluded.document_json,
			updated_at = excluded.updated_at
		WHERE profiles.version = ?`,
		employeeID, next, string(data), now.Unix(), rec.Version)
	if err != nil {
		return 0, fmt.Errorf("write profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("profile version moved past %d", rec.Version)
	}
	return next, nil
}

func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var out []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		out = append(out, time.Weekday(n))
	}
	return out
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
