// Package scheduler decides, once per tick, which employees get a check-in
// today and with which agent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/metrics"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/ashureev/dotcheck/internal/schedule"
	"github.com/ashureev/dotcheck/internal/store"
)

// DefaultOnboardingDays is the window in which onboarding agents lead.
const DefaultOnboardingDays = 14

var (
	// ErrInvalidDate is returned for a malformed tick or manual request date.
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidSource = errors.New("invalid session source")
)

// Store is the persistence the scheduler needs.
type Store interface {
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)
	GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error)
	ListActiveEmployees(ctx context.Context, orgID string) ([]*domain.Employee, error)
	ListTopicHistory(ctx context.Context, employeeID string) ([]domain.TopicHistory, error)
	ListEmployeeSessionsOn(ctx context.Context, employeeID, date string) ([]*domain.Session, error)
	CreateSession(ctx context.Context, ns store.NewSession) (*domain.Session, error)
}

// SkipReasonCode enumerates why an employee got no new session.
type SkipReasonCode string

const (
	SkipReasonNotDue           SkipReasonCode = "not-due"
	SkipReasonAlreadyScheduled SkipReasonCode = "already-scheduled"
	SkipReasonNoEligibleAgent  SkipReasonCode = "no-eligible-agent"
	SkipReasonConflict         SkipReasonCode = "conflict"
	SkipReasonError            SkipReasonCode = "error"
)

// Outcome is the tick result for one employee.
type Outcome struct {
	EmployeeID string         `json:"employee_id"`
	SessionID  string         `json:"session_id,omitempty"`
	AgentCode  string         `json:"agent_code,omitempty"`
	Skipped    SkipReasonCode `json:"skipped,omitempty"`
	Detail     string         `json:"detail,omitempty"`
}

// TickReport summarizes one scheduling tick.
type TickReport struct {
	OrganizationID string    `json:"organization_id"`
	Date           string    `json:"date"`
	Created        int       `json:"created"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Outcomes       []Outcome `json:"outcomes"`
}

// Config holds scheduler tuning.
type Config struct {
	OnboardingDays int
}

// Scheduler creates pending check-in sessions.
type Scheduler struct {
	repo     Store
	registry *registry.Registry
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a scheduler. A nil metrics set disables instrumentation.
func New(repo Store, reg *registry.Registry, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.OnboardingDays <= 0 {
		cfg.OnboardingDays = DefaultOnboardingDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		repo:     repo,
		registry: reg,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// RunTick schedules the organization's due employees for the calendar day
// containing today in the organization's time zone. It is safe to run
// repeatedly and concurrently: a repeated run creates nothing new.
func (s *Scheduler) RunTick(ctx context.Context, orgID string, today time.Time) (TickReport, error) {
	start := time.Now()
	report, err := s.runTick(ctx, orgID, today)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.RecordTick(result, time.Since(start).Seconds())
	}
	return report, err
}

// RunTickOn runs a tick for a "YYYY-MM-DD" date in the organization's time
// zone. An empty date means now.
func (s *Scheduler) RunTickOn(ctx context.Context, orgID, date string) (TickReport, error) {
	if date == "" {
		return s.RunTick(ctx, orgID, time.Now())
	}
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return TickReport{}, fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		return TickReport{}, fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
	}
	today, err := schedule.ParseLocalDate(date, org.Location())
	if err != nil {
		return TickReport{}, fmt.Errorf("%w: %w", ErrInvalidDate, err)
	}
	return s.RunTick(ctx, orgID, today)
}

func (s *Scheduler) runTick(ctx context.Context, orgID string, today time.Time) (TickReport, error) {
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return TickReport{}, fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		return TickReport{}, fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
	}

	date := schedule.LocalDate(today, org.Location())
	report := TickReport{OrganizationID: orgID, Date: date, Outcomes: []Outcome{}}

	employees, err := s.repo.ListActiveEmployees(ctx, orgID)
	if err != nil {
		return report, fmt.Errorf("list employees: %w", err)
	}

	for _, emp := range employees {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := s.scheduleEmployee(ctx, org, emp, today, date)
		if err != nil {
			// One employee's failure never aborts the tick.
			s.logger.Error("Scheduling failed for employee",
				"org_id", orgID, "employee_id", emp.ID, "date", date, "error", err)
			outcome = Outcome{EmployeeID: emp.ID, Skipped: SkipReasonError, Detail: err.Error()}
		}
		report.add(outcome)
		s.recordOutcome(outcome)
	}

	s.logger.Info("Scheduling tick finished",
		"org_id", orgID, "date", date,
		"created", report.Created, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (r *TickReport) add(o Outcome) {
	switch {
	case o.Skipped == SkipReasonError:
		r.Failed++
	case o.Skipped != "":
		r.Skipped++
	default:
		r.Created++
	}
	r.Outcomes = append(r.Outcomes, o)
}

func (s *Scheduler) recordOutcome(o Outcome) {
	if s.metrics == nil {
		return
	}
	if o.Skipped != "" {
		s.metrics.RecordSkip(string(o.Skipped))
		return
	}
	s.metrics.RecordSessionCreated(o.AgentCode, string(domain.SourceAutopilot))
}

func (s *Scheduler) scheduleEmployee(ctx context.Context, org *domain.Organization, emp *domain.Employee, today time.Time, date string) (Outcome, error) {
	out := Outcome{EmployeeID: emp.ID}

	due, window := schedule.IsDueToday(emp, org, today)
	if !due {
		out.Skipped = SkipReasonNotDue
		return out, nil
	}

	existing, err := s.repo.ListEmployeeSessionsOn(ctx, emp.ID, date)
	if err != nil {
		return out, fmt.Errorf("list sessions: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, sess := range existing {
		taken[sess.AgentCode] = true
		// The autopilot makes one rotation decision per employee per day; with
		// one check-in per day any session at all fills the slot.
		if org.OneCheckinPerDay || sess.Source == domain.SourceAutopilot {
			out.Skipped = SkipReasonAlreadyScheduled
			out.SessionID = sess.ID
			out.AgentCode = sess.AgentCode
			return out, nil
		}
	}

	history, err := s.repo.ListTopicHistory(ctx, emp.ID)
	if err != nil {
		return out, fmt.Errorf("load topic history: %w", err)
	}

	var chosen *registry.Agent
	for _, c := range Rank(s.registry.Agents(), emp, history, today, s.cfg.OnboardingDays) {
		if taken[string(c.Agent.Code)] {
			continue
		}
		a := c.Agent
		chosen = &a
		break
	}
	if chosen == nil {
		out.Skipped = SkipReasonNoEligibleAgent
		if len(taken) > 0 {
			out.Skipped = SkipReasonAlreadyScheduled
		}
		return out, nil
	}

	sendAt := schedule.SendTime(today, window, org.Location())
	sess, err := s.repo.CreateSession(ctx, store.NewSession{
		OrganizationID: org.ID,
		EmployeeID:     emp.ID,
		AgentCode:      string(chosen.Code),
		ScheduledDate:  date,
		ScheduledFor:   sendAt,
		Source:         domain.SourceAutopilot,
		SlotKey:        slotKey(org, chosen.Code, domain.SourceAutopilot),
		Topics:         chosen.TopicCodes(),
		AskedAt:        sendAt,
	})
	if errors.Is(err, domain.ErrSchedulingConflict) {
		// A concurrent tick won the insert; that is success for us.
		s.logger.Debug("Session already created concurrently", "employee_id", emp.ID, "agent", chosen.Code, "date", date)
		out.Skipped = SkipReasonConflict
		out.AgentCode = string(chosen.Code)
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Session scheduled",
		"org_id", org.ID, "employee_id", emp.ID, "session_id", sess.ID,
		"agent", chosen.Code, "scheduled_for", sendAt)
	out.SessionID = sess.ID
	out.AgentCode = sess.AgentCode
	return out, nil
}

// slotKey picks the open-session slot the insert competes for. Autopilot
// sessions share one slot per day so concurrent ticks cannot pick two agents.
func slotKey(org *domain.Organization, code registry.AgentCode, source domain.SessionSource) string {
	switch {
	case org.OneCheckinPerDay:
		return store.SlotAnyAgent
	case source == domain.SourceAutopilot:
		return store.SlotAutopilot
	default:
		return string(code)
	}
}

// ManualRequest asks for a session outside the autopilot rotation.
type ManualRequest struct {
	EmployeeID string
	AgentCode  string
	Source     domain.SessionSource
	// Date is the calendar date; zero means today in the organization zone.
	Date time.Time
}

// ScheduleManual creates a manual or triggered session for a chosen agent.
// It goes through the same guarded insert as the autopilot, so a duplicate
// request returns domain.ErrSchedulingConflict.
func (s *Scheduler) ScheduleManual(ctx context.Context, req ManualRequest) (*domain.Session, error) {
	agent, err := s.registry.Lookup(req.AgentCode)
	if err != nil {
		return nil, err
	}
	source := req.Source
	switch source {
	case "":
		source = domain.SourceManual
	case domain.SourceManual, domain.SourceTriggered:
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidSource, source)
	}

	emp, err := s.repo.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("load employee: %w", err)
	}
	if emp == nil || !emp.IsActive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmployeeNotFound, req.EmployeeID)
	}
	org, err := s.repo.GetOrganization(ctx, emp.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, emp.OrganizationID)
	}

	when := req.Date
	if when.IsZero() {
		when = time.Now()
	}
	loc := org.Location()
	date := schedule.LocalDate(when, loc)
	window := org.Window
	if window.IsZero() {
		window = domain.DefaultWindow
	}
	sendAt := schedule.SendTime(when, window, loc)
	if req.Date.IsZero() && time.Now().After(sendAt) {
		sendAt = time.Now()
	}

	sess, err := s.repo.CreateSession(ctx, store.NewSession{
		OrganizationID: org.ID,
		EmployeeID:     emp.ID,
		AgentCode:      string(agent.Code),
		ScheduledDate:  date,
		ScheduledFor:   sendAt,
		Source:         source,
		SlotKey:        slotKey(org, agent.Code, source),
		Topics:         agent.TopicCodes(),
		AskedAt:        sendAt,
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSessionCreated(sess.AgentCode, string(source))
	}
	s.logger.Info("Manual session scheduled",
		"org_id", org.ID, "employee_id", emp.ID, "session_id", sess.ID,
		"agent", agent.Code, "source", source)
	return sess, nil
}
