package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/identity"
	"github.com/ashureev/dotcheck/internal/schedule"
	"github.com/ashureev/dotcheck/internal/scheduler"
	"github.com/go-chi/chi/v5"
)

// Scheduling is the scheduler as seen by the cron endpoints.
type Scheduling interface {
	RunTickOn(ctx context.Context, orgID, date string) (scheduler.TickReport, error)
	ScheduleManual(ctx context.Context, req scheduler.ManualRequest) (*domain.Session, error)
}

// EmployeeLookup resolves the organization of an employee.
type EmployeeLookup interface {
	GetEmployee(ctx context.Context, employeeID string) (*domain.Employee, error)
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)
}

// CronHandler serves the endpoints an external cron calls.
type CronHandler struct {
	scheduler Scheduling
	repo      EmployeeLookup
	secret    string
}

// NewCronHandler creates a cron handler guarded by secret.
func NewCronHandler(s Scheduling, repo EmployeeLookup, secret string) *CronHandler {
	return &CronHandler{scheduler: s, repo: repo, secret: secret}
}

// RegisterRoutes registers cron routes.
func (h *CronHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/cron/orgs/{orgID}", func(r chi.Router) {
		r.Use(identity.CronAuth(h.secret))
		r.Post("/tick", h.Tick)
		r.Post("/employees/{employeeID}/sessions", h.CreateSession)
	})
}

type tickRequest struct {
	Date string `json:"date,omitempty"`
}

// Tick runs one scheduling pass for the organization.
func (h *CronHandler) Tick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Date == "" {
		req.Date = r.URL.Query().Get("date")
	}

	report, err := h.scheduler.RunTickOn(r.Context(), chi.URLParam(r, "orgID"), req.Date)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

type sessionRequest struct {
	AgentCode string               `json:"agent_code"`
	Source    domain.SessionSource `json:"source,omitempty"`
	Date      string               `json:"date,omitempty"`
}

// CreateSession schedules a manual or triggered check-in.
func (h *CronHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	employeeID := chi.URLParam(r, "employeeID")

	var req sessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	emp, err := h.repo.GetEmployee(r.Context(), employeeID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if emp == nil || emp.OrganizationID != orgID {
		WriteError(w, r, fmt.Errorf("%w: %s", domain.ErrEmployeeNotFound, employeeID))
		return
	}

	var when time.Time
	if req.Date != "" {
		when, err = h.parseDate(r.Context(), orgID, req.Date)
		if err != nil {
			WriteError(w, r, err)
			return
		}
	}

	sess, err := h.scheduler.ScheduleManual(r.Context(), scheduler.ManualRequest{
		EmployeeID: employeeID,
		AgentCode:  req.AgentCode,
		Source:     req.Source,
		Date:       when,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

func (h *CronHandler) parseDate(ctx context.Context, orgID, date string) (time.Time, error) {
	org, err := h.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return time.Time{}, err
	}
	if org == nil {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
	}
	when, err := schedule.ParseLocalDate(date, org.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", scheduler.ErrInvalidDate, err)
	}
	return when, nil
}
