// Package domain contains core domain types for the check-in engine.
package domain

import (
	"time"
	// Organization time zones must resolve without host tzdata.
	_ "time/tzdata"
)

// Frequency is an organization's check-in cadence.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Organization represents a tenant with its org-wide check-in policy.
type Organization struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Timezone      string         `json:"timezone"`
	Frequency     Frequency      `json:"frequency"`
	PreferredDays []time.Weekday `json:"preferred_days,omitempty"`
	Window        TimeRange      `json:"window"`
	// OneCheckinPerDay limits an employee to a single open check-in per day,
	// regardless of agent.
	OneCheckinPerDay bool      `json:"one_checkin_per_day"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Location returns the organization's time zone, falling back to UTC.
func (o *Organization) Location() *time.Location {
	if o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Level is an employee's seniority band.
type Level string

const (
	LevelExec    Level = "exec"
	LevelManager Level = "manager"
	LevelIC      Level = "ic"
)

// EmployeeStatus is the membership lifecycle state.
type EmployeeStatus string

const (
	StatusActive   EmployeeStatus = "active"
	StatusInactive EmployeeStatus = "inactive"
	StatusInvited  EmployeeStatus = "invited"
)

// Department groups employees and carries tags used for agent applicability.
type Department struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// Employee is a membership of a person in exactly one organization.
type Employee struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	DisplayName    string           `json:"display_name"`
	JobTitle       string           `json:"job_title,omitempty"`
	Level          Level            `json:"level"`
	Department     *Department      `json:"department,omitempty"`
	Status         EmployeeStatus   `json:"status"`
	SupervisorID   string           `json:"supervisor_id,omitempty"`
	SupervisorName string           `json:"supervisor_name,omitempty"`
	Override       ScheduleOverride `json:"schedule_override,omitempty"`
	JoinedAt       time.Time        `json:"joined_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsActive reports whether the employee should be considered for scheduling.
func (e *Employee) IsActive() bool {
	return e.Status == StatusActive
}

// HasSupervisor returns true if the employee reports to someone.
func (e *Employee) HasSupervisor() bool {
	return e.SupervisorID != ""
}

// DepartmentTags returns the department tags, or nil when unassigned.
func (e *Employee) DepartmentTags() []string {
	if e.Department == nil {
		return nil
	}
	return e.Department.Tags
}

// TenureDays returns the number of whole days since the employee joined.
func (e *Employee) TenureDays(now time.Time) int {
	if e.JoinedAt.IsZero() || now.Before(e.JoinedAt) {
		return 0
	}
	return int(now.Sub(e.JoinedAt).Hours() / 24)
}
