// Package directory loads an organization's policy, departments and members
// from a YAML file into storage.
package directory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"gopkg.in/yaml.v3"
)

// File is the on-disk directory format.
type File struct {
	Organization Organization `yaml:"organization"`
	Departments  []Department `yaml:"departments"`
	Employees    []Employee   `yaml:"employees"`
}

// Organization is the org policy block.
type Organization struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Timezone         string   `yaml:"timezone"`
	Frequency        string   `yaml:"frequency"`
	PreferredDays    []string `yaml:"preferred_days"`
	Window           *Window  `yaml:"window"`
	OneCheckinPerDay bool     `yaml:"one_checkin_per_day"`
}

// Window is an "HH:MM" start and end pair.
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Department groups employees.
type Department struct {
	ID   string   `yaml:"id"`
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

// Employee is one member. Schedule, when present, fully replaces the org
// policy: weekdays not listed are inactive.
type Employee struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	JobTitle   string            `yaml:"job_title"`
	Level      string            `yaml:"level"`
	Department string            `yaml:"department"`
	Supervisor string            `yaml:"supervisor"`
	Status     string            `yaml:"status"`
	Joined     string            `yaml:"joined"`
	Schedule   map[string]Window `yaml:"schedule"`
}

// Store is the storage the loader writes to.
type Store interface {
	UpsertOrganization(ctx context.Context, org *domain.Organization) error
	UpsertDepartment(ctx context.Context, orgID string, dept *domain.Department) error
	UpsertEmployee(ctx context.Context, emp *domain.Employee) error
}

// Parse decodes a directory file.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("directory: payload is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}
	if f.Organization.ID == "" {
		return nil, fmt.Errorf("directory: organization.id is required")
	}
	return &f, nil
}

// LoadFile reads and parses a directory file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	return Parse(data)
}

// Summary counts what Apply wrote.
type Summary struct {
	Departments int
	Employees   int
}

// Apply converts the file to domain records and upserts them.
func (f *File) Apply(ctx context.Context, repo Store) (Summary, error) {
	var sum Summary
	org, err := f.Organization.toDomain()
	if err != nil {
		return sum, err
	}
	if err := repo.UpsertOrganization(ctx, org); err != nil {
		return sum, err
	}

	depts := make(map[string]*domain.Department, len(f.Departments))
	for _, d := range f.Departments {
		dept := &domain.Department{ID: d.ID, Name: d.Name, Tags: d.Tags}
		if err := repo.UpsertDepartment(ctx, org.ID, dept); err != nil {
			return sum, err
		}
		depts[d.ID] = dept
		sum.Departments++
	}

	for _, e := range f.Employees {
		emp, err := e.toDomain(org.ID, depts)
		if err != nil {
			return sum, err
		}
		if err := repo.UpsertEmployee(ctx, emp); err != nil {
			return sum, err
		}
		sum.Employees++
	}
	return sum, nil
}

func (o Organization) toDomain() (*domain.Organization, error) {
	org := &domain.Organization{
		ID:               o.ID,
		Name:             o.Name,
		Timezone:         o.Timezone,
		Frequency:        domain.Frequency(strings.ToLower(o.Frequency)),
		OneCheckinPerDay: o.OneCheckinPerDay,
	}
	switch org.Frequency {
	case "":
		org.Frequency = domain.FrequencyWeekly
	case domain.FrequencyDaily, domain.FrequencyWeekly:
	default:
		return nil, fmt.Errorf("directory: organization %s: unknown frequency %q", o.ID, o.Frequency)
	}
	if o.Timezone != "" {
		if _, err := time.LoadLocation(o.Timezone); err != nil {
			return nil, fmt.Errorf("directory: organization %s: %w", o.ID, err)
		}
	}
	for _, name := range o.PreferredDays {
		d, err := parseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("directory: organization %s: %w", o.ID, err)
		}
		org.PreferredDays = append(org.PreferredDays, d)
	}
	if o.Window != nil {
		r, err := o.Window.toRange()
		if err != nil {
			return nil, fmt.Errorf("directory: organization %s: %w", o.ID, err)
		}
		org.Window = r
	}
	return org, nil
}

func (e Employee) toDomain(orgID string, depts map[string]*domain.Department) (*domain.Employee, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("directory: employee without id")
	}
	emp := &domain.Employee{
		ID:             e.ID,
		OrganizationID: orgID,
		DisplayName:    e.Name,
		JobTitle:       e.JobTitle,
		Level:          domain.Level(strings.ToLower(e.Level)),
		Status:         domain.EmployeeStatus(strings.ToLower(e.Status)),
		SupervisorID:   e.Supervisor,
	}
	if e.Department != "" {
		dept, ok := depts[e.Department]
		if !ok {
			return nil, fmt.Errorf("directory: employee %s: unknown department %q", e.ID, e.Department)
		}
		emp.Department = dept
	}
	if e.Joined != "" {
		joined, err := time.Parse(domain.DateLayout, e.Joined)
		if err != nil {
			return nil, fmt.Errorf("directory: employee %s: joined: %w", e.ID, err)
		}
		emp.JoinedAt = joined
	}
	if len(e.Schedule) > 0 {
		emp.Override = domain.ScheduleOverride{}
		for name, w := range e.Schedule {
			d, err := parseWeekday(name)
			if err != nil {
				return nil, fmt.Errorf("directory: employee %s: %w", e.ID, err)
			}
			r, err := w.toRange()
			if err != nil {
				return nil, fmt.Errorf("directory: employee %s: %w", e.ID, err)
			}
			emp.Override[d] = domain.DayWindow{Active: true, Start: r.Start, End: r.End}
		}
	}
	return emp, nil
}

func (w Window) toRange() (domain.TimeRange, error) {
	start, err := domain.ParseClock(w.Start)
	if err != nil {
		return domain.TimeRange{}, err
	}
	end, err := domain.ParseClock(w.End)
	if err != nil {
		return domain.TimeRange{}, err
	}
	r := domain.TimeRange{Start: start, End: end}
	return r, r.Validate()
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func parseWeekday(name string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if d, ok := weekdays[key]; ok {
		return d, nil
	}
	for full, d := range weekdays {
		if len(key) >= 3 && strings.HasPrefix(full, key) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
