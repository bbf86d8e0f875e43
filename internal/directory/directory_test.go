package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
organization:
  id: org-1
  name: Acme Freight
  timezone: America/Chicago
  frequency: weekly
  preferred_days: [monday, Wed]
  window: {start: "08:30", end: "11:00"}
  one_checkin_per_day: true
departments:
  - id: dep-ops
    name: Operations
    tags: [ops, field]
employees:
  - id: emp-0
    name: Morgan Lee
    level: manager
  - id: emp-1
    name: Dana Ruiz
    job_title: Dispatcher
    department: dep-ops
    supervisor: emp-0
    joined: "2025-01-06"
    schedule:
      tuesday: {start: "10:00", end: "12:00"}
`

func TestApplyLoadsDirectory(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "dotcheck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	sum, err := f.Apply(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, Summary{Departments: 1, Employees: 2}, sum)

	org, err := repo.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, org.PreferredDays)
	assert.Equal(t, domain.MustClock("08:30"), org.Window.Start)
	assert.True(t, org.OneCheckinPerDay)

	emp, err := repo.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, emp)
	assert.Equal(t, "Morgan Lee", emp.SupervisorName)
	require.NotNil(t, emp.Department)
	assert.Equal(t, []string{"ops", "field"}, emp.Department.Tags)
	assert.Equal(t, domain.DayWindow{Active: true, Start: domain.MustClock("10:00"), End: domain.MustClock("12:00")}, emp.Override.Day(time.Tuesday))
	assert.False(t, emp.Override.Day(time.Monday).Active)
	assert.Equal(t, domain.StatusActive, emp.Status)

	// Re-applying is an update, not a duplicate.
	_, err = f.Apply(ctx, repo)
	require.NoError(t, err)
	members, err := repo.ListActiveEmployees(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("  "))
	require.Error(t, err)

	_, err = Parse([]byte("organization: {name: nameless}"))
	require.Error(t, err)

	tests := map[string]string{
		"frequency":  "organization: {id: o, frequency: hourly}",
		"weekday":    "organization: {id: o, preferred_days: [funday]}",
		"window":     `organization: {id: o, window: {start: "11:00", end: "09:00"}}`,
		"timezone":   "organization: {id: o, timezone: Mars/Olympus}",
		"department": "organization: {id: o}\nemployees: [{id: e, department: nowhere}]",
		"joined":     "organization: {id: o}\nemployees: [{id: e, joined: last-week}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			f, err := Parse([]byte(doc))
			require.NoError(t, err)
			_, err = f.Apply(context.Background(), nopStore{})
			assert.Error(t, err)
		})
	}
}

type nopStore struct{}

func (nopStore) UpsertOrganization(context.Context, *domain.Organization) error { return nil }
func (nopStore) UpsertDepartment(context.Context, string, *domain.Department) error { return nil }
func (nopStore) UpsertEmployee(context.Context, *domain.Employee) error { return nil }
