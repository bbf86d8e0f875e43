// Package schedule resolves whether an employee is due for a check-in on a
// given calendar day. Everything here is a pure function of policy and date.
package schedule

import (
	"fmt"
	"slices"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
)

// Weekdays is the conventional working week used by daily cadence.
var Weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// IsDueToday reports whether the employee is due on today's date in the
// organization's time zone, and in which window the check-in should be sent.
// An override entry fully replaces the organization policy for that weekday.
func IsDueToday(emp *domain.Employee, org *domain.Organization, today time.Time) (bool, domain.TimeRange) {
	weekday := today.In(org.Location()).Weekday()

	if len(emp.Override) > 0 {
		day := emp.Override.Day(weekday)
		if !day.Active {
			return false, domain.TimeRange{}
		}
		window := day.Range()
		if window.IsZero() {
			window = orgWindow(org)
		}
		return true, window
	}

	if !slices.Contains(dueDays(org), weekday) {
		return false, domain.TimeRange{}
	}
	return true, orgWindow(org)
}

// dueDays returns the weekdays the org cadence fires on.
func dueDays(org *domain.Organization) []time.Weekday {
	if len(org.PreferredDays) > 0 {
		return org.PreferredDays
	}
	if org.Frequency == domain.FrequencyWeekly {
		return []time.Weekday{time.Monday}
	}
	return Weekdays
}

func orgWindow(org *domain.Organization) domain.TimeRange {
	if org.Window.IsZero() {
		return domain.DefaultWindow
	}
	return org.Window
}

// LocalDate formats today as a calendar date in loc.
func LocalDate(today time.Time, loc *time.Location) string {
	return today.In(loc).Format(domain.DateLayout)
}

// SendTime returns the instant at which a check-in scheduled for today's date
// should be delivered: the start of the window in loc.
func SendTime(today time.Time, window domain.TimeRange, loc *time.Location) time.Time {
	local := today.In(loc)
	minutes := int(window.Start)
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, loc)
}

// ParseLocalDate returns midday of a "YYYY-MM-DD" date in loc, an instant that
// falls on that calendar day whatever the zone offset.
func ParseLocalDate(date string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(domain.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return d.Add(12 * time.Hour), nil
}
