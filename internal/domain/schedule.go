package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Clock is a wall-clock time of day expressed in minutes after midnight.
type Clock int

// ParseClock parses "HH:MM" into a Clock.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// MustClock is ParseClock for literals; it panics on malformed input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String formats the clock as "HH:MM".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes the clock as "HH:MM".
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "HH:MM".
func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeRange is a same-day window in which a check-in should be sent.
type TimeRange struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// IsZero reports whether no window was configured.
func (r TimeRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Validate checks that the window is well formed.
func (r TimeRange) Validate() error {
	if r.Start < 0 || r.End > 24*60 {
		return fmt.Errorf("time range %s-%s out of bounds", r.Start, r.End)
	}
	if r.End < r.Start {
		return fmt.Errorf("time range end %s before start %s", r.End, r.Start)
	}
	return nil
}

// DefaultWindow is used when neither the organization nor an override sets one.
var DefaultWindow = TimeRange{Start: 9 * 60, End: 17 * 60}

// DayWindow is one weekday entry of an employee schedule override.
type DayWindow struct {
	Active bool  `json:"active"`
	Start  Clock `json:"start"`
	End    Clock `json:"end"`
}

// Range returns the entry as a TimeRange.
func (d DayWindow) Range() TimeRange {
	return TimeRange{Start: d.Start, End: d.End}
}

// ScheduleOverride is a 7-entry weekday map that fully replaces the org
// default for one employee. Missing weekdays are treated as inactive.
type ScheduleOverride map[time.Weekday]DayWindow

// Day returns the entry for a weekday.
func (o ScheduleOverride) Day(d time.Weekday) DayWindow {
	return o[d]
}
