package domain

import "time"

// Duty is one responsibility of the employee's role.
type Duty struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
}

// Workflow is a recurring process the employee takes part in.
type Workflow struct {
	Ref   string   `json:"ref"`
	Name  string   `json:"name"`
	Steps []string `json:"steps,omitempty"`
	Tools []string `json:"tools,omitempty"`
}

// PainPoint is a recurring source of friction.
type PainPoint struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Severity string `json:"severity,omitempty"`
	Workflow string `json:"workflow,omitempty"`
}

// Gap is an open question about the employee's work still to be answered.
type Gap struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Resolved bool   `json:"resolved,omitempty"`
}

// FocusSnapshot is the latest known focus; history lives in topic history.
type FocusSnapshot struct {
	Summary   string    `json:"summary"`
	Items     []string  `json:"items,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is the cumulative document of derived facts about one employee.
type Profile struct {
	RoleSummary  string         `json:"role_summary,omitempty"`
	Duties       []Duty         `json:"duties,omitempty"`
	Workflows    []Workflow     `json:"workflows,omitempty"`
	PainPoints   []PainPoint    `json:"pain_points,omitempty"`
	CurrentFocus *FocusSnapshot `json:"current_focus,omitempty"`
	MoraleTrend  string         `json:"morale_trend,omitempty"`
	OpenGaps     []Gap          `json:"open_gaps,omitempty"`
}

// ProfileRecord is the persisted, versioned profile row.
type ProfileRecord struct {
	EmployeeID string    `json:"employee_id"`
	Version    int       `json:"version"`
	Profile    Profile   `json:"profile"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProfileMutation rewrites a profile document in place. Storage runs it inside
// the transaction that bumps the version.
type ProfileMutation func(doc *Profile) error
