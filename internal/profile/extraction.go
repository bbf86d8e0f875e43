// Package profile merges structured agent extractions into the versioned
// per-employee profile document.
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
)

// FocusInput is the focus payload produced by the focus agent.
type FocusInput struct {
	Summary string   `json:"summary"`
	Items   []string `json:"items,omitempty"`
}

// Extraction is the union of fields any agent may extract. Which fields are
// honoured depends on the agent's output schema.
type Extraction struct {
	RoleSummary  *string            `json:"role_summary,omitempty"`
	MoraleTrend  *string            `json:"morale_trend,omitempty"`
	Duties       []domain.Duty      `json:"duties,omitempty"`
	Workflows    []domain.Workflow  `json:"workflows,omitempty"`
	PainPoints   []domain.PainPoint `json:"pain_points,omitempty"`
	OpenGaps     []domain.Gap       `json:"open_gaps,omitempty"`
	CurrentFocus *FocusInput        `json:"current_focus,omitempty"`
}

type field int

const (
	fieldRoleSummary field = iota
	fieldMoraleTrend
	fieldDuties
	fieldWorkflows
	fieldPainPoints
	fieldOpenGaps
	fieldCurrentFocus
)

// schemaFields lists the profile fields each output schema may write.
var schemaFields = map[registry.OutputSchema][]field{
	registry.SchemaMorale:   {fieldMoraleTrend, fieldPainPoints},
	registry.SchemaRole:     {fieldRoleSummary, fieldDuties, fieldOpenGaps},
	registry.SchemaWorkflow: {fieldWorkflows, fieldPainPoints, fieldOpenGaps},
	registry.SchemaFriction: {fieldPainPoints, fieldOpenGaps},
	registry.SchemaFocus:    {fieldCurrentFocus},
}

// Parse decodes raw agent output and drops every field the schema does not own.
// Unknown keys are ignored.
func Parse(schema registry.OutputSchema, raw json.RawMessage) (Extraction, error) {
	allowed, ok := schemaFields[schema]
	if !ok {
		return Extraction{}, fmt.Errorf("unknown output schema %q", schema)
	}
	var ext Extraction
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ext, nil
	}
	if err := json.Unmarshal(trimmed, &ext); err != nil {
		return Extraction{}, fmt.Errorf("decode %s extraction: %w", schema, err)
	}
	return ext.restrict(allowed), nil
}

func (e Extraction) restrict(allowed []field) Extraction {
	var out Extraction
	for _, f := range allowed {
		switch f {
		case fieldRoleSummary:
			out.RoleSummary = e.RoleSummary
		case fieldMoraleTrend:
			out.MoraleTrend = e.MoraleTrend
		case fieldDuties:
			out.Duties = e.Duties
		case fieldWorkflows:
			out.Workflows = e.Workflows
		case fieldPainPoints:
			out.PainPoints = e.PainPoints
		case fieldOpenGaps:
			out.OpenGaps = e.OpenGaps
		case fieldCurrentFocus:
			out.CurrentFocus = e.CurrentFocus
		}
	}
	return out
}

// IsEmpty reports whether the extraction carries nothing to merge.
func (e Extraction) IsEmpty() bool {
	return e.RoleSummary == nil && e.MoraleTrend == nil && e.CurrentFocus == nil &&
		len(e.Duties) == 0 && len(e.Workflows) == 0 && len(e.PainPoints) == 0 && len(e.OpenGaps) == 0
}

// normalizeKey folds free text into a stable identity key.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
