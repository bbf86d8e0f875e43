package profile

import (
	"slices"
	"strings"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
)

// Apply returns doc with ext merged in. doc is not modified.
//
// Scalars are overwritten, list fields are merged by identity key (matching
// entries updated in place, new keys appended, nothing removed) and the focus
// field keeps only the latest snapshot.
func Apply(doc domain.Profile, ext Extraction, now time.Time) domain.Profile {
	out := clone(doc)

	if ext.RoleSummary != nil {
		if v := strings.TrimSpace(*ext.RoleSummary); v != "" {
			out.RoleSummary = v
		}
	}
	if ext.MoraleTrend != nil {
		if v := strings.TrimSpace(*ext.MoraleTrend); v != "" {
			out.MoraleTrend = v
		}
	}
	if ext.CurrentFocus != nil && strings.TrimSpace(ext.CurrentFocus.Summary) != "" {
		out.CurrentFocus = &domain.FocusSnapshot{
			Summary:   strings.TrimSpace(ext.CurrentFocus.Summary),
			Items:     slices.Clone(ext.CurrentFocus.Items),
			UpdatedAt: now.UTC(),
		}
	}

	out.Duties = mergeByKey(out.Duties, ext.Duties, dutyKey, mergeDuty)
	out.Workflows = mergeByKey(out.Workflows, ext.Workflows, workflowKey, mergeWorkflow)
	out.PainPoints = mergeByKey(out.PainPoints, ext.PainPoints, painPointKey, mergePainPoint)
	out.OpenGaps = mergeByKey(out.OpenGaps, ext.OpenGaps, gapKey, mergeGap)
	return out
}

// mergeByKey folds incoming into existing. keyOf returns the identity key and
// the entry with its key field populated; entries without a key are ignored.
func mergeByKey[T any](existing, incoming []T, keyOf func(T) (string, T), update func(old, next T) T) []T {
	if len(incoming) == 0 {
		return existing
	}
	index := make(map[string]int, len(existing))
	for i, e := range existing {
		k, _ := keyOf(e)
		if k != "" {
			index[k] = i
		}
	}
	for _, in := range incoming {
		k, keyed := keyOf(in)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			existing[i] = update(existing[i], keyed)
			continue
		}
		index[k] = len(existing)
		existing = append(existing, keyed)
	}
	return existing
}

func dutyKey(d domain.Duty) (string, domain.Duty) {
	if d.Key == "" {
		d.Key = normalizeKey(d.Name)
	}
	return d.Key, d
}

func mergeDuty(old, next domain.Duty) domain.Duty {
	old.Name = pick(old.Name, next.Name)
	old.Description = pick(old.Description, next.Description)
	old.Frequency = pick(old.Frequency, next.Frequency)
	return old
}

func workflowKey(w domain.Workflow) (string, domain.Workflow) {
	if w.Ref == "" {
		w.Ref = normalizeKey(w.Name)
	}
	return w.Ref, w
}

func mergeWorkflow(old, next domain.Workflow) domain.Workflow {
	old.Name = pick(old.Name, next.Name)
	if len(next.Steps) > 0 {
		old.Steps = slices.Clone(next.Steps)
	}
	for _, tool := range next.Tools {
		if !slices.Contains(old.Tools, tool) {
			old.Tools = append(old.Tools, tool)
		}
	}
	return old
}

func painPointKey(p domain.PainPoint) (string, domain.PainPoint) {
	if p.ID == "" {
		p.ID = normalizeKey(p.Summary)
	}
	return p.ID, p
}

func mergePainPoint(old, next domain.PainPoint) domain.PainPoint {
	old.Summary = pick(old.Summary, next.Summary)
	old.Severity = pick(old.Severity, next.Severity)
	old.Workflow = pick(old.Workflow, next.Workflow)
	return old
}

func gapKey(g domain.Gap) (string, domain.Gap) {
	if g.ID == "" {
		g.ID = normalizeKey(g.Question)
	}
	return g.ID, g
}

func mergeGap(old, next domain.Gap) domain.Gap {
	old.Question = pick(old.Question, next.Question)
	old.Resolved = old.Resolved || next.Resolved
	return old
}

// pick prefers the newer non-blank value.
func pick(old, next string) string {
	if strings.TrimSpace(next) != "" {
		return next
	}
	return old
}

func clone(doc domain.Profile) domain.Profile {
	out := doc
	out.Duties = slices.Clone(doc.Duties)
	out.Workflows = make([]domain.Workflow, len(doc.Workflows))
	for i, w := range doc.Workflows {
		w.Steps = slices.Clone(w.Steps)
		w.Tools = slices.Clone(w.Tools)
		out.Workflows[i] = w
	}
	if doc.Workflows == nil {
		out.Workflows = nil
	}
	out.PainPoints = slices.Clone(doc.PainPoints)
	out.OpenGaps = slices.Clone(doc.OpenGaps)
	if doc.CurrentFocus != nil {
		f := *doc.CurrentFocus
		f.Items = slices.Clone(f.Items)
		out.CurrentFocus = &f
	}
	return out
}
