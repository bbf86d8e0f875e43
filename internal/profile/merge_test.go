package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestParseRestrictsFieldsToSchema(t *testing.T) {
	raw := json.RawMessage(`{"role_summary":"Dispatcher","morale_trend":"up","duties":[{"name":"Route trucks"}],"extra":1}`)

	ext, err := Parse(registry.SchemaRole, raw)
	require.NoError(t, err)
	require.NotNil(t, ext.RoleSummary)
	assert.Equal(t, "Dispatcher", *ext.RoleSummary)
	assert.Nil(t, ext.MoraleTrend, "morale_trend is not owned by the role schema")
	assert.Len(t, ext.Duties, 1)

	ext, err = Parse(registry.SchemaFocus, raw)
	require.NoError(t, err)
	assert.True(t, ext.IsEmpty())
}

func TestParseEmptyAndInvalid(t *testing.T) {
	ext, err := Parse(registry.SchemaMorale, nil)
	require.NoError(t, err)
	assert.True(t, ext.IsEmpty())

	_, err = Parse(registry.SchemaMorale, json.RawMessage(`{"morale_trend":`))
	assert.Error(t, err)

	_, err = Parse("horoscope", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestApplyOverwritesScalars(t *testing.T) {
	doc := domain.Profile{RoleSummary: "Driver", MoraleTrend: "down"}

	out := Apply(doc, Extraction{RoleSummary: strPtr("Dispatcher"), MoraleTrend: strPtr("  ")}, fixedNow)

	assert.Equal(t, "Dispatcher", out.RoleSummary)
	assert.Equal(t, "down", out.MoraleTrend, "blank values do not erase")
	assert.Equal(t, "Driver", doc.RoleSummary, "input document is untouched")
}

func TestApplyMergesListsByIdentity(t *testing.T) {
	doc := domain.Profile{
		Workflows: []domain.Workflow{{Ref: "wf-dispatch", Name: "Morning dispatch", Tools: []string{"sheets"}}},
		PainPoints: []domain.PainPoint{
			{ID: "pp-1", Summary: "Radio drops", Severity: "low"},
			{ID: "pp-2", Summary: "Late manifests"},
		},
	}

	out := Apply(doc, Extraction{
		Workflows: []domain.Workflow{
			{Ref: "wf-dispatch", Steps: []string{"check board", "assign"}, Tools: []string{"sheets", "radio"}},
			{Name: "Weekly Audit"},
		},
		PainPoints: []domain.PainPoint{{ID: "pp-1", Severity: "high"}},
	}, fixedNow)

	require.Len(t, out.Workflows, 2)
	assert.Equal(t, "Morning dispatch", out.Workflows[0].Name)
	assert.Equal(t, []string{"check board", "assign"}, out.Workflows[0].Steps)
	assert.Equal(t, []string{"sheets", "radio"}, out.Workflows[0].Tools)
	assert.Equal(t, "weekly-audit", out.Workflows[1].Ref)

	require.Len(t, out.PainPoints, 2)
	assert.Equal(t, "high", out.PainPoints[0].Severity)
	assert.Equal(t, "Radio drops", out.PainPoints[0].Summary)
	assert.Equal(t, "pp-2", out.PainPoints[1].ID)

	assert.Equal(t, []string{"sheets"}, doc.Workflows[0].Tools, "input document is untouched")
}

func TestApplyFocusKeepsLatestSnapshot(t *testing.T) {
	earlier := fixedNow.Add(-48 * time.Hour)
	doc := domain.Profile{CurrentFocus: &domain.FocusSnapshot{Summary: "Q3 close", UpdatedAt: earlier}}

	out := Apply(doc, Extraction{CurrentFocus: &FocusInput{Summary: "Hiring", Items: []string{"screen"}}}, fixedNow)

	require.NotNil(t, out.CurrentFocus)
	assert.Equal(t, "Hiring", out.CurrentFocus.Summary)
	assert.Equal(t, fixedNow, out.CurrentFocus.UpdatedAt)
	assert.Equal(t, "Q3 close", doc.CurrentFocus.Summary)
}

func TestApplyNeverDropsKeyedEntries(t *testing.T) {
	doc := domain.Profile{}
	seen := map[string]bool{}

	for i := 0; i < 20; i++ {
		ext := Extraction{
			Duties:   []domain.Duty{{Name: fmt.Sprintf("Duty %d", i%7)}},
			OpenGaps: []domain.Gap{{ID: fmt.Sprintf("gap-%d", i%5), Question: "q", Resolved: i%2 == 0}},
		}
		doc = Apply(doc, ext, fixedNow)
		seen[fmt.Sprintf("duty-%d", i%7)] = true
		seen[fmt.Sprintf("gap-%d", i%5)] = true

		keys := map[string]bool{}
		for _, d := range doc.Duties {
			keys[d.Key] = true
		}
		for _, g := range doc.OpenGaps {
			keys[g.ID] = true
		}
		for k := range seen {
			assert.True(t, keys[k], "iteration %d lost %s", i, k)
		}
	}
	assert.Len(t, doc.Duties, 7)
	assert.Len(t, doc.OpenGaps, 5)
}

type fakeStore struct {
	doc     domain.Profile
	version int
	err     error
}

func (f *fakeStore) UpdateProfile(_ context.Context, _ string, mutate Mutation) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	next := f.doc
	if err := mutate(&next); err != nil {
		return 0, err
	}
	f.doc = next
	f.version++
	return f.version, nil
}

func TestMergeExtractionIncrementsVersion(t *testing.T) {
	store := &fakeStore{}
	m := NewMerger(store)
	m.now = func() time.Time { return fixedNow }

	v, err := m.MergeExtraction(context.Background(), "emp-1", registry.SchemaRole, json.RawMessage(`{"role_summary":"Dispatcher"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, "Dispatcher", store.doc.RoleSummary)

	v, err = m.MergeExtraction(context.Background(), "emp-1", registry.SchemaMorale, json.RawMessage(`{"morale_trend":"steady"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, "Dispatcher", store.doc.RoleSummary)
}

func TestMergeExtractionWrapsStorageFailure(t *testing.T) {
	m := NewMerger(&fakeStore{err: errors.New("disk full")})

	_, err := m.MergeExtraction(context.Background(), "emp-1", registry.SchemaRole, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrProfileMergeFailed)
}
