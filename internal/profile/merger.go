package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
)

// Mutation rewrites a profile document in place inside a storage transaction.
type Mutation = domain.ProfileMutation

// Store is the persistence the merger needs. UpdateProfile must run mutate and
// write the document with version+1 atomically, returning the new version.
type Store interface {
	UpdateProfile(ctx context.Context, employeeID string, mutate Mutation) (int, error)
}

// Merger applies agent extractions to employee profiles.
type Merger struct {
	store Store
	now   func() time.Time
}

// NewMerger creates a merger backed by store.
func NewMerger(store Store) *Merger {
	return &Merger{store: store, now: time.Now}
}

// Mutation builds the profile mutation for an extraction without touching
// storage, so callers can fold it into a larger transaction.
func (m *Merger) Mutation(schema registry.OutputSchema, extracted json.RawMessage) (Mutation, error) {
	ext, err := Parse(schema, extracted)
	if err != nil {
		return nil, err
	}
	now := m.now()
	return func(doc *domain.Profile) error {
		*doc = Apply(*doc, ext, now)
		return nil
	}, nil
}

// MergeExtraction merges extracted into the employee's profile and returns
// the new version.
func (m *Merger) MergeExtraction(ctx context.Context, employeeID string, schema registry.OutputSchema, extracted json.RawMessage) (int, error) {
	mutate, err := m.Mutation(schema, extracted)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrProfileMergeFailed, err)
	}
	version, err := m.store.UpdateProfile(ctx, employeeID, mutate)
	if err != nil {
		slog.Error("Profile merge failed", "employee_id", employeeID, "schema", schema, "error", err)
		return 0, fmt.Errorf("%w: %w", domain.ErrProfileMergeFailed, err)
	}
	slog.Info("Profile merged", "employee_id", employeeID, "schema", schema, "version", version)
	return version, nil
}
