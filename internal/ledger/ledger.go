// Package ledger implements the append-only record of packages produced by
// successful publish runs.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/versions"
)

// Ledger records packages against their pattern
type Ledger struct {
	store service.Store
}

// New creates a ledger backed by the given store
func New(store service.Store) *Ledger {
	return &Ledger{store: store}
}

// Append records packages produced at the given time. Pairs already recorded for the
// pattern, and repeats inside the same call, are skipped rather than rejected, so a
// replayed success signal records nothing twice. It returns the packages actually recorded.
func (l *Ledger) Append(
	ctx context.Context,
	patternID uuid.UUID,
	refs []service.PackageRef,
	producedAt time.Time,
) ([]service.Package, error) {
	packages := make([]service.Package, 0, len(refs))
	for _, ref := range refs {
		if ref.Name == "" {
			return nil, fmt.Errorf("%w: package name is required", service.ErrInvalidInput)
		}
		if err := versions.Validate(ref.Version); err != nil {
			return nil, fmt.Errorf("%w: package %s: %w", service.ErrInvalidInput, ref.Name, err)
		}
		packages = append(packages, service.Package{
			Name:       ref.Name,
			Version:    ref.Version,
			PatternID:  patternID,
			ProducedAt: producedAt.UTC(),
		})
	}
	if len(packages) == 0 {
		return []service.Package{}, nil
	}

	recorded, err := l.store.AppendPackages(ctx, patternID, packages)
	if err != nil {
		return nil, err
	}

	if skipped := len(packages) - len(recorded); skipped > 0 {
		slog.DebugContext(ctx, "Skipped already recorded packages",
			"pattern_id", patternID, "skipped", skipped)
	}
	if len(recorded) > 0 {
		slog.InfoContext(ctx, "Packages recorded", "pattern_id", patternID, "count", len(recorded))
	}
	return recorded, nil
}

// ListByPattern returns the packages of a pattern in recording order
func (l *Ledger) ListByPattern(ctx context.Context, patternID uuid.UUID) ([]service.Package, error) {
	return l.store.ListPackages(ctx, patternID)
}

// LatestVersions returns the newest version of each package name, ordering by
// semantic version where the versions parse
func LatestVersions(packages []service.Package) map[string]string {
	byName := make(map[string][]string)
	for _, pkg := range packages {
		byName[pkg.Name] = append(byName[pkg.Name], pkg.Version)
	}
	latest := make(map[string]string, len(byName))
	for name, vs := range byName {
		latest[name] = versions.Latest(vs)
	}
	return latest
}
