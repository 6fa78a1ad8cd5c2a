// Package inmemory provides an in-memory implementation of the service.Store interface
package inmemory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

// store implements the Store interface
type store struct {
	mu sync.RWMutex // Protects everything below

	attributes map[service.AttributeRef]*service.Attribute
	patterns   map[uuid.UUID]*service.Pattern
	names      map[string]uuid.UUID
	packages   map[uuid.UUID][]service.Package
	runs       map[uuid.UUID]*service.PipelineRun
}

var _ service.Store = (*store)(nil)

// New creates a new empty in-memory store
func New() service.Store {
	return &store{
		attributes: make(map[service.AttributeRef]*service.Attribute),
		patterns:   make(map[uuid.UUID]*service.Pattern),
		names:      make(map[string]uuid.UUID),
		packages:   make(map[uuid.UUID][]service.Package),
		runs:       make(map[uuid.UUID]*service.PipelineRun),
	}
}

// CheckReadiness implements Store.CheckReadiness
func (*store) CheckReadiness(_ context.Context) error {
	return nil
}

// InsertAttribute implements Store.InsertAttribute
func (s *store) InsertAttribute(_ context.Context, attr *service.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := attr.Ref()
	if _, ok := s.attributes[ref]; ok {
		return fmt.Errorf("%w: attribute %s already exists", service.ErrConflict, ref)
	}
	stored := *attr
	s.attributes[ref] = &stored
	return nil
}

// DeleteAttribute implements Store.DeleteAttribute
func (s *store) DeleteAttribute(_ context.Context, ref service.AttributeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attributes[ref]; !ok {
		return fmt.Errorf("%w: attribute %s", service.ErrNotFound, ref)
	}
	for _, p := range s.patterns {
		if p.HasAttribute(ref) {
			return fmt.Errorf("%w: attribute %s is referenced by pattern %s", service.ErrInUse, ref, p.Name)
		}
	}
	delete(s.attributes, ref)
	return nil
}

// GetAttribute implements Store.GetAttribute
func (s *store) GetAttribute(_ context.Context, ref service.AttributeRef) (*service.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attr, ok := s.attributes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: attribute %s", service.ErrNotFound, ref)
	}
	out := *attr
	return &out, nil
}

// ListAttributes implements Store.ListAttributes
func (s *store) ListAttributes(_ context.Context) ([]*service.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*service.Attribute, 0, len(s.attributes))
	for _, attr := range s.attributes {
		a := *attr
		out = append(out, &a)
	}
	slices.SortFunc(out, func(a, b *service.Attribute) int {
		return cmp.Or(cmp.Compare(a.Key, b.Key), cmp.Compare(a.Value, b.Value))
	})
	return out, nil
}

// InsertPattern implements Store.InsertPattern
func (s *store) InsertPattern(_ context.Context, pattern *service.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[nameKey(pattern.Name)]; ok {
		return fmt.Errorf("%w: pattern %q already exists", service.ErrConflict, pattern.Name)
	}
	if _, ok := s.patterns[pattern.ID]; ok {
		return fmt.Errorf("%w: pattern id %s already exists", service.ErrConflict, pattern.ID)
	}
	if err := s.checkAttributesLocked(pattern.Attributes); err != nil {
		return err
	}

	stored := pattern.Clone()
	stored.Packages = nil
	s.patterns[pattern.ID] = stored
	s.names[nameKey(pattern.Name)] = pattern.ID
	return nil
}

func (s *store) checkAttributesLocked(refs []service.AttributeRef) error {
	for _, ref := range refs {
		if _, ok := s.attributes[ref]; !ok {
			return fmt.Errorf("%w: attribute %s is not defined", service.ErrInvalidAttribute, ref)
		}
	}
	return nil
}

// GetPattern implements Store.GetPattern
func (s *store) GetPattern(_ context.Context, id uuid.UUID) (*service.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: pattern %s", service.ErrNotFound, id)
	}
	return s.viewLocked(p), nil
}

func (s *store) viewLocked(p *service.Pattern) *service.Pattern {
	out := p.Clone()
	out.Packages = slices.Clone(s.packages[p.ID])
	if out.Packages == nil {
		out.Packages = []service.Package{}
	}
	return out
}

// ListPatterns implements Store.ListPatterns
func (s *store) ListPatterns(
	_ context.Context,
	opts ...service.Option[service.ListPatternsOptions],
) ([]*service.Pattern, error) {
	options, err := service.NewListPatternsOptions(opts...)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*service.Pattern, 0)
	for _, p := range s.patterns {
		if options.Matches(p) {
			out = append(out, s.viewLocked(p))
		}
	}
	slices.SortFunc(out, func(a, b *service.Pattern) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// UpdatePatternAtomically implements Store.UpdatePatternAtomically
func (s *store) UpdatePatternAtomically(
	_ context.Context,
	id uuid.UUID,
	fn func(*service.Pattern) error,
) (*service.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: pattern %s", service.ErrNotFound, id)
	}

	working := s.viewLocked(current)
	if err := fn(working); err != nil {
		return nil, err
	}
	if working.ID != id {
		return nil, fmt.Errorf("%w: pattern id is immutable", service.ErrInvalidInput)
	}
	if err := s.checkAttributesLocked(working.Attributes); err != nil {
		return nil, err
	}
	if !strings.EqualFold(working.Name, current.Name) {
		if _, taken := s.names[nameKey(working.Name)]; taken {
			return nil, fmt.Errorf("%w: pattern %q already exists", service.ErrConflict, working.Name)
		}
		delete(s.names, nameKey(current.Name))
		s.names[nameKey(working.Name)] = id
	}

	stored := working.Clone()
	stored.Packages = nil
	s.patterns[id] = stored
	return s.viewLocked(stored), nil
}

// DeletePattern implements Store.DeletePattern
func (s *store) DeletePattern(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("%w: pattern %s", service.ErrNotFound, id)
	}
	delete(s.names, nameKey(p.Name))
	delete(s.patterns, id)
	delete(s.packages, id)
	for runID, run := range s.runs {
		if run.PatternID == id {
			delete(s.runs, runID)
		}
	}
	return nil
}

// AppendPackages implements Store.AppendPackages
func (s *store) AppendPackages(
	_ context.Context,
	patternID uuid.UUID,
	packages []service.Package,
) ([]service.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[patternID]; !ok {
		return nil, fmt.Errorf("%w: pattern %s", service.ErrNotFound, patternID)
	}

	existing := s.packages[patternID]
	seen := make(map[service.PackageRef]struct{}, len(existing)+len(packages))
	for _, pkg := range existing {
		seen[service.PackageRef{Name: pkg.Name, Version: pkg.Version}] = struct{}{}
	}

	recorded := make([]service.Package, 0, len(packages))
	for _, pkg := range packages {
		ref := service.PackageRef{Name: pkg.Name, Version: pkg.Version}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		pkg.PatternID = patternID
		recorded = append(recorded, pkg)
	}
	s.packages[patternID] = append(existing, recorded...)
	return recorded, nil
}

// ListPackages implements Store.ListPackages
func (s *store) ListPackages(_ context.Context, patternID uuid.UUID) ([]service.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patterns[patternID]; !ok {
		return nil, fmt.Errorf("%w: pattern %s", service.ErrNotFound, patternID)
	}
	out := slices.Clone(s.packages[patternID])
	if out == nil {
		out = []service.Package{}
	}
	return out, nil
}

// SaveRun implements Store.SaveRun
func (s *store) SaveRun(_ context.Context, run *service.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[run.PatternID]; !ok {
		return fmt.Errorf("%w: pattern %s", service.ErrNotFound, run.PatternID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// DeleteRun implements Store.DeleteRun
func (s *store) DeleteRun(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: run %s", service.ErrNotFound, id)
	}
	delete(s.runs, id)
	return nil
}

// ListRuns implements Store.ListRuns
func (s *store) ListRuns(_ context.Context) ([]*service.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*service.PipelineRun, 0, len(s.runs))
	for _, run := range s.runs {
		if run.IsActive() {
			out = append(out, run.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *service.PipelineRun) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out, nil
}

// nameKey normalizes names so uniqueness is case-insensitive
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
