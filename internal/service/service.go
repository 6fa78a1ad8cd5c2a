// Package service provides the domain types, error taxonomy and storage contract
// shared by the pattern catalog, the attribute registry and the pipeline orchestrator
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrConflict is returned on an identity collision
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when a pattern, attribute or run does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an operation is not legal for the current status or active run
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidAttribute is returned when an attribute reference cannot be resolved or is malformed
	ErrInvalidAttribute = errors.New("invalid attribute")
	// ErrInUse is returned when removing an attribute that patterns still reference
	ErrInUse = errors.New("in use")
	// ErrExternalFailure is returned when the build system reported a failure
	ErrExternalFailure = errors.New("external failure")
	// ErrStaleSignal is returned when a signal is discarded as stale or duplicate
	ErrStaleSignal = errors.New("stale signal")
	// ErrTimeout is returned when a caller-supplied wait expires before a terminal status
	ErrTimeout = errors.New("timeout")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=service.go Store

// Store is the durable storage contract for attributes, patterns, packages and pipeline runs.
// Implementations must be safe for concurrent use.
type Store interface {
	// CheckReadiness checks if the store is ready to serve requests
	CheckReadiness(ctx context.Context) error

	// InsertAttribute stores a new attribute, ErrConflict if the pair exists
	InsertAttribute(ctx context.Context, attr *Attribute) error

	// DeleteAttribute removes an attribute, ErrInUse while referenced, ErrNotFound if absent
	DeleteAttribute(ctx context.Context, ref AttributeRef) error

	// GetAttribute returns an attribute by its pair
	GetAttribute(ctx context.Context, ref AttributeRef) (*Attribute, error)

	// ListAttributes returns all attributes ordered by key then value
	ListAttributes(ctx context.Context) ([]*Attribute, error)

	// InsertPattern stores a new pattern. ErrConflict on duplicate name,
	// ErrInvalidAttribute when a referenced attribute does not exist.
	InsertPattern(ctx context.Context, pattern *Pattern) error

	// GetPattern returns a pattern with its packages
	GetPattern(ctx context.Context, id uuid.UUID) (*Pattern, error)

	// ListPatterns returns patterns ordered by name
	ListPatterns(ctx context.Context, opts ...Option[ListPatternsOptions]) ([]*Pattern, error)

	// UpdatePatternAtomically loads the pattern, applies fn and persists the result in one step.
	// Returning an error from fn aborts the update.
	UpdatePatternAtomically(ctx context.Context, id uuid.UUID, fn func(*Pattern) error) (*Pattern, error)

	// DeletePattern purges a pattern, its attribute associations, packages and runs
	DeletePattern(ctx context.Context, id uuid.UUID) error

	// AppendPackages records packages for a pattern, skipping (name, version) pairs that
	// are already present, and returns the ones actually recorded
	AppendPackages(ctx context.Context, patternID uuid.UUID, packages []Package) ([]Package, error)

	// ListPackages returns the packages of a pattern in recording order
	ListPackages(ctx context.Context, patternID uuid.UUID) ([]Package, error)

	// SaveRun inserts or replaces the pipeline run of a pattern
	SaveRun(ctx context.Context, run *PipelineRun) error

	// DeleteRun removes a pipeline run
	DeleteRun(ctx context.Context, id uuid.UUID) error

	// ListRuns returns every stored run that is still active
	ListRuns(ctx context.Context) ([]*PipelineRun, error)
}
