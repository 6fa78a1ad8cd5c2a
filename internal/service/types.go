package service

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// PatternType identifies the infrastructure-template family a pattern belongs to
type PatternType string

const (
	// PatternTypeA is the first template family
	PatternTypeA PatternType = "template-family-a"
	// PatternTypeB is the second template family
	PatternTypeB PatternType = "template-family-b"
)

// ParsePatternType converts a string into a PatternType. The short forms "A" and "B"
// are accepted as aliases.
func ParsePatternType(s string) (PatternType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", string(PatternTypeA):
		return PatternTypeA, nil
	case "b", string(PatternTypeB):
		return PatternTypeB, nil
	default:
		return "", fmt.Errorf("%w: unknown pattern type %q", ErrInvalidInput, s)
	}
}

// AttributeRef is a (key, value) pair referencing an Attribute Registry entry
type AttributeRef struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// String renders the reference as key:value
func (r AttributeRef) String() string {
	return r.Key + ":" + r.Value
}

// ParseAttributeRef parses a key:value string. The value may itself contain colons.
func ParseAttributeRef(s string) (AttributeRef, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
		return AttributeRef{}, fmt.Errorf("%w: attribute filter must be key:value, got %q", ErrInvalidInput, s)
	}
	return AttributeRef{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)}, nil
}

// Attribute is a governed classifying key/value tag
type Attribute struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ref returns the identity of the attribute
func (a *Attribute) Ref() AttributeRef {
	return AttributeRef{Key: a.Key, Value: a.Value}
}

// Package is a versioned artifact produced by a successful publish run.
// Packages are immutable once recorded.
type Package struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	PatternID  uuid.UUID `json:"patternId"`
	ProducedAt time.Time `json:"producedAt"`
}

// PackageRef is the (name, version) identity of a package within one pattern
type PackageRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Pattern is a cataloged infrastructure template and its lifecycle record
type Pattern struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Type          PatternType    `json:"type"`
	Description   string         `json:"description"`
	Status        status.Status  `json:"status"`
	StatusReason  string         `json:"statusReason,omitempty"`
	Attributes    []AttributeRef `json:"attributes"`
	RepositoryRef string         `json:"repositoryRef,omitempty"`
	Packages      []Package      `json:"packages"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices with the store
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	out := *p
	out.Attributes = slices.Clone(p.Attributes)
	out.Packages = slices.Clone(p.Packages)
	if out.Attributes == nil {
		out.Attributes = []AttributeRef{}
	}
	if out.Packages == nil {
		out.Packages = []Package{}
	}
	return &out
}

// HasAttribute reports whether the pattern references the given pair
func (p *Pattern) HasAttribute(ref AttributeRef) bool {
	return slices.Contains(p.Attributes, ref)
}

// SignalMark identifies one applied signal within a run
type SignalMark struct {
	Stage      status.Stage `json:"stage"`
	SignalTime time.Time    `json:"signalTime"`
}

// PipelineRun is one provisioning, build or teardown execution for a pattern
type PipelineRun struct {
	ID        uuid.UUID       `json:"id"`
	PatternID uuid.UUID       `json:"patternId"`
	Kind      status.RunKind  `json:"kind"`
	Stage     status.Stage    `json:"stage"`
	Phase     status.RunPhase `json:"phase"`
	StartedAt time.Time       `json:"startedAt"`
	// LastSignalAt is the signal time of the last applied signal; zero until one is applied
	LastSignalAt time.Time `json:"lastSignalAt,omitzero"`
	// UpdatedAt is the local time of the last change to the run, used to decide when to poll
	UpdatedAt time.Time `json:"updatedAt"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason,omitempty"`
	// ExternalRef is the build system handle for the run, if it returned one
	ExternalRef string       `json:"externalRef,omitempty"`
	Applied     []SignalMark `json:"applied,omitempty"`
}

// Clone returns a deep copy of the run
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Applied = slices.Clone(r.Applied)
	return &out
}

// IsActive reports whether the run is still waiting for a terminal signal
func (r *PipelineRun) IsActive() bool {
	return r != nil && r.Phase == status.RunPhaseActive
}

// HasApplied reports whether a signal with the given stage and time was already applied
func (r *PipelineRun) HasApplied(stage status.Stage, at time.Time) bool {
	for _, m := range r.Applied {
		if m.Stage == stage && m.SignalTime.Equal(at) {
			return true
		}
	}
	return false
}

// Signal is an asynchronous status report from the external build system
type Signal struct {
	PatternID     uuid.UUID           `json:"-"`
	RunID         *uuid.UUID          `json:"runId,omitempty"`
	Stage         status.Stage        `json:"stage"`
	Status        status.SignalStatus `json:"status"`
	Packages      []PackageRef        `json:"packages,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	RepositoryRef string              `json:"repositoryRef,omitempty"`
	SignalTime    time.Time           `json:"signalTime"`
}

// Validate checks that a signal carries everything required to be applied
func (s *Signal) Validate() error {
	if s.PatternID == uuid.Nil {
		return fmt.Errorf("%w: signal pattern id is required", ErrInvalidInput)
	}
	if s.Stage == "" {
		return fmt.Errorf("%w: signal stage is required", ErrInvalidInput)
	}
	if s.Status == "" {
		return fmt.Errorf("%w: signal status is required", ErrInvalidInput)
	}
	if s.SignalTime.IsZero() {
		return fmt.Errorf("%w: signal time is required", ErrInvalidInput)
	}
	for _, p := range s.Packages {
		if p.Name == "" || p.Version == "" {
			return fmt.Errorf("%w: package name and version are required", ErrInvalidInput)
		}
	}
	return nil
}
