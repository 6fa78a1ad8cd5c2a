package service

import (
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// Option is a function that sets an option for a store operation
type Option[T ListPatternsOptions] func(*T) error

// ListPatternsOptions is the options for the ListPatterns operation
type ListPatternsOptions struct {
	// Attributes must all be referenced by a returned pattern
	Attributes []AttributeRef
	// NameContains is a case-insensitive substring of the pattern name
	NameContains string
	// Statuses restricts results to patterns in one of the given statuses
	Statuses []status.Status
}

// Matches reports whether a pattern satisfies the filter
func (o *ListPatternsOptions) Matches(p *Pattern) bool {
	if o.NameContains != "" &&
		!strings.Contains(strings.ToLower(p.Name), strings.ToLower(o.NameContains)) {
		return false
	}
	for _, ref := range o.Attributes {
		if !p.HasAttribute(ref) {
			return false
		}
	}
	if len(o.Statuses) > 0 {
		found := false
		for _, st := range o.Statuses {
			if p.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NewListPatternsOptions applies the given options to an empty filter
func NewListPatternsOptions(opts ...Option[ListPatternsOptions]) (*ListPatternsOptions, error) {
	options := &ListPatternsOptions{}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	return options, nil
}

// WithAttribute restricts ListPatterns to patterns referencing the pair. Repeatable; all must match.
func WithAttribute(ref AttributeRef) Option[ListPatternsOptions] {
	return func(o *ListPatternsOptions) error {
		if ref.Key == "" || ref.Value == "" {
			return fmt.Errorf("%w: invalid attribute filter: %s", ErrInvalidInput, ref)
		}
		o.Attributes = append(o.Attributes, ref)
		return nil
	}
}

// WithNameContains sets the name substring for the ListPatterns operation
func WithNameContains(name string) Option[ListPatternsOptions] {
	return func(o *ListPatternsOptions) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: invalid name filter: %q", ErrInvalidInput, name)
		}
		o.NameContains = strings.TrimSpace(name)
		return nil
	}
}

// WithStatus restricts ListPatterns to the given status. Repeatable; any may match.
func WithStatus(st status.Status) Option[ListPatternsOptions] {
	return func(o *ListPatternsOptions) error {
		if _, err := status.ParseStatus(string(st)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		o.Statuses = append(o.Statuses, st)
		return nil
	}
}
