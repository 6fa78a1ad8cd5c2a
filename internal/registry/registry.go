package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

const (
	maxKeyLength   = 63
	maxValueLength = 255
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._/-]*$`)

// Registry governs the attribute vocabulary on top of a store
type Registry struct {
	store service.Store
	clock clock.PassiveClock
}

// Option configures a Registry
type Option func(*Registry)

// WithClock sets the clock used to stamp new attributes
func WithClock(c clock.PassiveClock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// New creates a registry backed by the given store
func New(store service.Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize trims a pair and lower-cases its key, rejecting malformed input
func Normalize(key, value string) (service.AttributeRef, error) {
	ref := service.AttributeRef{
		Key:   strings.ToLower(strings.TrimSpace(key)),
		Value: strings.TrimSpace(value),
	}
	switch {
	case ref.Key == "":
		return ref, fmt.Errorf("%w: attribute key is required", service.ErrInvalidAttribute)
	case ref.Value == "":
		return ref, fmt.Errorf("%w: attribute value is required", service.ErrInvalidAttribute)
	case len(ref.Key) > maxKeyLength:
		return ref, fmt.Errorf("%w: attribute key exceeds %d characters", service.ErrInvalidAttribute, maxKeyLength)
	case len(ref.Value) > maxValueLength:
		return ref, fmt.Errorf("%w: attribute value exceeds %d characters", service.ErrInvalidAttribute, maxValueLength)
	case !keyPattern.MatchString(ref.Key):
		return ref, fmt.Errorf("%w: attribute key %q has invalid characters", service.ErrInvalidAttribute, ref.Key)
	}
	return ref, nil
}

// Define adds a new attribute. Fails with service.ErrConflict if the pair already exists.
func (r *Registry) Define(ctx context.Context, key, value, description string) (*service.Attribute, error) {
	ref, err := Normalize(key, value)
	if err != nil {
		return nil, err
	}

	attr := &service.Attribute{
		Key:         ref.Key,
		Value:       ref.Value,
		Description: strings.TrimSpace(description),
		CreatedAt:   r.clock.Now().UTC(),
	}
	if err := r.store.InsertAttribute(ctx, attr); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Attribute defined", "key", attr.Key, "value", attr.Value)
	return attr, nil
}

// Remove deletes an attribute. Fails with service.ErrInUse while any pattern references
// it and with service.ErrNotFound if it does not exist.
func (r *Registry) Remove(ctx context.Context, key, value string) error {
	ref, err := Normalize(key, value)
	if err != nil {
		return err
	}
	if err := r.store.DeleteAttribute(ctx, ref); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Attribute removed", "key", ref.Key, "value", ref.Value)
	return nil
}

// Resolve reports whether the pair exists
func (r *Registry) Resolve(ctx context.Context, key, value string) (bool, error) {
	ref, err := Normalize(key, value)
	if err != nil {
		return false, nil
	}
	_, err = r.store.GetAttribute(ctx, ref)
	if errors.Is(err, service.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResolveAll normalizes refs, collapses duplicates keeping first-seen order, and
// fails with service.ErrInvalidAttribute on the first pair that does not resolve.
// An empty set is rejected as well.
func (r *Registry) ResolveAll(ctx context.Context, refs []service.AttributeRef) ([]service.AttributeRef, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: at least one attribute is required", service.ErrInvalidAttribute)
	}

	out := make([]service.AttributeRef, 0, len(refs))
	seen := make(map[service.AttributeRef]struct{}, len(refs))
	for _, raw := range refs {
		ref, err := Normalize(raw.Key, raw.Value)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		ok, err := r.Resolve(ctx, ref.Key, ref.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve attribute %s: %w", ref, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: attribute %s is not defined", service.ErrInvalidAttribute, ref)
		}
		out = append(out, ref)
	}
	return out, nil
}

// List returns all attributes ordered by key then value
func (r *Registry) List(ctx context.Context) ([]*service.Attribute, error) {
	return r.store.ListAttributes(ctx)
}
