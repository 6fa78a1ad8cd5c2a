// Package catalog implements the Pattern Catalog: the durable pattern records, their
// attribute associations, packages and lifecycle status.
//
// Every mutation of one pattern runs under that pattern's lock and is checked against
// the status transition table. Lifecycle operations hand an Intent to the Dispatcher
// while the lock is still held, so the orchestrator observes intents in the same order
// the catalog applied them.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-pattern-catalog/internal/events"
	"github.com/stacklok/toolhive-pattern-catalog/internal/keylock"
	"github.com/stacklok/toolhive-pattern-catalog/internal/ledger"
	"github.com/stacklok/toolhive-pattern-catalog/internal/registry"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
	"github.com/stacklok/toolhive-pattern-catalog/internal/telemetry"
)

const (
	maxNameLength         = 128
	defaultRecheckPeriod  = 10 * time.Second
	defaultEventBufferLen = 256
)

// IntentKind identifies what the orchestrator is asked to do
type IntentKind string

const (
	// IntentProvision asks for repository and pipeline provisioning of a new pattern
	IntentProvision IntentKind = "provision"
	// IntentUpdate announces a metadata-only update; no pipeline work is needed
	IntentUpdate IntentKind = "update"
	// IntentReprovision asks for provisioning again because the pattern never got a repository.
	// The orchestrator completes the Updating status when provisioning ends.
	IntentReprovision IntentKind = "reprovision"
	// IntentTeardown asks for removal of every external resource; it preempts any active run
	IntentTeardown IntentKind = "teardown"
)

// Intent is handed to the Dispatcher while the pattern lock is held
type Intent struct {
	Kind    IntentKind
	Pattern *service.Pattern
}

// Dispatcher receives lifecycle intents. Dispatch runs under the pattern lock and must
// not wait on external work; returning an error aborts the catalog operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx Tx, intent Intent) error
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, Tx, Intent) error { return nil }

// PatternEvent is published after a status change is committed or a record is purged
type PatternEvent struct {
	PatternID uuid.UUID
	Status    status.Status
	Pattern   *service.Pattern
}

// Catalog owns pattern records
type Catalog struct {
	store      service.Store
	registry   *registry.Registry
	ledger     *ledger.Ledger
	dispatcher Dispatcher
	clock      clock.WithTicker
	locks      keylock.Map[uuid.UUID]
	broker     *events.Broker[PatternEvent]
	metrics    *telemetry.CatalogMetrics

	recheckPeriod time.Duration
}

// Option configures a Catalog
type Option func(*Catalog)

// WithClock sets the clock used for timestamps and waits
func WithClock(c clock.WithTicker) Option {
	return func(cat *Catalog) {
		cat.clock = c
	}
}

// WithMetrics enables catalog metrics
func WithMetrics(m *telemetry.CatalogMetrics) Option {
	return func(cat *Catalog) {
		cat.metrics = m
	}
}

// WithRecheckPeriod sets how often Await re-reads the store in case an event was missed
func WithRecheckPeriod(d time.Duration) Option {
	return func(cat *Catalog) {
		if d > 0 {
			cat.recheckPeriod = d
		}
	}
}

// New creates a catalog on top of a store, the attribute registry and the package ledger
func New(store service.Store, reg *registry.Registry, l *ledger.Ledger, opts ...Option) *Catalog {
	c := &Catalog{
		store:         store,
		registry:      reg,
		ledger:        l,
		dispatcher:    nopDispatcher{},
		clock:         clock.RealClock{},
		broker:        events.NewBrokerWithBuffer[PatternEvent](defaultEventBufferLen),
		recheckPeriod: defaultRecheckPeriod,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDispatcher installs the intent receiver. It must be called before the catalog serves requests.
func (c *Catalog) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = nopDispatcher{}
	}
	c.dispatcher = d
}

// Close releases waiters
func (c *Catalog) Close() {
	c.broker.Close()
}

// Get returns the latest committed state of a pattern
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*service.Pattern, error) {
	return c.store.GetPattern(ctx, id)
}

// List returns patterns matching the filter, ordered by name
func (c *Catalog) List(
	ctx context.Context,
	opts ...service.Option[service.ListPatternsOptions],
) ([]*service.Pattern, error) {
	return c.store.ListPatterns(ctx, opts...)
}

// Packages returns the packages of a pattern in recording order
func (c *Catalog) Packages(ctx context.Context, id uuid.UUID) ([]service.Package, error) {
	return c.ledger.ListByPattern(ctx, id)
}

// now returns the current time, never earlier than the given floor, so updatedAt
// never decreases even if the wall clock steps back
func (c *Catalog) now(floor time.Time) time.Time {
	now := c.clock.Now().UTC()
	if now.Before(floor) {
		return floor
	}
	return now
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: pattern name is required", service.ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: pattern name exceeds %d characters", service.ErrInvalidInput, maxNameLength)
	}
	return name, nil
}
