// Package orchestrator drives patterns through provisioning, publishing and teardown.
//
// It receives lifecycle intents from the catalog and asynchronous signals from the
// build system, and owns the pipeline runs in between. Every decision about one
// pattern is taken under that pattern's catalog lock, so intents and signals for the
// same pattern are applied one at a time in arrival order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
	"github.com/stacklok/toolhive-pattern-catalog/internal/telemetry"
)

const (
	// DefaultMaxProvisionAttempts bounds provisioning requests per run
	DefaultMaxProvisionAttempts = 3
	// DefaultInitialBackoff is the delay before the second provisioning attempt
	DefaultInitialBackoff = 2 * time.Second
	// DefaultMaxBackoff caps the delay between provisioning attempts
	DefaultMaxBackoff = 30 * time.Second
)

// Option configures an Orchestrator
type Option func(*Orchestrator) error

// WithClock sets the clock used for run timestamps and retry delays
func WithClock(c clock.WithTickerAndDelayedExecution) Option {
	return func(o *Orchestrator) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.clock = c
		return nil
	}
}

// WithMetrics enables pipeline metrics
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(o *Orchestrator) error {
		o.metrics = m
		return nil
	}
}

// WithTracer enables spans around signal handling
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) error {
		o.tracer = t
		return nil
	}
}

// WithMaxProvisionAttempts bounds how many times provisioning is requested for one run
func WithMaxProvisionAttempts(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("max provision attempts must be at least 1, got %d", n)
		}
		o.maxProvisionAttempts = n
		return nil
	}
}

// WithBackoff sets the exponential delay between provisioning attempts
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if initial <= 0 || maxDelay < initial {
			return fmt.Errorf("invalid provisioning backoff %s..%s", initial, maxDelay)
		}
		o.initialBackoff = initial
		o.maxBackoff = maxDelay
		return nil
	}
}

// Orchestrator implements catalog.Dispatcher and buildsystem.Sink
type Orchestrator struct {
	catalog *catalog.Catalog
	store   service.Store
	client  buildsystem.Client
	clock   clock.WithTickerAndDelayedExecution
	metrics *telemetry.PipelineMetrics
	tracer  trace.Tracer

	maxProvisionAttempts int
	initialBackoff       time.Duration
	maxBackoff           time.Duration

	// mu guards the maps and the closed flag. Runs stored in the maps are never
	// mutated in place; changes replace the pointer with an updated clone.
	mu     sync.Mutex
	active map[uuid.UUID]*service.PipelineRun
	last   map[uuid.UUID]*service.PipelineRun
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ catalog.Dispatcher = (*Orchestrator)(nil)
	_ buildsystem.Sink   = (*Orchestrator)(nil)
)

// New creates an orchestrator and installs it as the dispatcher of the catalog
func New(cat *catalog.Catalog, store service.Store, client buildsystem.Client, opts ...Option) (*Orchestrator, error) {
	if cat == nil || store == nil || client == nil {
		return nil, fmt.Errorf("catalog, store and build system client are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		catalog:              cat,
		store:                store,
		client:               client,
		clock:                clock.RealClock{},
		maxProvisionAttempts: DefaultMaxProvisionAttempts,
		initialBackoff:       DefaultInitialBackoff,
		maxBackoff:           DefaultMaxBackoff,
		active:               map[uuid.UUID]*service.PipelineRun{},
		last:                 map[uuid.UUID]*service.PipelineRun{},
		ctx:                  ctx,
		cancel:               cancel,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			cancel()
			return nil, err
		}
	}

	cat.SetDispatcher(o)
	return o, nil
}

// Close stops issuing build system requests and waits for in-flight ones
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// Dispatch handles a lifecycle intent under the pattern lock
func (o *Orchestrator) Dispatch(ctx context.Context, tx catalog.Tx, intent catalog.Intent) error {
	p := intent.Pattern
	active := o.activeRun(p.ID)

	switch intent.Kind {
	case catalog.IntentProvision, catalog.IntentReprovision:
		if active != nil {
			return fmt.Errorf("%w: pattern %s has an active %s run", service.ErrInvalidState, p.ID, active.Kind)
		}
		run := o.newRun(p.ID, status.RunKindProvision)
		if err := o.start(ctx, run); err != nil {
			return err
		}
		o.issue(run.Clone(), p)
		return nil

	case catalog.IntentUpdate:
		if active != nil {
			return fmt.Errorf("%w: pattern %s has an active %s run", service.ErrInvalidState, p.ID, active.Kind)
		}
		return nil

	case catalog.IntentTeardown:
		if active != nil {
			slog.InfoContext(ctx, "Aborting pipeline run for deletion",
				"pattern_id", p.ID,
				"run_id", active.ID,
				"kind", active.Kind,
				"stage", active.Stage)
			if err := o.finish(ctx, active.Clone(), status.RunPhaseAborted, "preempted by deletion"); err != nil {
				return err
			}
		}
		run := o.newRun(p.ID, status.RunKindTeardown)
		if err := o.start(ctx, run); err != nil {
			return err
		}
		o.issue(run.Clone(), p)
		return nil

	default:
		return fmt.Errorf("%w: unknown intent %q", service.ErrInvalidInput, intent.Kind)
	}
}

// Recover loads the runs that were active when the process stopped. Runs whose request
// never reached the build system are requested again; the others are left to signals
// and the poller.
func (o *Orchestrator) Recover(ctx context.Context) error {
	runs, err := o.store.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pipeline runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		err := o.catalog.Apply(ctx, run.PatternID, func(tx catalog.Tx) error {
			o.mu.Lock()
			o.active[run.PatternID] = run
			o.mu.Unlock()
			o.metrics.RunStarted(ctx, string(run.Kind))

			if run.ExternalRef == "" {
				o.issue(run.Clone(), tx.Pattern())
			}
			return nil
		})
		if errors.Is(err, service.ErrNotFound) {
			slog.WarnContext(ctx, "Dropping pipeline run of a missing pattern", "pattern_id", run.PatternID, "run_id", run.ID)
			if delErr := o.store.DeleteRun(ctx, run.ID); delErr != nil && !errors.Is(delErr, service.ErrNotFound) {
				return delErr
			}
			continue
		}
		if err != nil {
			return err
		}
		recovered++
	}

	slog.InfoContext(ctx, "Recovered pipeline runs", "count", recovered)
	return nil
}

// Run returns the active run of a pattern, or else the last one that finished
func (o *Orchestrator) Run(patternID uuid.UUID) (*service.PipelineRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run, ok := o.active[patternID]; ok {
		return run.Clone(), true
	}
	if run, ok := o.last[patternID]; ok {
		return run.Clone(), true
	}
	return nil, false
}

// StaleRuns returns the active runs that have not changed for at least olderThan
func (o *Orchestrator) StaleRuns(olderThan time.Duration) []*service.PipelineRun {
	now := o.clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []*service.PipelineRun
	for _, run := range o.active {
		if now.Sub(run.UpdatedAt) >= olderThan {
			out = append(out, run.Clone())
		}
	}
	return out
}

func (o *Orchestrator) activeRun(patternID uuid.UUID) *service.PipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[patternID]
}

func (o *Orchestrator) lastRun(patternID uuid.UUID) *service.PipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[patternID]
}

func (o *Orchestrator) newRun(patternID uuid.UUID, kind status.RunKind) *service.PipelineRun {
	now := o.clock.Now().UTC()
	return &service.PipelineRun{
		ID:        uuid.New(),
		PatternID: patternID,
		Kind:      kind,
		Stage:     status.InitialStage(kind),
		Phase:     status.RunPhaseActive,
		StartedAt: now,
		UpdatedAt: now,
		Attempt:   1,
	}
}

// start persists a new run and makes it the active one
func (o *Orchestrator) start(ctx context.Context, run *service.PipelineRun) error {
	if err := o.save(ctx, run); err != nil {
		return err
	}
	o.metrics.RunStarted(ctx, string(run.Kind))
	slog.InfoContext(ctx, "Pipeline run started",
		"pattern_id", run.PatternID,
		"run_id", run.ID,
		"kind", run.Kind,
		"stage", run.Stage)
	return nil
}

// save persists an active run and replaces the in-memory copy
func (o *Orchestrator) save(ctx context.Context, run *service.PipelineRun) error {
	run.UpdatedAt = o.clock.Now().UTC()
	if err := o.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save pipeline run: %w", err)
	}
	o.mu.Lock()
	o.active[run.PatternID] = run
	o.mu.Unlock()
	return nil
}

// finish ends a run. Only active runs are stored, so the record is removed and the
// run is kept in memory as the last one of its pattern.
func (o *Orchestrator) finish(ctx context.Context, run *service.PipelineRun, phase status.RunPhase, reason string) error {
	run.Phase = phase
	run.Reason = reason
	run.UpdatedAt = o.clock.Now().UTC()

	if err := o.store.DeleteRun(ctx, run.ID); err != nil && !errors.Is(err, service.ErrNotFound) {
		return fmt.Errorf("failed to remove pipeline run: %w", err)
	}

	o.mu.Lock()
	delete(o.active, run.PatternID)
	o.last[run.PatternID] = run
	o.mu.Unlock()

	o.metrics.RunEnded(ctx, string(run.Kind), string(phase), run.UpdatedAt.Sub(run.StartedAt))
	slog.InfoContext(ctx, "Pipeline run finished",
		"pattern_id", run.PatternID,
		"run_id", run.ID,
		"kind", run.Kind,
		"phase", phase,
		"reason", reason)
	return nil
}

func (o *Orchestrator) forget(patternID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.last, patternID)
}

// goAsync runs fn on a tracked goroutine unless the orchestrator is closed
func (o *Orchestrator) goAsync(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

func (o *Orchestrator) after(delay time.Duration, fn func(ctx context.Context)) {
	o.clock.AfterFunc(delay, func() {
		o.goAsync(fn)
	})
}

// retryDelay returns the delay before the given attempt, starting at attempt 2
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     o.initialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         o.maxBackoff,
	}
	b.Reset()
	delay := b.NextBackOff()
	for i := 2; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
