// Package poller asks the build system for the status of pipeline runs that have
// been quiet for too long and feeds the answers to the orchestrator, so a lost
// callback never leaves a pattern stuck.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

const (
	// DefaultInterval is how often runs are checked, and how long a run must be quiet to be polled
	DefaultInterval = time.Minute
	// jitterFraction is the maximum relative offset applied to each interval
	jitterFraction = 0.1
)

// Runs is the view of the orchestrator the poller needs
type Runs interface {
	StaleRuns(olderThan time.Duration) []*service.PipelineRun
	HandleSignal(ctx context.Context, signal service.Signal) (bool, error)
}

// Patterns resolves the pattern a run belongs to
type Patterns interface {
	Get(ctx context.Context, id uuid.UUID) (*service.Pattern, error)
}

// Poller periodically reconciles quiet runs with the build system
type Poller interface {
	// Start polls until the context is cancelled or Stop is called
	Start(ctx context.Context) error
	// Stop ends polling and waits for the loop to exit
	Stop() error
}

// Option configures the poller
type Option func(*defaultPoller)

// WithInterval sets the polling interval
func WithInterval(d time.Duration) Option {
	return func(p *defaultPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock sets the clock driving the polling timer
func WithClock(c clock.Clock) Option {
	return func(p *defaultPoller) {
		p.clock = c
	}
}

type defaultPoller struct {
	runs     Runs
	patterns Patterns
	client   buildsystem.Client
	clock    clock.Clock
	interval time.Duration

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a poller
func New(runs Runs, patterns Patterns, client buildsystem.Client, opts ...Option) Poller {
	p := &defaultPoller{
		runs:     runs,
		patterns: patterns,
		client:   client,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// nextInterval returns the interval with a random offset so replicas do not poll
// the build system in lockstep
func (p *defaultPoller) nextInterval() time.Duration {
	jitter := int64(float64(p.interval) * jitterFraction)
	if jitter <= 0 {
		return p.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	return p.interval + time.Duration(rand.Int64N(2*jitter+1)-jitter)
}

func (p *defaultPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancelFunc != nil {
		p.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel
	p.mu.Unlock()

	defer func() {
		close(p.done)
		slog.Info("Pipeline status poller shutting down")
	}()

	slog.Info("Starting pipeline status poller", "interval", p.interval)
	p.poll(pollCtx)

	timer := p.clock.NewTimer(p.nextInterval())
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			p.poll(pollCtx)
			timer.Reset(p.nextInterval())
		case <-pollCtx.Done():
			return nil
		}
	}
}

func (p *defaultPoller) Stop() error {
	p.mu.Lock()
	cancel := p.cancelFunc
	p.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping pipeline status poller")
		cancel()
		<-p.done
	}
	return nil
}

// poll looks for new commits when the driver detects them itself, then asks for
// the status of every run that has been quiet for a whole interval
func (p *defaultPoller) poll(ctx context.Context) {
	if detector, ok := p.client.(buildsystem.CommitDetector); ok {
		n, err := detector.DetectCommits(ctx)
		if err != nil {
			slog.Warn("Failed to detect commits", "reported", n, "error", err)
		} else if n > 0 {
			slog.Debug("Detected commits", "count", n)
		}
	}

	runs := p.runs.StaleRuns(p.interval)
	if len(runs) == 0 {
		return
	}
	slog.Debug("Polling quiet pipeline runs", "count", len(runs))

	for _, run := range runs {
		if ctx.Err() != nil {
			return
		}
		p.pollRun(ctx, run)
	}
}

func (p *defaultPoller) pollRun(ctx context.Context, run *service.PipelineRun) {
	pattern, err := p.patterns.Get(ctx, run.PatternID)
	if errors.Is(err, service.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("Failed to load pattern for polling", "pattern_id", run.PatternID, "error", err)
		return
	}

	sig, err := p.client.RunStatus(ctx, buildsystem.NewRequest(pattern, run))
	if err != nil {
		slog.Warn("Failed to poll run status",
			"pattern_id", run.PatternID,
			"run_id", run.ID,
			"error", err)
		return
	}
	if sig == nil {
		slog.Debug("Build system has no status for run", "pattern_id", run.PatternID, "run_id", run.ID)
		return
	}

	sig.PatternID = run.PatternID
	applied, err := p.runs.HandleSignal(ctx, *sig)
	if err != nil {
		slog.Error("Failed to apply polled signal",
			"pattern_id", run.PatternID,
			"run_id", run.ID,
			"stage", sig.Stage,
			"error", err)
		return
	}
	if applied {
		slog.Info("Applied polled signal",
			"pattern_id", run.PatternID,
			"run_id", run.ID,
			"stage", sig.Stage,
			"status", sig.Status)
	}
}
