package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/otel"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

func stale(format string, args ...any) error {
	return fmt.Errorf("%w: %s", service.ErrStaleSignal, fmt.Sprintf(format, args...))
}

// HandleSignal applies a build system signal. Stale and duplicate signals are
// discarded and reported as not applied; they are never an error.
func (o *Orchestrator) HandleSignal(ctx context.Context, sig service.Signal) (bool, error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "Orchestrator.HandleSignal",
		trace.WithAttributes(
			otel.AttrPatternID.String(sig.PatternID.String()),
			otel.AttrStage.String(string(sig.Stage)),
		),
	)
	defer span.End()

	if err := sig.Validate(); err != nil {
		return false, err
	}

	err := o.catalog.Apply(ctx, sig.PatternID, func(tx catalog.Tx) error {
		return o.apply(ctx, tx, sig)
	})
	if errors.Is(err, service.ErrNotFound) {
		err = stale("pattern %s does not exist", sig.PatternID)
	}
	if errors.Is(err, service.ErrStaleSignal) {
		slog.InfoContext(ctx, "Discarding pipeline signal",
			"pattern_id", sig.PatternID,
			"stage", sig.Stage,
			"status", sig.Status,
			"signal_time", sig.SignalTime,
			"reason", err.Error())
		o.metrics.RecordSignal(ctx, string(sig.Stage), false)
		return false, nil
	}
	if err != nil {
		otel.RecordError(span, err)
		return false, err
	}

	o.metrics.RecordSignal(ctx, string(sig.Stage), true)
	return true, nil
}

func (o *Orchestrator) apply(ctx context.Context, tx catalog.Tx, sig service.Signal) error {
	p := tx.Pattern()
	run := o.activeRun(p.ID)

	if sig.Stage == status.StageAwaitingCommit {
		return o.applyCommit(ctx, tx, p, run, sig)
	}

	if run == nil {
		return stale("pattern %s has no active run", p.ID)
	}
	if sig.RunID != nil && *sig.RunID != run.ID {
		return stale("signal is for run %s, active run is %s", *sig.RunID, run.ID)
	}
	rank, ok := status.StageRank(run.Kind, sig.Stage)
	if !ok {
		return stale("stage %s does not belong to a %s run", sig.Stage, run.Kind)
	}
	if current, _ := status.StageRank(run.Kind, run.Stage); rank < current {
		return stale("run already left stage %s", sig.Stage)
	}
	if !run.LastSignalAt.IsZero() && sig.SignalTime.Before(run.LastSignalAt) {
		return stale("signal is older than the last applied one")
	}
	if run.HasApplied(sig.Stage, sig.SignalTime) {
		return stale("duplicate signal")
	}
	if run.Kind == status.RunKindProvision && sig.Status == status.SignalSucceeded && sig.RepositoryRef == "" {
		return fmt.Errorf("%w: provisioning success must carry a repository reference", service.ErrInvalidInput)
	}

	next := run.Clone()
	next.Stage = sig.Stage
	next.LastSignalAt = sig.SignalTime
	next.Applied = append(next.Applied, service.SignalMark{Stage: sig.Stage, SignalTime: sig.SignalTime})

	switch sig.Status {
	case status.SignalStarted:
		return o.save(ctx, next)
	case status.SignalSucceeded:
		return o.succeed(ctx, tx, next, sig)
	case status.SignalFailed:
		reason := sig.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s failed", sig.Stage)
		}
		return o.fail(ctx, tx, next, reason)
	default:
		return fmt.Errorf("%w: unknown signal status %q", service.ErrInvalidInput, sig.Status)
	}
}

// applyCommit starts a build when a commit lands on an idle Ready pattern.
// Commits never queue behind other work.
func (o *Orchestrator) applyCommit(
	ctx context.Context,
	tx catalog.Tx,
	p *service.Pattern,
	run *service.PipelineRun,
	sig service.Signal,
) error {
	if sig.Status != status.SignalSucceeded {
		return stale("commit signal with status %s", sig.Status)
	}
	if run != nil {
		return stale("pattern %s has an active %s run", p.ID, run.Kind)
	}
	if p.Status != status.StatusReady {
		return stale("pattern %s is %s, commits only start builds on Ready", p.ID, p.Status)
	}
	if last := o.lastRun(p.ID); last != nil && last.Kind == status.RunKindBuild {
		committed := last.Applied[0].SignalTime
		if !sig.SignalTime.After(committed) {
			return stale("commit at %s is not newer than the last built commit", sig.SignalTime)
		}
	}

	build := o.newRun(p.ID, status.RunKindBuild)
	build.LastSignalAt = sig.SignalTime
	build.Applied = []service.SignalMark{{Stage: status.StageAwaitingCommit, SignalTime: sig.SignalTime}}
	if err := o.start(ctx, build); err != nil {
		return err
	}
	if err := tx.SetStatus(status.StatusPublishing, ""); err != nil {
		return err
	}
	o.issue(build.Clone(), tx.Pattern())
	return nil
}

func (o *Orchestrator) succeed(ctx context.Context, tx catalog.Tx, run *service.PipelineRun, sig service.Signal) error {
	switch run.Kind {
	case status.RunKindProvision:
		if err := tx.SetRepositoryRef(sig.RepositoryRef); err != nil {
			return err
		}
		if err := o.finish(ctx, run, status.RunPhaseSucceeded, ""); err != nil {
			return err
		}
		return tx.SetStatus(status.StatusReady, "")

	case status.RunKindBuild:
		recorded, err := tx.RecordPackages(sig.Packages, sig.SignalTime)
		if err != nil {
			return err
		}
		if err := o.finish(ctx, run, status.RunPhaseSucceeded, ""); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Packages published", "pattern_id", run.PatternID, "count", len(recorded))
		return tx.SetStatus(status.StatusReady, "")

	case status.RunKindTeardown:
		if err := o.finish(ctx, run, status.RunPhaseSucceeded, ""); err != nil {
			return err
		}
		if err := tx.SetStatus(status.StatusDeleted, ""); err != nil {
			return err
		}
		if err := tx.Purge(); err != nil {
			return err
		}
		o.forget(run.PatternID)
		return nil

	default:
		return fmt.Errorf("unknown run kind %q", run.Kind)
	}
}

// fail handles a failed request or failure signal. Provisioning is retried with a
// growing delay until its attempts run out.
func (o *Orchestrator) fail(ctx context.Context, tx catalog.Tx, run *service.PipelineRun, reason string) error {
	if run.Kind == status.RunKindProvision && run.Attempt < o.maxProvisionAttempts {
		run.Attempt++
		run.Reason = reason
		run.ExternalRef = ""
		if err := o.save(ctx, run); err != nil {
			return err
		}

		delay := o.retryDelay(run.Attempt)
		slog.WarnContext(ctx, "Provisioning failed, retrying",
			"pattern_id", run.PatternID,
			"run_id", run.ID,
			"attempt", run.Attempt,
			"max_attempts", o.maxProvisionAttempts,
			"delay", delay,
			"reason", reason)

		patternID, runID, attempt := run.PatternID, run.ID, run.Attempt
		o.after(delay, func(ctx context.Context) {
			o.retry(ctx, patternID, runID, attempt)
		})
		return nil
	}

	if err := o.finish(ctx, run, status.RunPhaseFailed, reason); err != nil {
		return err
	}
	return tx.SetStatus(status.StatusFailed, reason)
}

func (o *Orchestrator) retry(ctx context.Context, patternID, runID uuid.UUID, attempt int) {
	err := o.catalog.Apply(ctx, patternID, func(tx catalog.Tx) error {
		run := o.activeRun(patternID)
		if run == nil || run.ID != runID || run.Attempt != attempt {
			return nil
		}
		o.issue(run.Clone(), tx.Pattern())
		return nil
	})
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		slog.ErrorContext(ctx, "Failed to retry provisioning", "pattern_id", patternID, "run_id", runID, "error", err)
	}
}

// issue sends the request of a run to the build system without holding any lock
func (o *Orchestrator) issue(run *service.PipelineRun, p *service.Pattern) {
	o.goAsync(func(ctx context.Context) {
		req := buildsystem.NewRequest(p, run)

		var ref string
		var err error
		switch run.Kind {
		case status.RunKindProvision:
			if err = o.client.ProvisionRepository(ctx, req); err == nil {
				ref, err = o.client.ProvisionPipeline(ctx, req)
			}
		case status.RunKindBuild:
			ref, err = o.client.Build(ctx, req)
		case status.RunKindTeardown:
			ref, err = o.client.Teardown(ctx, req)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
		o.requested(ctx, run, ref, err)
	})
}

// requested records the outcome of issuing a request, if the run is still current
func (o *Orchestrator) requested(ctx context.Context, issued *service.PipelineRun, ref string, reqErr error) {
	err := o.catalog.Apply(ctx, issued.PatternID, func(tx catalog.Tx) error {
		run := o.activeRun(issued.PatternID)
		if run == nil || run.ID != issued.ID || run.Attempt != issued.Attempt {
			return nil
		}
		if reqErr == nil {
			if ref == "" || ref == run.ExternalRef {
				return nil
			}
			next := run.Clone()
			next.ExternalRef = ref
			return o.save(ctx, next)
		}

		slog.WarnContext(ctx, "Build system request failed",
			"pattern_id", run.PatternID,
			"run_id", run.ID,
			"kind", run.Kind,
			"attempt", run.Attempt,
			"error", reqErr)
		return o.fail(ctx, tx, run.Clone(), fmt.Sprintf("build system request failed: %v", reqErr))
	})
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		slog.ErrorContext(ctx, "Failed to record build system request", "pattern_id", issued.PatternID, "error", err)
	}
}
