package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-pattern-catalog/internal/otel"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// SaveRun inserts or replaces a pipeline run
func (s *dbStore) SaveRun(ctx context.Context, run *service.PipelineRun) error {
	ctx, span := s.startSpan(ctx, "dbStore.SaveRun",
		trace.WithAttributes(
			otel.AttrRunID.String(run.ID.String()),
			otel.AttrPatternID.String(run.PatternID.String()),
			otel.AttrRunKind.String(string(run.Kind)),
			otel.AttrStage.String(string(run.Stage)),
		),
	)
	defer span.End()

	applied, err := json.Marshal(run.Applied)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to encode applied signals: %w", err)
	}
	var lastSignalAt *time.Time
	if !run.LastSignalAt.IsZero() {
		lastSignalAt = &run.LastSignalAt
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_run (id, pattern_id, kind, stage, phase, started_at, last_signal_at,
		   updated_at, attempt, reason, external_ref, applied)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   stage = EXCLUDED.stage, phase = EXCLUDED.phase, last_signal_at = EXCLUDED.last_signal_at,
		   updated_at = EXCLUDED.updated_at, attempt = EXCLUDED.attempt, reason = EXCLUDED.reason,
		   external_ref = EXCLUDED.external_ref, applied = EXCLUDED.applied`,
		run.ID, run.PatternID, string(run.Kind), string(run.Stage), string(run.Phase), run.StartedAt,
		lastSignalAt, run.UpdatedAt, run.Attempt, run.Reason, run.ExternalRef, applied,
	)
	switch pgErrorCode(err) {
	case "":
		if err != nil {
			err = fmt.Errorf("failed to save run: %w", err)
		}
	case pgForeignKeyViolation:
		err = fmt.Errorf("%w: pattern %s", service.ErrNotFound, run.PatternID)
	case pgUniqueViolation:
		err = fmt.Errorf("%w: pattern %s already has an active run", service.ErrInvalidState, run.PatternID)
	default:
		err = fmt.Errorf("failed to save run: %w", err)
	}
	otel.RecordError(span, err)
	return err
}

// DeleteRun removes a pipeline run
func (s *dbStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "dbStore.DeleteRun",
		trace.WithAttributes(otel.AttrRunID.String(id.String())),
	)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM pipeline_run WHERE id = $1`, id)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", service.ErrNotFound, id)
	}
	return nil
}

// ListRuns returns every active run ordered by start time
func (s *dbStore) ListRuns(ctx context.Context) ([]*service.PipelineRun, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListRuns")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, pattern_id, kind, stage, phase, started_at, last_signal_at, updated_at,
		   attempt, reason, external_ref, applied
		 FROM pipeline_run WHERE phase = $1 ORDER BY started_at`,
		string(status.RunPhaseActive),
	)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*service.PipelineRun, error) {
		run := &service.PipelineRun{}
		var kind, stage, phase string
		var lastSignalAt *time.Time
		var applied []byte
		err := row.Scan(
			&run.ID, &run.PatternID, &kind, &stage, &phase, &run.StartedAt, &lastSignalAt,
			&run.UpdatedAt, &run.Attempt, &run.Reason, &run.ExternalRef, &applied,
		)
		if err != nil {
			return nil, err
		}
		run.Kind = status.RunKind(kind)
		run.Stage = status.Stage(stage)
		run.Phase = status.RunPhase(phase)
		if lastSignalAt != nil {
			run.LastSignalAt = *lastSignalAt
		}
		if err := json.Unmarshal(applied, &run.Applied); err != nil {
			return nil, fmt.Errorf("failed to decode applied signals: %w", err)
		}
		return run, nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(runs)))
	return runs, nil
}
