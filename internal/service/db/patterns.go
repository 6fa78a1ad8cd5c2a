package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-pattern-catalog/internal/otel"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const patternColumns = `id, name, type, description, status, status_reason, repository_ref, created_at, updated_at`

func scanPattern(row pgx.Row) (*service.Pattern, error) {
	p := &service.Pattern{}
	var patternType, patternStatus string
	err := row.Scan(
		&p.ID, &p.Name, &patternType, &p.Description, &patternStatus,
		&p.StatusReason, &p.RepositoryRef, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = service.PatternType(patternType)
	p.Status = status.Status(patternStatus)
	return p, nil
}

// InsertPattern stores a new pattern and its attribute associations
func (s *dbStore) InsertPattern(ctx context.Context, pattern *service.Pattern) error {
	ctx, span := s.startSpan(ctx, "dbStore.InsertPattern",
		trace.WithAttributes(
			otel.AttrPatternID.String(pattern.ID.String()),
			otel.AttrPatternName.String(pattern.Name),
		),
	)
	defer span.End()

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO pattern (`+patternColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			pattern.ID, pattern.Name, string(pattern.Type), pattern.Description, string(pattern.Status),
			pattern.StatusReason, pattern.RepositoryRef, pattern.CreatedAt, pattern.UpdatedAt,
		)
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: pattern %q already exists", service.ErrConflict, pattern.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to insert pattern: %w", err)
		}
		return insertAttributeRefs(ctx, tx, pattern.ID, pattern.Attributes)
	})
	otel.RecordError(span, err)
	return err
}

func insertAttributeRefs(ctx context.Context, q querier, id uuid.UUID, refs []service.AttributeRef) error {
	for i, ref := range refs {
		_, err := q.Exec(ctx,
			`INSERT INTO pattern_attribute (pattern_id, position, key, value) VALUES ($1, $2, $3, $4)`,
			id, i, ref.Key, ref.Value,
		)
		switch pgErrorCode(err) {
		case "":
			if err != nil {
				return fmt.Errorf("failed to insert pattern attribute: %w", err)
			}
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: attribute %s is not defined", service.ErrInvalidAttribute, ref)
		case pgUniqueViolation:
			return fmt.Errorf("%w: attribute %s listed twice", service.ErrInvalidAttribute, ref)
		default:
			return fmt.Errorf("failed to insert pattern attribute: %w", err)
		}
	}
	return nil
}

// GetPattern returns a pattern with its attributes and packages
func (s *dbStore) GetPattern(ctx context.Context, id uuid.UUID) (*service.Pattern, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetPattern",
		trace.WithAttributes(otel.AttrPatternID.String(id.String())),
	)
	defer span.End()

	p, err := getPattern(ctx, s.pool, id, false)
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		otel.RecordError(span, err)
	}
	return p, err
}

func getPattern(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*service.Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM pattern WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPattern(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pattern %s", service.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	if err := loadAssociations(ctx, q, []*service.Pattern{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// loadAssociations fills attributes and packages of the given patterns
func loadAssociations(ctx context.Context, q querier, patterns []*service.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*service.Pattern, len(patterns))
	ids := make([]uuid.UUID, 0, len(patterns))
	for _, p := range patterns {
		p.Attributes = []service.AttributeRef{}
		p.Packages = []service.Package{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT pattern_id, key, value FROM pattern_attribute
		 WHERE pattern_id = ANY($1) ORDER BY pattern_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to load pattern attributes: %w", err)
	}
	var patternID uuid.UUID
	var ref service.AttributeRef
	_, err = pgx.ForEachRow(rows, []any{&patternID, &ref.Key, &ref.Value}, func() error {
		p := byID[patternID]
		p.Attributes = append(p.Attributes, ref)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan pattern attributes: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT pattern_id, name, version, produced_at FROM package
		 WHERE pattern_id = ANY($1) ORDER BY pattern_id, seq`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to load packages: %w", err)
	}
	var pkg service.Package
	_, err = pgx.ForEachRow(rows, []any{&pkg.PatternID, &pkg.Name, &pkg.Version, &pkg.ProducedAt}, func() error {
		p := byID[pkg.PatternID]
		p.Packages = append(p.Packages, pkg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan packages: %w", err)
	}
	return nil
}

// ListPatterns returns patterns ordered by name
func (s *dbStore) ListPatterns(
	ctx context.Context,
	opts ...service.Option[service.ListPatternsOptions],
) ([]*service.Pattern, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListPatterns")
	defer span.End()

	options, err := service.NewListPatternsOptions(opts...)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	query, args := buildListQuery(options)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	patterns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*service.Pattern, error) {
		return scanPattern(row)
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to scan patterns: %w", err)
	}

	if err := loadAssociations(ctx, s.pool, patterns); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(patterns)))
	return patterns, nil
}

func buildListQuery(o *service.ListPatternsOptions) (string, []any) {
	var where []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if o.NameContains != "" {
		where = append(where, `name ILIKE `+next("%"+escapeLike(o.NameContains)+"%")+` ESCAPE '\'`)
	}
	for _, ref := range o.Attributes {
		where = append(where, `EXISTS (SELECT 1 FROM pattern_attribute pa
			WHERE pa.pattern_id = pattern.id AND pa.key = `+next(ref.Key)+` AND pa.value = `+next(ref.Value)+`)`)
	}
	if len(o.Statuses) > 0 {
		statuses := make([]string, 0, len(o.Statuses))
		for _, st := range o.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, `status = ANY(`+next(statuses)+`)`)
	}

	query := `SELECT ` + patternColumns + ` FROM pattern`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	return query + ` ORDER BY name COLLATE "C"`, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpdatePatternAtomically locks the pattern row, applies fn and writes the result back
func (s *dbStore) UpdatePatternAtomically(
	ctx context.Context,
	id uuid.UUID,
	fn func(*service.Pattern) error,
) (*service.Pattern, error) {
	ctx, span := s.startSpan(ctx, "dbStore.UpdatePatternAtomically",
		trace.WithAttributes(otel.AttrPatternID.String(id.String())),
	)
	defer span.End()

	var result *service.Pattern
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := getPattern(ctx, tx, id, true)
		if err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(working); err != nil {
			return err
		}
		if working.ID != id {
			return fmt.Errorf("%w: pattern id is immutable", service.ErrInvalidInput)
		}

		_, err = tx.Exec(ctx,
			`UPDATE pattern SET name = $2, type = $3, description = $4, status = $5,
			 status_reason = $6, repository_ref = $7, updated_at = $8 WHERE id = $1`,
			id, working.Name, string(working.Type), working.Description, string(working.Status),
			working.StatusReason, working.RepositoryRef, working.UpdatedAt,
		)
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: pattern %q already exists", service.ErrConflict, working.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to update pattern: %w", err)
		}

		if !slices.Equal(current.Attributes, working.Attributes) {
			if _, err := tx.Exec(ctx, `DELETE FROM pattern_attribute WHERE pattern_id = $1`, id); err != nil {
				return fmt.Errorf("failed to clear pattern attributes: %w", err)
			}
			if err := insertAttributeRefs(ctx, tx, id, working.Attributes); err != nil {
				return err
			}
		}

		working.Packages = current.Packages
		result = working
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// DeletePattern purges a pattern; attributes, packages and runs cascade
func (s *dbStore) DeletePattern(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "dbStore.DeletePattern",
		trace.WithAttributes(otel.AttrPatternID.String(id.String())),
	)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM pattern WHERE id = $1`, id)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pattern %s", service.ErrNotFound, id)
	}
	return nil
}

// AppendPackages records packages, skipping (name, version) pairs already present
func (s *dbStore) AppendPackages(
	ctx context.Context,
	patternID uuid.UUID,
	packages []service.Package,
) ([]service.Package, error) {
	ctx, span := s.startSpan(ctx, "dbStore.AppendPackages",
		trace.WithAttributes(otel.AttrPatternID.String(patternID.String())),
	)
	defer span.End()

	recorded := make([]service.Package, 0, len(packages))
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT true FROM pattern WHERE id = $1 FOR SHARE`, patternID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: pattern %s", service.ErrNotFound, patternID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock pattern: %w", err)
		}

		for _, pkg := range packages {
			tag, err := tx.Exec(ctx,
				`INSERT INTO package (pattern_id, name, version, produced_at) VALUES ($1, $2, $3, $4)
				 ON CONFLICT (pattern_id, name, version) DO NOTHING`,
				patternID, pkg.Name, pkg.Version, pkg.ProducedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert package: %w", err)
			}
			if tag.RowsAffected() == 1 {
				pkg.PatternID = patternID
				recorded = append(recorded, pkg)
			}
		}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(recorded)))
	return recorded, nil
}

// ListPackages returns the packages of a pattern in recording order
func (s *dbStore) ListPackages(ctx context.Context, patternID uuid.UUID) ([]service.Package, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListPackages",
		trace.WithAttributes(otel.AttrPatternID.String(patternID.String())),
	)
	defer span.End()

	p, err := getPattern(ctx, s.pool, patternID, false)
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			otel.RecordError(span, err)
		}
		return nil, err
	}
	return p.Packages, nil
}
