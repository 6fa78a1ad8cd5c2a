package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-pattern-catalog/internal/otel"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

// InsertAttribute stores a new attribute
func (s *dbStore) InsertAttribute(ctx context.Context, attr *service.Attribute) error {
	ctx, span := s.startSpan(ctx, "dbStore.InsertAttribute",
		trace.WithAttributes(otel.AttrAttributeKey.String(attr.Key)),
	)
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO attribute (key, value, description, created_at) VALUES ($1, $2, $3, $4)`,
		attr.Key, attr.Value, attr.Description, attr.CreatedAt,
	)
	if pgErrorCode(err) == pgUniqueViolation {
		err = fmt.Errorf("%w: attribute %s already exists", service.ErrConflict, attr.Ref())
	} else if err != nil {
		err = fmt.Errorf("failed to insert attribute: %w", err)
	}
	otel.RecordError(span, err)
	return err
}

// DeleteAttribute removes an attribute. The foreign key from pattern_attribute
// makes the in-use check and the delete a single atomic statement.
func (s *dbStore) DeleteAttribute(ctx context.Context, ref service.AttributeRef) error {
	ctx, span := s.startSpan(ctx, "dbStore.DeleteAttribute",
		trace.WithAttributes(otel.AttrAttributeKey.String(ref.Key)),
	)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM attribute WHERE key = $1 AND value = $2`, ref.Key, ref.Value)
	switch {
	case pgErrorCode(err) == pgForeignKeyViolation:
		err = fmt.Errorf("%w: attribute %s is referenced by a pattern", service.ErrInUse, ref)
	case err != nil:
		err = fmt.Errorf("failed to delete attribute: %w", err)
	case tag.RowsAffected() == 0:
		err = fmt.Errorf("%w: attribute %s", service.ErrNotFound, ref)
	}
	otel.RecordError(span, err)
	return err
}

// GetAttribute returns an attribute by its pair
func (s *dbStore) GetAttribute(ctx context.Context, ref service.AttributeRef) (*service.Attribute, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetAttribute",
		trace.WithAttributes(otel.AttrAttributeKey.String(ref.Key)),
	)
	defer span.End()

	attr := &service.Attribute{}
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, description, created_at FROM attribute WHERE key = $1 AND value = $2`,
		ref.Key, ref.Value,
	).Scan(&attr.Key, &attr.Value, &attr.Description, &attr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: attribute %s", service.ErrNotFound, ref)
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get attribute: %w", err)
	}
	return attr, nil
}

// ListAttributes returns all attributes ordered by key then value
func (s *dbStore) ListAttributes(ctx context.Context) ([]*service.Attribute, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListAttributes")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT key, value, description, created_at FROM attribute ORDER BY key COLLATE "C", value COLLATE "C"`,
	)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}

	attrs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*service.Attribute, error) {
		attr := &service.Attribute{}
		err := row.Scan(&attr.Key, &attr.Value, &attr.Description, &attr.CreatedAt)
		return attr, err
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to scan attributes: %w", err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(attrs)))
	return attrs, nil
}
