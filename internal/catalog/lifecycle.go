package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// CreateRequest holds the fields of a new pattern
type CreateRequest struct {
	Name        string
	Type        service.PatternType
	Description string
	Attributes  []service.AttributeRef
}

// UpdateRequest holds the optional fields of a metadata update. Nil means unchanged.
type UpdateRequest struct {
	Description *string
	Attributes  []service.AttributeRef
}

// Create registers a new pattern in Creating and emits a provisioning intent.
// Fails with service.ErrConflict on a duplicate name and service.ErrInvalidAttribute when
// an attribute does not resolve or the set is empty. Duplicate pairs are collapsed.
func (c *Catalog) Create(ctx context.Context, req CreateRequest) (*service.Pattern, error) {
	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	patternType, err := service.ParsePatternType(string(req.Type))
	if err != nil {
		return nil, err
	}
	attrs, err := c.registry.ResolveAll(ctx, req.Attributes)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now().UTC()
	pattern := &service.Pattern{
		ID:          uuid.New(),
		Name:        name,
		Type:        patternType,
		Description: strings.TrimSpace(req.Description),
		Status:      status.StatusCreating,
		Attributes:  attrs,
		Packages:    []service.Package{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlock := c.locks.Lock(pattern.ID)
	defer unlock()

	if err := c.store.InsertPattern(ctx, pattern); err != nil {
		return nil, err
	}

	tx := &txn{ctx: ctx, c: c, pattern: pattern.Clone()}
	if err := c.dispatcher.Dispatch(ctx, tx, Intent{Kind: IntentProvision, Pattern: pattern.Clone()}); err != nil {
		// Nothing reached the build system yet; drop the record so the name stays free
		slog.ErrorContext(ctx, "Failed to dispatch provisioning", "pattern_id", pattern.ID, "error", err)
		if delErr := c.store.DeletePattern(context.WithoutCancel(ctx), pattern.ID); delErr != nil {
			slog.ErrorContext(ctx, "Failed to remove undispatched pattern", "pattern_id", pattern.ID, "error", delErr)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "Pattern created",
		"pattern_id", pattern.ID,
		"pattern", pattern.Name,
		"type", pattern.Type,
		"request_id", middleware.GetReqID(ctx))
	return tx.Pattern(), nil
}

// Update changes description and/or attributes. Only a Ready or Failed pattern can be
// updated; it stays Updating until the metadata is committed, so a concurrent update
// fails with service.ErrInvalidState instead of queuing.
func (c *Catalog) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*service.Pattern, error) {
	var attrs []service.AttributeRef
	if req.Attributes != nil {
		var err error
		if attrs, err = c.registry.ResolveAll(ctx, req.Attributes); err != nil {
			return nil, err
		}
	}
	apply := func(p *service.Pattern) {
		if req.Description != nil {
			p.Description = strings.TrimSpace(*req.Description)
		}
		if attrs != nil {
			p.Attributes = attrs
		}
	}

	var previous *service.Pattern
	reprovision := false

	err := c.Apply(ctx, id, func(tx Tx) error {
		p := tx.Pattern()
		if p.Status != status.StatusReady && p.Status != status.StatusFailed {
			return fmt.Errorf("%w: pattern %s is %s, update requires Ready or Failed", service.ErrInvalidState, id, p.Status)
		}
		previous = p

		if p.RepositoryRef == "" {
			// Provisioning never succeeded: commit now and let the orchestrator finish the update
			reprovision = true
			if err := c.commitMetadata(ctx, tx.(*txn), apply); err != nil {
				return err
			}
			if err := tx.SetStatus(status.StatusUpdating, ""); err != nil {
				return err
			}
			if err := c.dispatcher.Dispatch(ctx, tx, Intent{Kind: IntentReprovision, Pattern: tx.Pattern()}); err != nil {
				if setErr := tx.SetStatus(status.StatusFailed, err.Error()); setErr != nil {
					slog.ErrorContext(ctx, "Failed to mark pattern failed", "pattern_id", id, "error", setErr)
				}
				return err
			}
			return nil
		}

		if err := c.dispatcher.Dispatch(ctx, tx, Intent{Kind: IntentUpdate, Pattern: p}); err != nil {
			return err
		}
		return tx.SetStatus(status.StatusUpdating, "")
	})
	if err != nil {
		return nil, err
	}
	if reprovision {
		return c.store.GetPattern(ctx, id)
	}

	// The commit runs outside the lock; Updating keeps other updates out meanwhile
	_, commitErr := c.store.UpdatePatternAtomically(ctx, id, func(p *service.Pattern) error {
		if p.Status != status.StatusUpdating {
			return fmt.Errorf("%w: pattern %s is %s", service.ErrInvalidState, id, p.Status)
		}
		apply(p)
		p.UpdatedAt = c.now(p.UpdatedAt)
		return nil
	})

	var result *service.Pattern
	err = c.Apply(ctx, id, func(tx Tx) error {
		if tx.Pattern().Status != status.StatusUpdating {
			// Deletion preempted the update
			return nil
		}
		target, reason := status.StatusReady, ""
		if commitErr != nil {
			target, reason = previous.Status, previous.StatusReason
		}
		if err := tx.SetStatus(target, reason); err != nil {
			return err
		}
		result = tx.Pattern()
		return nil
	})
	if commitErr != nil {
		return nil, commitErr
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: pattern %s was deleted during the update", service.ErrInvalidState, id)
	}

	slog.InfoContext(ctx, "Pattern updated",
		"pattern_id", id,
		"pattern", result.Name,
		"request_id", middleware.GetReqID(ctx))
	return result, nil
}

func (c *Catalog) commitMetadata(ctx context.Context, t *txn, apply func(*service.Pattern)) error {
	updated, err := c.store.UpdatePatternAtomically(ctx, t.pattern.ID, func(p *service.Pattern) error {
		apply(p)
		p.UpdatedAt = c.now(p.UpdatedAt)
		return nil
	})
	if err != nil {
		return err
	}
	t.pattern = updated
	return nil
}

// Delete moves a pattern to Deleting and emits a teardown intent that preempts any
// active run. The record is purged only once teardown succeeds. Fails with
// service.ErrNotFound if absent and service.ErrInvalidState if already being deleted.
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) (*service.Pattern, error) {
	var result *service.Pattern
	err := c.Apply(ctx, id, func(tx Tx) error {
		p := tx.Pattern()
		if p.Status == status.StatusDeleting || p.Status == status.StatusDeleted {
			return fmt.Errorf("%w: pattern %s is already %s", service.ErrInvalidState, id, p.Status)
		}
		if err := tx.SetStatus(status.StatusDeleting, ""); err != nil {
			return err
		}
		if err := c.dispatcher.Dispatch(ctx, tx, Intent{Kind: IntentTeardown, Pattern: tx.Pattern()}); err != nil {
			reason := fmt.Sprintf("teardown could not be requested: %v", err)
			if setErr := tx.SetStatus(status.StatusFailed, reason); setErr != nil {
				slog.ErrorContext(ctx, "Failed to mark pattern failed", "pattern_id", id, "error", setErr)
			}
			return errors.Join(service.ErrExternalFailure, err)
		}
		result = tx.Pattern()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Pattern deletion requested",
		"pattern_id", id,
		"pattern", result.Name,
		"request_id", middleware.GetReqID(ctx))
	return result, nil
}
