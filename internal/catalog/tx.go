package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/events"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// Tx is the view of one pattern handed to code running under its lock.
// Every method commits immediately; there is no rollback.
type Tx interface {
	// Pattern returns the current state of the pattern
	Pattern() *service.Pattern
	// SetStatus moves the pattern along the transition table, ErrInvalidState otherwise
	SetStatus(st status.Status, reason string) error
	// SetRepositoryRef stores the handle of the provisioned repository
	SetRepositoryRef(ref string) error
	// RecordPackages appends packages to the ledger and returns the ones newly recorded
	RecordPackages(refs []service.PackageRef, producedAt time.Time) ([]service.Package, error)
	// Purge removes a Deleted pattern from the catalog
	Purge() error
}

type txn struct {
	ctx     context.Context
	c       *Catalog
	pattern *service.Pattern
	purged  bool
}

var _ Tx = (*txn)(nil)

// Apply runs fn under the lock of the pattern. It fails with service.ErrNotFound
// when the pattern does not exist.
func (c *Catalog) Apply(ctx context.Context, id uuid.UUID, fn func(Tx) error) error {
	return c.locks.With(id, func() error {
		p, err := c.store.GetPattern(ctx, id)
		if err != nil {
			return err
		}
		return fn(&txn{ctx: ctx, c: c, pattern: p})
	})
}

// SetStatus changes the status of a pattern outside of any run. Intended for the orchestrator.
func (c *Catalog) SetStatus(ctx context.Context, id uuid.UUID, st status.Status, reason string) error {
	return c.Apply(ctx, id, func(tx Tx) error {
		return tx.SetStatus(st, reason)
	})
}

// RecordPackages appends packages to a pattern. Intended for the orchestrator.
func (c *Catalog) RecordPackages(ctx context.Context, id uuid.UUID, refs []service.PackageRef) ([]service.Package, error) {
	var recorded []service.Package
	err := c.Apply(ctx, id, func(tx Tx) error {
		var err error
		recorded, err = tx.RecordPackages(refs, c.clock.Now())
		return err
	})
	return recorded, err
}

func (t *txn) Pattern() *service.Pattern {
	return t.pattern.Clone()
}

func (t *txn) SetStatus(st status.Status, reason string) error {
	if t.purged {
		return fmt.Errorf("%w: pattern %s was purged", service.ErrNotFound, t.pattern.ID)
	}
	from := t.pattern.Status
	if err := status.ValidateTransition(from, st); err != nil {
		return fmt.Errorf("%w: %w", service.ErrInvalidState, err)
	}

	updated, err := t.c.store.UpdatePatternAtomically(t.ctx, t.pattern.ID, func(p *service.Pattern) error {
		if p.Status != from {
			return fmt.Errorf("%w: pattern %s changed status to %s", service.ErrInvalidState, p.ID, p.Status)
		}
		p.Status = st
		p.StatusReason = reason
		p.UpdatedAt = t.c.now(p.UpdatedAt)
		return nil
	})
	if err != nil {
		return err
	}
	t.pattern = updated

	slog.InfoContext(t.ctx, "Pattern status changed",
		"pattern_id", updated.ID,
		"pattern", updated.Name,
		"from", from,
		"to", st,
		"reason", reason)
	t.c.metrics.RecordStatusChange(t.ctx, string(from), string(st))
	t.c.broker.Publish(events.StatusChanged, PatternEvent{PatternID: updated.ID, Status: st, Pattern: updated.Clone()})
	return nil
}

func (t *txn) SetRepositoryRef(ref string) error {
	if t.purged {
		return fmt.Errorf("%w: pattern %s was purged", service.ErrNotFound, t.pattern.ID)
	}
	updated, err := t.c.store.UpdatePatternAtomically(t.ctx, t.pattern.ID, func(p *service.Pattern) error {
		p.RepositoryRef = ref
		p.UpdatedAt = t.c.now(p.UpdatedAt)
		return nil
	})
	if err != nil {
		return err
	}
	t.pattern = updated
	return nil
}

func (t *txn) RecordPackages(refs []service.PackageRef, producedAt time.Time) ([]service.Package, error) {
	if t.purged {
		return nil, fmt.Errorf("%w: pattern %s was purged", service.ErrNotFound, t.pattern.ID)
	}
	if t.pattern.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: pattern %s is %s", service.ErrInvalidState, t.pattern.ID, t.pattern.Status)
	}
	recorded, err := t.c.ledger.Append(t.ctx, t.pattern.ID, refs, producedAt)
	if err != nil {
		return nil, err
	}
	t.pattern.Packages = append(t.pattern.Packages, recorded...)
	t.c.metrics.RecordPackages(t.ctx, string(t.pattern.Type), len(recorded))
	return recorded, nil
}

func (t *txn) Purge() error {
	if t.purged {
		return nil
	}
	if t.pattern.Status != status.StatusDeleted {
		return fmt.Errorf("%w: only a Deleted pattern can be purged, %s is %s",
			service.ErrInvalidState, t.pattern.ID, t.pattern.Status)
	}
	if err := t.c.store.DeletePattern(t.ctx, t.pattern.ID); err != nil {
		return err
	}
	t.purged = true

	slog.InfoContext(t.ctx, "Pattern purged", "pattern_id", t.pattern.ID, "pattern", t.pattern.Name)
	t.c.broker.Publish(events.Purged, PatternEvent{
		PatternID: t.pattern.ID,
		Status:    status.StatusDeleted,
		Pattern:   t.pattern.Clone(),
	})
	return nil
}
