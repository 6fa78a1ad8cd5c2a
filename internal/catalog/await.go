package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/events"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// Await blocks until the pattern reaches one of the given statuses or is purged, and
// returns its last known state. A purged pattern is reported with status Deleted.
// When the timeout expires first it returns the current state together with
// service.ErrTimeout; the underlying pipeline work is not affected.
func (c *Catalog) Await(
	ctx context.Context,
	id uuid.UUID,
	timeout time.Duration,
	statuses ...status.Status,
) (*service.Pattern, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: wait timeout must be positive", service.ErrInvalidInput)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := c.broker.Subscribe(subCtx)

	last, done, err := c.check(ctx, id, statuses)
	if err != nil || done {
		return last, err
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()
	recheck := c.clock.NewTicker(c.recheckPeriod)
	defer recheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C():
			return last, fmt.Errorf("%w: pattern %s still %s after %s", service.ErrTimeout, id, last.Status, timeout)
		case <-recheck.C():
			p, done, err := c.check(ctx, id, statuses)
			if errors.Is(err, service.ErrNotFound) {
				return purged(last), nil
			}
			if err != nil || done {
				return p, err
			}
			last = p
		case event, ok := <-sub:
			if !ok {
				return last, fmt.Errorf("catalog closed while waiting for pattern %s", id)
			}
			if event.Payload.PatternID != id {
				continue
			}
			if event.Type == events.Purged {
				return purged(event.Payload.Pattern), nil
			}
			last = event.Payload.Pattern
			if slices.Contains(statuses, event.Payload.Status) {
				return last, nil
			}
		}
	}
}

func (c *Catalog) check(ctx context.Context, id uuid.UUID, statuses []status.Status) (*service.Pattern, bool, error) {
	p, err := c.store.GetPattern(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return p, slices.Contains(statuses, p.Status), nil
}

func purged(p *service.Pattern) *service.Pattern {
	out := p.Clone()
	if out == nil {
		return nil
	}
	out.Status = status.StatusDeleted
	return out
}
