// Package servicetest provides a conformance suite every service.Store implementation must pass
package servicetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) service.Store

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewPattern builds a pattern in Creating that references the given attributes
func NewPattern(name string, refs ...service.AttributeRef) *service.Pattern {
	return &service.Pattern{
		ID:          uuid.New(),
		Name:        name,
		Type:        service.PatternTypeA,
		Description: "pattern " + name,
		Status:      status.StatusCreating,
		Attributes:  refs,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

// DefineAttributes inserts the given attributes into the store
func DefineAttributes(t *testing.T, s service.Store, refs ...service.AttributeRef) {
	t.Helper()
	for _, ref := range refs {
		require.NoError(t, s.InsertAttribute(context.Background(), &service.Attribute{
			Key:       ref.Key,
			Value:     ref.Value,
			CreatedAt: baseTime,
		}))
	}
}

// Run executes the conformance suite against the stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	env := service.AttributeRef{Key: "env", Value: "prod"}
	tier := service.AttributeRef{Key: "tier", Value: "gold"}

	t.Run("attributes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, tier, env)
		err := s.InsertAttribute(ctx, &service.Attribute{Key: "env", Value: "prod"})
		assert.ErrorIs(t, err, service.ErrConflict)

		attrs, err := s.ListAttributes(ctx)
		require.NoError(t, err)
		require.Len(t, attrs, 2)
		assert.Equal(t, env, attrs[0].Ref())
		assert.Equal(t, tier, attrs[1].Ref())

		got, err := s.GetAttribute(ctx, env)
		require.NoError(t, err)
		assert.Equal(t, "prod", got.Value)

		_, err = s.GetAttribute(ctx, service.AttributeRef{Key: "env", Value: "dev"})
		assert.ErrorIs(t, err, service.ErrNotFound)

		require.NoError(t, s.DeleteAttribute(ctx, tier))
		assert.ErrorIs(t, s.DeleteAttribute(ctx, tier), service.ErrNotFound)
	})

	t.Run("attribute in use", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))

		assert.ErrorIs(t, s.DeleteAttribute(ctx, env), service.ErrInUse)

		require.NoError(t, s.DeletePattern(ctx, p.ID))
		assert.NoError(t, s.DeleteAttribute(ctx, env))
	})

	t.Run("insert pattern", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))

		assert.ErrorIs(t, s.InsertPattern(ctx, NewPattern("p1", env)), service.ErrConflict)
		assert.ErrorIs(t, s.InsertPattern(ctx, NewPattern("P1", env)), service.ErrConflict)
		assert.ErrorIs(t, s.InsertPattern(ctx, NewPattern("p2", tier)), service.ErrInvalidAttribute)

		got, err := s.GetPattern(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "p1", got.Name)
		assert.Equal(t, service.PatternTypeA, got.Type)
		assert.Equal(t, status.StatusCreating, got.Status)
		assert.Equal(t, []service.AttributeRef{env}, got.Attributes)
		assert.Empty(t, got.Packages)
		assert.True(t, got.CreatedAt.Equal(baseTime))

		_, err = s.GetPattern(ctx, uuid.New())
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("list patterns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env, tier)
		require.NoError(t, s.InsertPattern(ctx, NewPattern("table-b", env)))
		require.NoError(t, s.InsertPattern(ctx, NewPattern("Bucket", env, tier)))
		ready := NewPattern("table-a", tier)
		ready.Status = status.StatusReady
		require.NoError(t, s.InsertPattern(ctx, ready))

		all, err := s.ListPatterns(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bucket", "table-a", "table-b"}, names(all))

		byName, err := s.ListPatterns(ctx, service.WithNameContains("TABLE"))
		require.NoError(t, err)
		assert.Equal(t, []string{"table-a", "table-b"}, names(byName))

		byAttrs, err := s.ListPatterns(ctx, service.WithAttribute(env), service.WithAttribute(tier))
		require.NoError(t, err)
		assert.Equal(t, []string{"Bucket"}, names(byAttrs))

		byStatus, err := s.ListPatterns(ctx, service.WithStatus(status.StatusReady))
		require.NoError(t, err)
		assert.Equal(t, []string{"table-a"}, names(byStatus))

		none, err := s.ListPatterns(ctx, service.WithNameContains("zzz"))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("update atomically", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env, tier)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))

		updated, err := s.UpdatePatternAtomically(ctx, p.ID, func(p *service.Pattern) error {
			p.Status = status.StatusReady
			p.RepositoryRef = "repo://p1"
			p.Attributes = []service.AttributeRef{tier, env}
			p.UpdatedAt = baseTime.Add(time.Minute)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, status.StatusReady, updated.Status)
		assert.Equal(t, []service.AttributeRef{tier, env}, updated.Attributes)

		got, err := s.GetPattern(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "repo://p1", got.RepositoryRef)
		assert.Equal(t, []service.AttributeRef{tier, env}, got.Attributes)
		assert.True(t, got.UpdatedAt.Equal(baseTime.Add(time.Minute)))

		boom := fmt.Errorf("boom")
		_, err = s.UpdatePatternAtomically(ctx, p.ID, func(p *service.Pattern) error {
			p.Status = status.StatusFailed
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err = s.GetPattern(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, status.StatusReady, got.Status)

		_, err = s.UpdatePatternAtomically(ctx, p.ID, func(p *service.Pattern) error {
			p.Attributes = []service.AttributeRef{{Key: "missing", Value: "x"}}
			return nil
		})
		assert.ErrorIs(t, err, service.ErrInvalidAttribute)

		_, err = s.UpdatePatternAtomically(ctx, uuid.New(), func(*service.Pattern) error { return nil })
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("concurrent atomic updates serialize", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))

		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdatePatternAtomically(ctx, p.ID, func(p *service.Pattern) error {
					p.Description += "x"
					return nil
				})
				if err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		got, err := s.GetPattern(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, got.Description, len("pattern p1")+10-int(failures.Load()))
	})

	t.Run("packages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))

		first, err := s.AppendPackages(ctx, p.ID, []service.Package{
			{Name: "pkg-a", Version: "1.0.0", ProducedAt: baseTime},
			{Name: "pkg-b", Version: "1.0.0", ProducedAt: baseTime},
			{Name: "pkg-a", Version: "1.0.0", ProducedAt: baseTime},
		})
		require.NoError(t, err)
		assert.Len(t, first, 2)

		second, err := s.AppendPackages(ctx, p.ID, []service.Package{
			{Name: "pkg-a", Version: "1.0.0", ProducedAt: baseTime.Add(time.Hour)},
			{Name: "pkg-a", Version: "1.1.0", ProducedAt: baseTime.Add(time.Hour)},
		})
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, "1.1.0", second[0].Version)
		assert.Equal(t, p.ID, second[0].PatternID)

		pkgs, err := s.ListPackages(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, pkgs, 3)
		assert.Equal(t, "pkg-a", pkgs[0].Name)
		assert.Equal(t, "pkg-b", pkgs[1].Name)
		assert.Equal(t, "1.1.0", pkgs[2].Version)

		got, err := s.GetPattern(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, got.Packages, 3)

		_, err = s.AppendPackages(ctx, uuid.New(), []service.Package{{Name: "x", Version: "1"}})
		assert.ErrorIs(t, err, service.ErrNotFound)

		require.NoError(t, s.DeletePattern(ctx, p.ID))
		_, err = s.ListPackages(ctx, p.ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("runs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))

		run := &service.PipelineRun{
			ID:        uuid.New(),
			PatternID: p.ID,
			Kind:      status.RunKindBuild,
			Stage:     status.StageBuilding,
			Phase:     status.RunPhaseActive,
			StartedAt: baseTime,
			UpdatedAt: baseTime,
			Attempt:   1,
		}
		require.NoError(t, s.SaveRun(ctx, run))

		run.Stage = status.StagePublishing
		run.LastSignalAt = baseTime.Add(time.Minute)
		run.Applied = []service.SignalMark{{Stage: status.StagePublishing, SignalTime: run.LastSignalAt}}
		require.NoError(t, s.SaveRun(ctx, run))

		runs, err := s.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, status.StagePublishing, runs[0].Stage)
		assert.True(t, runs[0].HasApplied(status.StagePublishing, baseTime.Add(time.Minute)))

		run.Phase = status.RunPhaseSucceeded
		require.NoError(t, s.SaveRun(ctx, run))
		runs, err = s.ListRuns(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)

		require.NoError(t, s.DeleteRun(ctx, run.ID))
		assert.ErrorIs(t, s.DeleteRun(ctx, run.ID), service.ErrNotFound)

		orphan := run.Clone()
		orphan.ID = uuid.New()
		orphan.PatternID = uuid.New()
		assert.ErrorIs(t, s.SaveRun(ctx, orphan), service.ErrNotFound)
	})

	t.Run("delete pattern cascades runs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		DefineAttributes(t, s, env)
		p := NewPattern("p1", env)
		require.NoError(t, s.InsertPattern(ctx, p))
		require.NoError(t, s.SaveRun(ctx, &service.PipelineRun{
			ID:        uuid.New(),
			PatternID: p.ID,
			Kind:      status.RunKindTeardown,
			Stage:     status.StageTearingDown,
			Phase:     status.RunPhaseActive,
			StartedAt: baseTime,
			UpdatedAt: baseTime,
		}))

		require.NoError(t, s.DeletePattern(ctx, p.ID))
		assert.ErrorIs(t, s.DeletePattern(ctx, p.ID), service.ErrNotFound)

		runs, err := s.ListRuns(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)

		// The name is free again once the record is purged
		require.NoError(t, s.InsertPattern(ctx, NewPattern("p1", env)))
	})

	t.Run("readiness", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.CheckReadiness(context.Background()))
	})
}

func names(patterns []*service.Pattern) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.Name)
	}
	return out
}
