package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service/inmemory"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service/servicetest"
)

func setup(t *testing.T) (*Ledger, uuid.UUID) {
	t.Helper()

	store := inmemory.New()
	env := service.AttributeRef{Key: "env", Value: "prod"}
	servicetest.DefineAttributes(t, store, env)
	p := servicetest.NewPattern("p1", env)
	require.NoError(t, store.InsertPattern(context.Background(), p))
	return New(store), p.ID
}

func TestAppend_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, id := setup(t)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	refs := []service.PackageRef{{Name: "pkg-a", Version: "1.0.0"}}

	first, err := l.Append(ctx, id, refs, at)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, at, first[0].ProducedAt)

	second, err := l.Append(ctx, id, refs, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := l.ListByPattern(ctx, id)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, at, all[0].ProducedAt)
}

func TestAppend_RecordingOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, id := setup(t)
	at := time.Now()

	_, err := l.Append(ctx, id, []service.PackageRef{{Name: "b", Version: "2.0.0"}, {Name: "a", Version: "1.0.0"}}, at)
	require.NoError(t, err)
	_, err = l.Append(ctx, id, []service.PackageRef{{Name: "a", Version: "1.1.0"}, {Name: "b", Version: "2.0.0"}}, at)
	require.NoError(t, err)

	all, err := l.ListByPattern(ctx, id)
	require.NoError(t, err)
	got := make([]service.PackageRef, 0, len(all))
	for _, p := range all {
		got = append(got, service.PackageRef{Name: p.Name, Version: p.Version})
	}
	assert.Equal(t, []service.PackageRef{
		{Name: "b", Version: "2.0.0"},
		{Name: "a", Version: "1.0.0"},
		{Name: "a", Version: "1.1.0"},
	}, got)

	assert.Equal(t, map[string]string{"a": "1.1.0", "b": "2.0.0"}, LatestVersions(all))
}

func TestAppend_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, id := setup(t)

	_, err := l.Append(ctx, id, []service.PackageRef{{Name: "", Version: "1.0.0"}}, time.Now())
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = l.Append(ctx, id, []service.PackageRef{{Name: "a", Version: "1 0"}}, time.Now())
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	empty, err := l.Append(ctx, id, nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = l.Append(ctx, uuid.New(), []service.PackageRef{{Name: "a", Version: "1"}}, time.Now())
	assert.ErrorIs(t, err, service.ErrNotFound)
}
