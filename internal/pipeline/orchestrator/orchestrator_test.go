package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/git"
	"github.com/stacklok/toolhive-pattern-catalog/internal/ledger"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/registry"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service/inmemory"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

var (
	envProd = service.AttributeRef{Key: "env", Value: "prod"}
	start   = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
)

const waitFor = 5 * time.Second

type call struct {
	op  string
	req buildsystem.Request
}

// fakeBuildSystem records requests; signals are injected by the tests
type fakeBuildSystem struct {
	calls chan call

	mu          sync.Mutex
	pipelineErr error
	buildErr    error
	teardownErr error
}

func newFakeBuildSystem() *fakeBuildSystem {
	return &fakeBuildSystem{calls: make(chan call, 64)}
}

func (f *fakeBuildSystem) setPipelineErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipelineErr = err
}

func (f *fakeBuildSystem) ProvisionRepository(_ context.Context, req buildsystem.Request) error {
	f.calls <- call{op: "repository", req: req}
	return nil
}

func (f *fakeBuildSystem) ProvisionPipeline(_ context.Context, req buildsystem.Request) (string, error) {
	f.calls <- call{op: "pipeline", req: req}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pipelineErr != nil {
		return "", f.pipelineErr
	}
	return "ext-" + req.RunID.String(), nil
}

func (f *fakeBuildSystem) setBuildErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildErr = err
}

func (f *fakeBuildSystem) Build(_ context.Context, req buildsystem.Request) (string, error) {
	f.calls <- call{op: "build", req: req}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return "build-" + req.RunID.String(), nil
}

func (f *fakeBuildSystem) Teardown(_ context.Context, req buildsystem.Request) (string, error) {
	f.calls <- call{op: "teardown", req: req}
	f.mu.Lock()
	defer f.mu.Unlock()
	return "", f.teardownErr
}

func (*fakeBuildSystem) RunStatus(context.Context, buildsystem.Request) (*service.Signal, error) {
	return nil, nil
}

// await returns the next request with the given operation, skipping others
func (f *fakeBuildSystem) await(t *testing.T, op string) buildsystem.Request {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case c := <-f.calls:
			if c.op == op {
				return c.req
			}
		case <-timeout:
			t.Fatalf("no %s request within %s", op, waitFor)
		}
	}
}

type fixture struct {
	store    service.Store
	registry *registry.Registry
	catalog  *catalog.Catalog
	orch     *Orchestrator
	build    *fakeBuildSystem
	clock    *testingclock.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := inmemory.New()
	fc := testingclock.NewFakeClock(start)
	reg := registry.New(store, registry.WithClock(fc))
	_, err := reg.Define(context.Background(), envProd.Key, envProd.Value, "")
	require.NoError(t, err)

	cat := catalog.New(store, reg, ledger.New(store), catalog.WithClock(fc))
	build := newFakeBuildSystem()
	opts = append([]Option{WithClock(fc), WithBackoff(time.Second, 4*time.Second)}, opts...)
	o, err := New(cat, store, build, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		o.Close()
		cat.Close()
	})

	return &fixture{store: store, registry: reg, catalog: cat, orch: o, build: build, clock: fc}
}

// create registers a pattern and returns it with the provisioning request
func (f *fixture) create(t *testing.T, name string) (*service.Pattern, buildsystem.Request) {
	t.Helper()
	p, err := f.catalog.Create(context.Background(), catalog.CreateRequest{
		Name:       name,
		Type:       service.PatternTypeA,
		Attributes: []service.AttributeRef{envProd},
	})
	require.NoError(t, err)
	return p, f.build.await(t, "pipeline")
}

// ready creates a pattern and completes its provisioning
func (f *fixture) ready(t *testing.T, name string) *service.Pattern {
	t.Helper()
	p, req := f.create(t, name)
	f.mustApply(t, signal(p.ID, status.StageProvisioning, status.SignalSucceeded, 1, func(s *service.Signal) {
		s.RunID = &req.RunID
		s.RepositoryRef = "repo://" + name
	}))
	assert.Equal(t, status.StatusReady, f.status(t, p.ID))
	return p
}

// publishing creates a Ready pattern and lands a commit on it
func (f *fixture) publishing(t *testing.T, name string) *service.Pattern {
	t.Helper()
	p := f.ready(t, name)
	f.mustApply(t, signal(p.ID, status.StageAwaitingCommit, status.SignalSucceeded, 10))
	assert.Equal(t, status.StatusPublishing, f.status(t, p.ID))
	return p
}

func (f *fixture) send(t *testing.T, s service.Signal) bool {
	t.Helper()
	applied, err := f.orch.HandleSignal(context.Background(), s)
	require.NoError(t, err)
	return applied
}

func (f *fixture) mustApply(t *testing.T, s service.Signal) {
	t.Helper()
	require.True(t, f.send(t, s), "signal %s/%s was discarded", s.Stage, s.Status)
}

func (f *fixture) status(t *testing.T, id uuid.UUID) status.Status {
	t.Helper()
	p, err := f.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *service.Pattern {
	t.Helper()
	p, err := f.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

// signal builds a signal whose time is the given number of seconds after start
// activeRun copies the active run of a pattern under the orchestrator lock
func activeRun(o *Orchestrator, patternID uuid.UUID) *service.PipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[patternID].Clone()
}

func signal(
	id uuid.UUID,
	stage status.Stage,
	st status.SignalStatus,
	seconds int,
	mutators ...func(*service.Signal),
) service.Signal {
	s := service.Signal{
		PatternID:  id,
		Stage:      stage,
		Status:     st,
		SignalTime: start.Add(time.Duration(seconds) * time.Second),
	}
	for _, m := range mutators {
		m(&s)
	}
	return s
}

func withPackages(refs ...service.PackageRef) func(*service.Signal) {
	return func(s *service.Signal) {
		s.Packages = refs
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	cat := catalog.New(store, registry.New(store), ledger.New(store))
	t.Cleanup(cat.Close)

	_, err := New(nil, store, newFakeBuildSystem())
	assert.Error(t, err)
	_, err = New(cat, store, nil)
	assert.Error(t, err)
	_, err = New(cat, store, newFakeBuildSystem(), WithMaxProvisionAttempts(0))
	assert.Error(t, err)
	_, err = New(cat, store, newFakeBuildSystem(), WithBackoff(time.Minute, time.Second))
	assert.Error(t, err)
}

func TestScenario_CreateProvisionPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	p, req := f.create(t, "P1")
	assert.Equal(t, status.StatusCreating, p.Status)
	assert.Equal(t, p.ID, req.PatternID)
	assert.Equal(t, "P1", req.PatternName)
	assert.Equal(t, 1, req.Attempt)

	run := activeRun(f.orch, p.ID)
	require.NotNil(t, run)
	assert.Equal(t, status.RunKindProvision, run.Kind)
	assert.Equal(t, status.StageProvisioning, run.Stage)

	f.mustApply(t, signal(p.ID, status.StageProvisioning, status.SignalSucceeded, 1, func(s *service.Signal) {
		s.RepositoryRef = "repo://p1"
	}))
	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusReady, got.Status)
	assert.Equal(t, "repo://p1", got.RepositoryRef)
	assert.Nil(t, activeRun(f.orch, p.ID))

	f.mustApply(t, signal(p.ID, status.StageAwaitingCommit, status.SignalSucceeded, 10))
	assert.Equal(t, status.StatusPublishing, f.status(t, p.ID))
	build := activeRun(f.orch, p.ID)
	require.NotNil(t, build)
	assert.Equal(t, status.RunKindBuild, build.Kind)
	assert.Equal(t, status.StageBuilding, build.Stage)

	f.mustApply(t, signal(p.ID, status.StageBuilding, status.SignalStarted, 11))
	f.mustApply(t, signal(p.ID, status.StagePublishing, status.SignalStarted, 12))
	assert.Equal(t, status.StagePublishing, activeRun(f.orch, p.ID).Stage)

	f.mustApply(t, signal(p.ID, status.StagePublishing, status.SignalSucceeded, 13,
		withPackages(service.PackageRef{Name: "p1-bucket", Version: "1.0.0"})))

	got = f.get(t, p.ID)
	assert.Equal(t, status.StatusReady, got.Status)
	require.Len(t, got.Packages, 1)
	assert.Equal(t, "p1-bucket", got.Packages[0].Name)
	assert.Equal(t, start.Add(13*time.Second), got.Packages[0].ProducedAt)

	last, ok := f.orch.Run(p.ID)
	require.True(t, ok)
	assert.Equal(t, status.RunPhaseSucceeded, last.Phase)
	assert.Equal(t, status.RunKindBuild, last.Kind)

	runs, err := f.store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCommitRequestsBuild(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publishing(t, "P1")

	req := f.build.await(t, "build")
	assert.Equal(t, p.ID, req.PatternID)
	assert.Equal(t, "repo://P1", req.RepositoryRef)
	run := activeRun(f.orch, p.ID)
	require.NotNil(t, run)
	assert.Equal(t, run.ID, req.RunID)
}

func TestBuildRequestFailureFailsPattern(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.build.setBuildErr(errors.New("runner pool exhausted"))
	p := f.publishing(t, "P1")
	f.build.await(t, "build")

	require.Eventually(t, func() bool {
		return f.status(t, p.ID) == status.StatusFailed
	}, waitFor, 10*time.Millisecond)
	got := f.get(t, p.ID)
	assert.Contains(t, got.StatusReason, "runner pool exhausted")
	assert.Nil(t, activeRun(f.orch, p.ID))
}

func TestDuplicateBuildSuccessIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publishing(t, "P1")

	success := signal(p.ID, status.StagePublishing, status.SignalSucceeded, 13,
		withPackages(service.PackageRef{Name: "p1-bucket", Version: "1.0.0"}))
	f.mustApply(t, success)
	after := f.get(t, p.ID)

	assert.False(t, f.send(t, success))
	assert.False(t, f.send(t, signal(p.ID, status.StageAwaitingCommit, status.SignalSucceeded, 10)))

	again := f.get(t, p.ID)
	assert.Equal(t, status.StatusReady, again.Status)
	assert.Len(t, again.Packages, 1)
	assert.Equal(t, after.UpdatedAt, again.UpdatedAt)
}

func TestNewerCommitStartsAnotherBuild(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publishing(t, "P1")
	f.mustApply(t, signal(p.ID, status.StageBuilding, status.SignalSucceeded, 11,
		withPackages(service.PackageRef{Name: "p1-bucket", Version: "1.0.0"})))

	f.mustApply(t, signal(p.ID, status.StageAwaitingCommit, status.SignalSucceeded, 20))
	f.mustApply(t, signal(p.ID, status.StagePublishing, status.SignalSucceeded, 21,
		withPackages(
			service.PackageRef{Name: "p1-bucket", Version: "1.0.0"},
			service.PackageRef{Name: "p1-bucket", Version: "1.1.0"},
		)))

	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusReady, got.Status)
	require.Len(t, got.Packages, 2)
	assert.Equal(t, "1.1.0", got.Packages[1].Version)
}

func TestSignalOrdering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publishing(t, "P1")
	build := activeRun(f.orch, p.ID)

	f.mustApply(t, signal(p.ID, status.StagePublishing, status.SignalStarted, 30))

	tests := []struct {
		name string
		sig  service.Signal
	}{
		{
			name: "stage already left",
			sig:  signal(p.ID, status.StageBuilding, status.SignalSucceeded, 31),
		},
		{
			name: "older than the last applied signal",
			sig:  signal(p.ID, status.StagePublishing, status.SignalFailed, 20),
		},
		{
			name: "exact duplicate",
			sig:  signal(p.ID, status.StagePublishing, status.SignalStarted, 30),
		},
		{
			name: "different run",
			sig: signal(p.ID, status.StagePublishing, status.SignalSucceeded, 32, func(s *service.Signal) {
				other := uuid.New()
				s.RunID = &other
			}),
		},
		{
			name: "stage of another run kind",
			sig:  signal(p.ID, status.StageTearingDown, status.SignalSucceeded, 33),
		},
		{
			name: "commit while building",
			sig:  signal(p.ID, status.StageAwaitingCommit, status.SignalSucceeded, 34),
		},
	}

	for _, tt := range tests {
		assert.False(t, f.send(t, tt.sig), tt.name)
	}

	assert.Equal(t, status.StatusPublishing, f.status(t, p.ID))
	run := activeRun(f.orch, p.ID)
	assert.Equal(t, build.ID, run.ID)
	assert.Equal(t, status.StagePublishing, run.Stage)
	assert.Equal(t, start.Add(30*time.Second), run.LastSignalAt)

	f.mustApply(t, signal(p.ID, status.StagePublishing, status.SignalSucceeded, 35, func(s *service.Signal) {
		s.RunID = &build.ID
	}))
	assert.Equal(t, status.StatusReady, f.status(t, p.ID))
}

func TestBuildFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publishing(t, "P1")

	f.mustApply(t, signal(p.ID, status.StageBuilding, status.SignalFailed, 11, func(s *service.Signal) {
		s.Reason = "compile error in main.tf"
	}))

	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusFailed, got.Status)
	assert.Equal(t, "compile error in main.tf", got.StatusReason)
	assert.Empty(t, got.Packages)

	last, ok := f.orch.Run(p.ID)
	require.True(t, ok)
	assert.Equal(t, status.RunPhaseFailed, last.Phase)
}

func TestDeleteAbortsBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.publishing(t, "P1")
	build := activeRun(f.orch, p.ID)

	deleting, err := f.catalog.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StatusDeleting, deleting.Status)

	teardown := activeRun(f.orch, p.ID)
	require.NotNil(t, teardown)
	assert.Equal(t, status.RunKindTeardown, teardown.Kind)
	req := f.build.await(t, "teardown")
	assert.Equal(t, teardown.ID, req.RunID)

	// The aborted build reports success late
	assert.False(t, f.send(t, signal(p.ID, status.StagePublishing, status.SignalSucceeded, 20,
		withPackages(service.PackageRef{Name: "p1-bucket", Version: "1.0.0"}),
		func(s *service.Signal) { s.RunID = &build.ID })))
	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusDeleting, got.Status)
	assert.Empty(t, got.Packages)

	f.mustApply(t, signal(p.ID, status.StageTearingDown, status.SignalSucceeded, 21))

	_, err = f.catalog.Get(ctx, p.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, ok := f.orch.Run(p.ID)
	assert.False(t, ok)

	// Signals for a purged pattern are stale
	assert.False(t, f.send(t, signal(p.ID, status.StageTearingDown, status.SignalSucceeded, 22)))
}

func TestAttributeInUseUntilPurged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.ready(t, "P1")

	assert.ErrorIs(t, f.registry.Remove(ctx, envProd.Key, envProd.Value), service.ErrInUse)

	_, err := f.catalog.Delete(ctx, p.ID)
	require.NoError(t, err)
	f.build.await(t, "teardown")
	assert.ErrorIs(t, f.registry.Remove(ctx, envProd.Key, envProd.Value), service.ErrInUse)

	f.mustApply(t, signal(p.ID, status.StageTearingDown, status.SignalSucceeded, 5))
	assert.NoError(t, f.registry.Remove(ctx, envProd.Key, envProd.Value))
}

func TestTeardownFailureAllowsRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.ready(t, "P1")

	_, err := f.catalog.Delete(ctx, p.ID)
	require.NoError(t, err)
	first := f.build.await(t, "teardown")

	f.mustApply(t, signal(p.ID, status.StageTearingDown, status.SignalFailed, 5, func(s *service.Signal) {
		s.Reason = "bucket not empty"
	}))
	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusFailed, got.Status)
	assert.Equal(t, "bucket not empty", got.StatusReason)

	_, err = f.catalog.Delete(ctx, p.ID)
	require.NoError(t, err)
	second := f.build.await(t, "teardown")
	assert.NotEqual(t, first.RunID, second.RunID)

	f.mustApply(t, signal(p.ID, status.StageTearingDown, status.SignalSucceeded, 6))
	_, err = f.catalog.Get(ctx, p.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestTeardownRequestFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.ready(t, "P1")
	f.build.mu.Lock()
	f.build.teardownErr = errors.New("connection refused")
	f.build.mu.Unlock()

	_, err := f.catalog.Delete(ctx, p.ID)
	require.NoError(t, err)
	f.build.await(t, "teardown")

	require.Eventually(t, func() bool {
		return f.status(t, p.ID) == status.StatusFailed
	}, waitFor, 10*time.Millisecond)
	assert.Contains(t, f.get(t, p.ID).StatusReason, "connection refused")
}

func TestProvisioningRetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, req := f.create(t, "P1")
	failed := func(seconds int) service.Signal {
		return signal(p.ID, status.StageProvisioning, status.SignalFailed, seconds, func(s *service.Signal) {
			s.Reason = "quota exceeded"
		})
	}

	f.mustApply(t, failed(1))
	assert.Equal(t, status.StatusCreating, f.status(t, p.ID))
	// A replayed failure does not consume another attempt
	assert.False(t, f.send(t, failed(1)))

	f.clock.Step(time.Second)
	second := f.build.await(t, "pipeline")
	assert.Equal(t, req.RunID, second.RunID)
	assert.Equal(t, 2, second.Attempt)

	f.mustApply(t, failed(2))
	f.clock.Step(time.Second)
	select {
	case c := <-f.build.calls:
		t.Fatalf("unexpected %s request before the backoff elapsed", c.op)
	case <-time.After(50 * time.Millisecond):
	}
	f.clock.Step(time.Second)
	third := f.build.await(t, "pipeline")
	assert.Equal(t, 3, third.Attempt)

	f.mustApply(t, failed(3))
	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusFailed, got.Status)
	assert.Equal(t, "quota exceeded", got.StatusReason)
	assert.Nil(t, activeRun(f.orch, p.ID))
}

func TestProvisioningRequestErrorsAreRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithMaxProvisionAttempts(2))
	f.build.setPipelineErr(errors.New("503 service unavailable"))

	p, _ := f.create(t, "P1")
	require.Eventually(t, f.clock.HasWaiters, waitFor, 10*time.Millisecond)
	f.clock.Step(time.Second)
	second := f.build.await(t, "pipeline")
	assert.Equal(t, 2, second.Attempt)

	require.Eventually(t, func() bool {
		return f.status(t, p.ID) == status.StatusFailed
	}, waitFor, 10*time.Millisecond)
	assert.Contains(t, f.get(t, p.ID).StatusReason, "503 service unavailable")
}

func TestProvisioningSuccessRequiresRepositoryRef(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, _ := f.create(t, "P1")

	_, err := f.orch.HandleSignal(context.Background(),
		signal(p.ID, status.StageProvisioning, status.SignalSucceeded, 1))
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	assert.Equal(t, status.StatusCreating, f.status(t, p.ID))
}

func TestReprovisionCompletesUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, WithMaxProvisionAttempts(1))
	p, _ := f.create(t, "P1")
	f.mustApply(t, signal(p.ID, status.StageProvisioning, status.SignalFailed, 1))
	require.Equal(t, status.StatusFailed, f.status(t, p.ID))

	desc := "retry with new metadata"
	updating, err := f.catalog.Update(ctx, p.ID, catalog.UpdateRequest{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, status.StatusUpdating, updating.Status)
	assert.Equal(t, desc, updating.Description)

	req := f.build.await(t, "pipeline")
	f.mustApply(t, signal(p.ID, status.StageProvisioning, status.SignalSucceeded, 2, func(s *service.Signal) {
		s.RunID = &req.RunID
		s.RepositoryRef = "repo://p1"
	}))

	got := f.get(t, p.ID)
	assert.Equal(t, status.StatusReady, got.Status)
	assert.Equal(t, "repo://p1", got.RepositoryRef)
	assert.Equal(t, desc, got.Description)
}

func TestDispatch_SingleFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.publishing(t, "P1")

	for _, kind := range []catalog.IntentKind{catalog.IntentUpdate, catalog.IntentProvision, catalog.IntentReprovision} {
		err := f.orch.Dispatch(ctx, nil, catalog.Intent{Kind: kind, Pattern: p})
		assert.ErrorIs(t, err, service.ErrInvalidState, kind)
	}
	err := f.orch.Dispatch(ctx, nil, catalog.Intent{Kind: "rebuild", Pattern: p})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestCommitDiscardedUnlessReady(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, _ := f.create(t, "P1")

	assert.False(t, f.send(t, signal(p.ID, status.StageAwaitingCommit, status.SignalSucceeded, 1)))
	assert.Equal(t, status.StatusCreating, f.status(t, p.ID))

	q := f.ready(t, "P2")
	assert.False(t, f.send(t, signal(q.ID, status.StageAwaitingCommit, status.SignalStarted, 5)))
	assert.Equal(t, status.StatusReady, f.status(t, q.ID))
}

func TestHandleSignal_InvalidAndUnknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.HandleSignal(context.Background(), service.Signal{PatternID: uuid.New()})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	assert.False(t, f.send(t, signal(uuid.New(), status.StageBuilding, status.SignalStarted, 1)))
}

func TestStaleRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, _ := f.create(t, "P1")

	assert.Empty(t, f.orch.StaleRuns(time.Minute))
	f.clock.Step(2 * time.Minute)
	stale := f.orch.StaleRuns(time.Minute)
	require.Len(t, stale, 1)
	assert.Equal(t, p.ID, stale[0].PatternID)
}

func TestRecover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p, req := f.create(t, "P1")
	q := f.publishing(t, "P2")
	f.orch.Close()

	// A fresh process on the same store
	cat := catalog.New(f.store, f.registry, ledger.New(f.store), catalog.WithClock(f.clock))
	build := newFakeBuildSystem()
	o, err := New(cat, f.store, build, WithClock(f.clock))
	require.NoError(t, err)
	t.Cleanup(func() {
		o.Close()
		cat.Close()
	})
	require.NoError(t, o.Recover(ctx))

	provision := activeRun(o, p.ID)
	require.NotNil(t, provision)
	assert.Equal(t, req.RunID, provision.ID)
	assert.Equal(t, status.RunKindBuild, activeRun(o, q.ID).Kind)

	applied, err := o.HandleSignal(ctx, signal(q.ID, status.StagePublishing, status.SignalSucceeded, 20,
		withPackages(service.PackageRef{Name: "p2-bucket", Version: "0.1.0"})))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, status.StatusReady, f.status(t, q.ID))
}

func TestRecover_RequestsAgainWhenNeverAccepted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.build.setPipelineErr(errors.New("unreachable"))
	p, _ := f.create(t, "P1")
	f.orch.Close()
	require.Empty(t, activeRun(f.orch, p.ID).ExternalRef)

	cat := catalog.New(f.store, f.registry, ledger.New(f.store), catalog.WithClock(f.clock))
	build := newFakeBuildSystem()
	o, err := New(cat, f.store, build, WithClock(f.clock))
	require.NoError(t, err)
	t.Cleanup(func() {
		o.Close()
		cat.Close()
	})
	require.NoError(t, o.Recover(ctx))

	again := build.await(t, "pipeline")
	assert.Equal(t, p.ID, again.PatternID)
}

func TestWithLocalBuildSystem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := inmemory.New()
	reg := registry.New(store)
	_, err := reg.Define(ctx, envProd.Key, envProd.Value, "")
	require.NoError(t, err)
	cat := catalog.New(store, reg, ledger.New(store))

	local, err := buildsystem.NewLocal(t.TempDir())
	require.NoError(t, err)
	o, err := New(cat, store, local)
	require.NoError(t, err)
	local.SetSink(o)
	t.Cleanup(func() {
		local.Close()
		o.Close()
		cat.Close()
	})

	p, err := cat.Create(ctx, catalog.CreateRequest{
		Name:       "local",
		Type:       service.PatternTypeB,
		Attributes: []service.AttributeRef{envProd},
	})
	require.NoError(t, err)

	ready, err := cat.Await(ctx, p.ID, waitFor, status.StatusReady, status.StatusFailed)
	require.NoError(t, err)
	require.Equal(t, status.StatusReady, ready.Status)
	assert.Equal(t, local.RepositoryPath(p.ID), ready.RepositoryRef)

	_, err = git.NewDefaultGitClient().CommitFiles(ctx, git.CommitRequest{
		URL:     ready.RepositoryRef,
		Message: "Add packages",
		Files: map[string][]byte{
			buildsystem.PackageManifest: []byte("- name: local-vpc\n  version: 1.2.0\n"),
		},
		Author: git.Author{Name: "Platform Team", Email: "platform@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	n, err := local.DetectCommits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		got, err := cat.Get(ctx, p.ID)
		return err == nil && got.Status == status.StatusReady && len(got.Packages) == 1
	}, waitFor, 10*time.Millisecond)

	_, err = cat.Delete(ctx, p.ID)
	require.NoError(t, err)
	deleted, err := cat.Await(ctx, p.ID, waitFor, status.StatusDeleted, status.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, status.StatusDeleted, deleted.Status)
}
