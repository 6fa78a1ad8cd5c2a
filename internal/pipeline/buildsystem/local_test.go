package buildsystem_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/stacklok/toolhive-pattern-catalog/internal/git"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

var localNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// channelSink forwards signals to a channel and applies them unless told otherwise
type channelSink struct {
	mu      sync.Mutex
	reject  bool
	signals chan service.Signal
}

func newChannelSink() *channelSink {
	return &channelSink{signals: make(chan service.Signal, 16)}
}

func (s *channelSink) HandleSignal(_ context.Context, signal service.Signal) (bool, error) {
	s.signals <- signal
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.reject, nil
}

func (s *channelSink) next(t *testing.T) service.Signal {
	t.Helper()
	select {
	case sig := <-s.signals:
		return sig
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no signal delivered")
		return service.Signal{}
	}
}

func (s *channelSink) none(t *testing.T) {
	t.Helper()
	select {
	case sig := <-s.signals:
		t.Fatalf("unexpected signal: %+v", sig)
	case <-time.After(100 * time.Millisecond):
	}
}

func newLocal(t *testing.T, opts ...buildsystem.LocalOption) (*buildsystem.Local, *channelSink) {
	t.Helper()
	opts = append([]buildsystem.LocalOption{
		buildsystem.WithLocalClock(testingclock.NewFakePassiveClock(localNow)),
	}, opts...)
	l, err := buildsystem.NewLocal(t.TempDir(), opts...)
	require.NoError(t, err)
	sink := newChannelSink()
	l.SetSink(sink)
	t.Cleanup(l.Close)
	return l, sink
}

func provision(t *testing.T, l *buildsystem.Local, sink *channelSink) buildsystem.Request {
	t.Helper()
	req := testRequest()
	require.NoError(t, l.ProvisionRepository(context.Background(), req))
	ref, err := l.ProvisionPipeline(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "local-"+req.RunID.String(), ref)

	sig := sink.next(t)
	assert.Equal(t, status.StageProvisioning, sig.Stage)
	assert.Equal(t, status.SignalSucceeded, sig.Status)
	return req
}

// push commits files to a pattern repository the way an outside git client would
func push(t *testing.T, repo string, files map[string][]byte) string {
	t.Helper()
	hash, err := git.NewDefaultGitClient().CommitFiles(context.Background(), git.CommitRequest{
		URL:     repo,
		Message: "Update pattern",
		Files:   files,
		Author:  git.Author{Name: "Platform Team", Email: "platform@example.com", When: localNow},
	})
	require.NoError(t, err)
	return hash
}

// buildRequest returns a request for a new build run of a provisioned pattern
func buildRequest(l *buildsystem.Local, provisioned buildsystem.Request) buildsystem.Request {
	req := provisioned
	req.RunID = uuid.New()
	req.RepositoryRef = l.RepositoryPath(provisioned.PatternID)
	return req
}

func TestNewLocal_RequiresDir(t *testing.T) {
	t.Parallel()

	_, err := buildsystem.NewLocal("")
	assert.Error(t, err)
}

func TestLocal_Provision(t *testing.T) {
	t.Parallel()

	l, sink := newLocal(t)
	req := testRequest()
	require.NoError(t, l.ProvisionRepository(context.Background(), req))
	require.NoError(t, l.ProvisionRepository(context.Background(), req), "provisioning is idempotent")

	_, err := l.ProvisionPipeline(context.Background(), req)
	require.NoError(t, err)

	sig := sink.next(t)
	assert.Equal(t, req.PatternID, sig.PatternID)
	require.NotNil(t, sig.RunID)
	assert.Equal(t, req.RunID, *sig.RunID)
	assert.Equal(t, l.RepositoryPath(req.PatternID), sig.RepositoryRef)

	gitClient := git.NewDefaultGitClient()
	info, err := gitClient.Open(context.Background(), sig.RepositoryRef)
	require.NoError(t, err)
	descriptor, err := gitClient.GetFileContent(info, buildsystem.PipelineFile)
	require.NoError(t, err)
	assert.Contains(t, string(descriptor), "manifest: packages.yaml")

	last, err := l.RunStatus(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, status.StageProvisioning, last.Stage)
}

func TestLocal_ProvisionPipelineWithoutRepository(t *testing.T) {
	t.Parallel()

	l, _ := newLocal(t)
	_, err := l.ProvisionPipeline(context.Background(), testRequest())
	assert.ErrorIs(t, err, service.ErrExternalFailure)
}

func TestLocal_BuildPublishesPackages(t *testing.T) {
	t.Parallel()

	l, sink := newLocal(t)
	provisioned := provision(t, l, sink)
	push(t, l.RepositoryPath(provisioned.PatternID), map[string][]byte{
		buildsystem.PackageManifest: []byte("- name: bucket\n  version: 1.0.0\n- name: bucket-policy\n  version: 1.0.0\n"),
	})

	req := buildRequest(l, provisioned)
	ref, err := l.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "local-"+req.RunID.String(), ref)

	started := sink.next(t)
	assert.Equal(t, status.StageBuilding, started.Stage)
	assert.Equal(t, status.SignalStarted, started.Status)
	require.NotNil(t, started.RunID)
	assert.Equal(t, req.RunID, *started.RunID)

	done := sink.next(t)
	assert.Equal(t, status.StagePublishing, done.Stage)
	assert.Equal(t, status.SignalSucceeded, done.Status)
	assert.Equal(t, []service.PackageRef{
		{Name: "bucket", Version: "1.0.0"},
		{Name: "bucket-policy", Version: "1.0.0"},
	}, done.Packages)
	assert.True(t, started.SignalTime.Before(done.SignalTime))

	byBuild, err := l.RunStatus(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, byBuild)
	assert.Equal(t, status.StagePublishing, byBuild.Stage)

	byProvision, err := l.RunStatus(context.Background(), provisioned)
	require.NoError(t, err)
	require.NotNil(t, byProvision)
	assert.Equal(t, status.StageProvisioning, byProvision.Stage, "status is kept per run")
}

func TestLocal_BuildFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		files      map[string][]byte
		repository func(l *buildsystem.Local, req buildsystem.Request) string
		wantReason string
	}{
		{
			name:       "no manifest",
			files:      map[string][]byte{"docs/usage.md": []byte("usage")},
			wantReason: buildsystem.PackageManifest,
		},
		{
			name:       "package without version",
			files:      map[string][]byte{buildsystem.PackageManifest: []byte("- name: bucket\n")},
			wantReason: "every package needs a name and a version",
		},
		{
			name: "remote repository cannot be cloned",
			repository: func(*buildsystem.Local, buildsystem.Request) string {
				return "http://127.0.0.1:1/patterns/p1.git"
			},
			wantReason: "failed to clone repository",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, sink := newLocal(t, buildsystem.WithRepositoryAuth("ci", "token"))
			provisioned := provision(t, l, sink)
			if tt.files != nil {
				push(t, l.RepositoryPath(provisioned.PatternID), tt.files)
			}
			req := buildRequest(l, provisioned)
			if tt.repository != nil {
				req.RepositoryRef = tt.repository(l, req)
			}

			_, err := l.Build(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, status.SignalStarted, sink.next(t).Status)
			failed := sink.next(t)
			assert.Equal(t, status.StageBuilding, failed.Stage)
			assert.Equal(t, status.SignalFailed, failed.Status)
			assert.Contains(t, failed.Reason, tt.wantReason)
			assert.Empty(t, failed.Packages)
		})
	}
}

func TestLocal_BuildWithoutRepository(t *testing.T) {
	t.Parallel()

	l, _ := newLocal(t)
	_, err := l.Build(context.Background(), testRequest())
	assert.ErrorIs(t, err, service.ErrExternalFailure)
}

func TestLocal_DetectCommits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, sink := newLocal(t)
	req := provision(t, l, sink)

	n, err := l.DetectCommits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "provisioning commits are not reported")

	push(t, l.RepositoryPath(req.PatternID), map[string][]byte{
		buildsystem.PackageManifest: []byte("- name: bucket\n  version: 1.0.0\n"),
	})
	n, err = l.DetectCommits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	commit := sink.next(t)
	assert.Equal(t, req.PatternID, commit.PatternID)
	assert.Equal(t, status.StageAwaitingCommit, commit.Stage)
	assert.Equal(t, status.SignalSucceeded, commit.Status)
	assert.Nil(t, commit.RunID)

	n, err = l.DetectCommits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "an unchanged head is reported once")
	sink.none(t)
}

func TestLocal_DetectCommitsBaselinesUnknownRepositories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	patternID := uuid.New()
	repo := filepath.Join(dir, patternID.String()+".git")
	_, err := git.NewDefaultGitClient().InitBare(ctx, repo, git.CommitRequest{
		Message: "seed",
		Files:   map[string][]byte{"README.md": []byte("seed")},
		Author:  git.Author{Name: "Platform Team", Email: "platform@example.com", When: localNow},
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-pattern.git"), 0o750))

	l, err := buildsystem.NewLocal(dir)
	require.NoError(t, err)
	defer l.Close()
	sink := newChannelSink()
	l.SetSink(sink)

	n, err := l.DetectCommits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	push(t, repo, map[string][]byte{"README.md": []byte("changed")})
	n, err = l.DetectCommits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, patternID, sink.next(t).PatternID)
}

func TestLocal_DeliveryStopsWhenSignalNotApplied(t *testing.T) {
	t.Parallel()

	l, sink := newLocal(t)
	provisioned := provision(t, l, sink)
	push(t, l.RepositoryPath(provisioned.PatternID), map[string][]byte{
		buildsystem.PackageManifest: []byte("- name: bucket\n  version: 1.0.0\n"),
	})

	sink.mu.Lock()
	sink.reject = true
	sink.mu.Unlock()

	_, err := l.Build(context.Background(), buildRequest(l, provisioned))
	require.NoError(t, err)

	assert.Equal(t, status.StageBuilding, sink.next(t).Stage)
	sink.none(t)
}

func TestLocal_Teardown(t *testing.T) {
	t.Parallel()

	l, sink := newLocal(t)
	req := provision(t, l, sink)

	_, err := l.Teardown(context.Background(), req)
	require.NoError(t, err)

	sig := sink.next(t)
	assert.Equal(t, status.StageTearingDown, sig.Stage)
	assert.Equal(t, status.SignalSucceeded, sig.Status)

	_, err = os.Stat(l.RepositoryPath(req.PatternID))
	assert.True(t, os.IsNotExist(err))

	n, err := l.DetectCommits(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLocal_RunStatusWithoutSink(t *testing.T) {
	t.Parallel()

	l, err := buildsystem.NewLocal(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	req := testRequest()
	got, err := l.RunStatus(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = l.Teardown(context.Background(), req)
	require.NoError(t, err)

	got, err = l.RunStatus(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, status.StageTearingDown, got.Stage)

	other := req
	other.RunID = uuid.New()
	got, err = l.RunStatus(context.Background(), other)
	require.NoError(t, err)
	assert.Nil(t, got)
}
