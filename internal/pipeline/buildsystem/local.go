package buildsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-pattern-catalog/internal/git"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

const (
	// PackageManifest is the file a commit lists its packages in
	PackageManifest = "packages.yaml"
	// PipelineFile describes the pipeline provisioned for a pattern
	PipelineFile = ".thv/pipeline.yaml"
)

// LocalOption configures a Local driver
type LocalOption func(*Local)

// WithLocalClock sets the clock used for signal times
func WithLocalClock(c clock.PassiveClock) LocalOption {
	return func(l *Local) {
		l.clock = c
	}
}

// WithGitClient replaces the git client
func WithGitClient(c git.Client) LocalOption {
	return func(l *Local) {
		l.git = c
	}
}

// WithRepositoryAuth sets the credentials used to clone remote pattern repositories
func WithRepositoryAuth(username, password string) LocalOption {
	return func(l *Local) {
		if username != "" {
			l.auth = &git.AuthConfig{Username: username, Password: password}
		}
	}
}

type pipelineDescriptor struct {
	Pattern  string              `yaml:"pattern"`
	Type     service.PatternType `yaml:"type"`
	Manifest string              `yaml:"manifest"`
}

// Local is an in-process build system. It keeps one bare git repository per
// pattern under a directory, notices commits by watching repository heads, builds
// a commit by reading its package manifest, and reports every step to a Sink from
// its own goroutines.
type Local struct {
	dir   string
	git   git.Client
	clock clock.PassiveClock
	auth  *git.AuthConfig

	// repoMu orders repository writes against head scans
	repoMu sync.Mutex

	mu     sync.Mutex
	sink   Sink
	last   map[uuid.UUID]*service.Signal // by run
	heads  map[uuid.UUID]string          // by pattern
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ Client         = (*Local)(nil)
	_ CommitDetector = (*Local)(nil)
)

// NewLocal creates a local driver keeping repositories under dir
func NewLocal(dir string, opts ...LocalOption) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("repository directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		dir:    dir,
		git:    git.NewDefaultGitClient(),
		clock:  clock.RealClock{},
		last:   map[uuid.UUID]*service.Signal{},
		heads:  map[uuid.UUID]string{},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SetSink installs the receiver of signals; signals produced before are only
// available through RunStatus
func (l *Local) SetSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = s
}

// Close stops signal delivery and waits for in-flight deliveries
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}

// RepositoryPath returns where the repository of a pattern lives
func (l *Local) RepositoryPath(patternID uuid.UUID) string {
	return filepath.Join(l.dir, patternID.String()+".git")
}

// ProvisionRepository creates the bare repository of the pattern
func (l *Local) ProvisionRepository(ctx context.Context, req Request) error {
	l.repoMu.Lock()
	defer l.repoMu.Unlock()

	_, err := l.git.InitBare(ctx, l.RepositoryPath(req.PatternID), git.CommitRequest{
		Message: fmt.Sprintf("Initialize pattern %s", req.PatternName),
		Files: map[string][]byte{
			"README.md": fmt.Appendf(nil, "# %s\n\nType: %s\n", req.PatternName, req.PatternType),
		},
		Author: l.author(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", service.ErrExternalFailure, err)
	}
	return nil
}

// ProvisionPipeline commits the pipeline descriptor and reports provisioning success
func (l *Local) ProvisionPipeline(ctx context.Context, req Request) (string, error) {
	repo := l.RepositoryPath(req.PatternID)
	if _, err := os.Stat(repo); err != nil {
		return "", fmt.Errorf("%w: repository of pattern %s is missing", service.ErrExternalFailure, req.PatternID)
	}

	descriptor, err := yaml.Marshal(pipelineDescriptor{
		Pattern:  req.PatternName,
		Type:     req.PatternType,
		Manifest: PackageManifest,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode pipeline descriptor: %w", err)
	}

	l.repoMu.Lock()
	hash, err := l.git.CommitFiles(ctx, git.CommitRequest{
		URL:     repo,
		Message: "Provision pipeline",
		Files:   map[string][]byte{PipelineFile: descriptor},
		Author:  l.author(),
	})
	if err == nil {
		l.setHead(req.PatternID, hash)
	}
	l.repoMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrExternalFailure, err)
	}

	runID := req.RunID
	l.report(ctx, []service.Signal{{
		PatternID:     req.PatternID,
		RunID:         &runID,
		Stage:         status.StageProvisioning,
		Status:        status.SignalSucceeded,
		RepositoryRef: repo,
		SignalTime:    l.now(),
	}})
	return "local-" + req.RunID.String(), nil
}

// Build publishes the packages listed in PackageManifest at the head of the pattern
// repository. A missing or malformed manifest fails the build.
func (l *Local) Build(ctx context.Context, req Request) (string, error) {
	if req.RepositoryRef == "" {
		return "", fmt.Errorf("%w: pattern %s has no repository", service.ErrExternalFailure, req.PatternID)
	}

	runID := req.RunID
	startedAt := l.now()
	done := service.Signal{
		PatternID:  req.PatternID,
		RunID:      &runID,
		Stage:      status.StagePublishing,
		Status:     status.SignalSucceeded,
		SignalTime: startedAt.Add(time.Millisecond),
	}
	pkgs, err := l.readManifest(ctx, req.RepositoryRef)
	if err != nil {
		done.Stage = status.StageBuilding
		done.Status = status.SignalFailed
		done.Reason = err.Error()
	}
	done.Packages = pkgs

	l.report(ctx, []service.Signal{{
		PatternID:  req.PatternID,
		RunID:      &runID,
		Stage:      status.StageBuilding,
		Status:     status.SignalStarted,
		SignalTime: startedAt,
	}, done})
	return "local-" + req.RunID.String(), nil
}

// Teardown removes the repository and reports the outcome
func (l *Local) Teardown(ctx context.Context, req Request) (string, error) {
	runID := req.RunID
	signal := service.Signal{
		PatternID:  req.PatternID,
		RunID:      &runID,
		Stage:      status.StageTearingDown,
		Status:     status.SignalSucceeded,
		SignalTime: l.now(),
	}

	l.repoMu.Lock()
	err := os.RemoveAll(l.RepositoryPath(req.PatternID))
	l.mu.Lock()
	delete(l.heads, req.PatternID)
	l.mu.Unlock()
	l.repoMu.Unlock()

	if err != nil {
		signal.Status = status.SignalFailed
		signal.Reason = fmt.Sprintf("failed to remove repository: %v", err)
	}
	l.report(ctx, []service.Signal{signal})
	return "local-" + req.RunID.String(), nil
}

// RunStatus returns the last signal produced for the run of the request
func (l *Local) RunStatus(_ context.Context, req Request) (*service.Signal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.last[req.RunID]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

// DetectCommits reports a commit for every pattern repository whose head moved since
// it was provisioned or last scanned. A repository seen for the first time, as after
// a restart, only records its head.
func (l *Local) DetectCommits(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list repositories: %w", err)
	}

	var moved []uuid.UUID
	var errs []error
	l.repoMu.Lock()
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".git")
		if !ok || !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		info, err := l.git.Open(ctx, filepath.Join(l.dir, entry.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %s: %w", id, err))
			continue
		}
		if l.setHead(id, info.Head) {
			moved = append(moved, id)
		}
	}
	l.repoMu.Unlock()

	for _, id := range moved {
		slog.InfoContext(ctx, "Detected commit", "pattern_id", id)
		l.report(ctx, []service.Signal{{
			PatternID:  id,
			Stage:      status.StageAwaitingCommit,
			Status:     status.SignalSucceeded,
			SignalTime: l.now(),
		}})
	}
	return len(moved), errors.Join(errs...)
}

// setHead records the head of a pattern repository and reports whether a known head moved
func (l *Local) setHead(patternID uuid.UUID, head string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, known := l.heads[patternID]
	l.heads[patternID] = head
	return known && prev != head
}

func (l *Local) readManifest(ctx context.Context, ref string) ([]service.PackageRef, error) {
	info, release, err := l.openRepository(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := l.git.GetFileContent(info, PackageManifest)
	if err != nil {
		return nil, fmt.Errorf("commit has no %s", PackageManifest)
	}

	var pkgs []service.PackageRef
	if err := yaml.Unmarshal(data, &pkgs); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", PackageManifest, err)
	}
	for _, p := range pkgs {
		if p.Name == "" || p.Version == "" {
			return nil, fmt.Errorf("malformed %s: every package needs a name and a version", PackageManifest)
		}
	}
	return pkgs, nil
}

// openRepository opens a repository of this driver in place and clones any other
// one into memory
func (l *Local) openRepository(ctx context.Context, ref string) (*git.RepositoryInfo, func(), error) {
	if u, err := url.Parse(ref); err != nil || u.Scheme == "" || u.Host == "" {
		info, err := l.git.Open(ctx, ref)
		return info, func() {}, err
	}

	info, err := l.git.Clone(ctx, &git.CloneConfig{
		URL:     ref,
		Branch:  git.DefaultBranch,
		Shallow: true,
		Auth:    l.auth,
	})
	if err != nil {
		return nil, nil, err
	}
	return info, func() {
		if err := l.git.Cleanup(ctx, info); err != nil {
			slog.WarnContext(ctx, "Failed to release repository clone", "url", ref, "error", err)
		}
	}, nil
}

// report records signals and delivers them in order from a new goroutine. Delivery
// stops at the first signal the sink does not apply.
func (l *Local) report(ctx context.Context, signals []service.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range signals {
		s := signals[i]
		if s.RunID != nil {
			l.last[*s.RunID] = &s
		}
	}
	if l.closed || l.sink == nil {
		return
	}

	sink := l.sink
	deliverCtx := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for _, s := range signals {
			if l.ctx.Err() != nil {
				return
			}
			applied, err := sink.HandleSignal(deliverCtx, s)
			if err != nil && !errors.Is(err, service.ErrNotFound) {
				slog.ErrorContext(deliverCtx, "Failed to deliver signal",
					"pattern_id", s.PatternID,
					"stage", s.Stage,
					"status", s.Status,
					"error", err)
				return
			}
			if !applied {
				return
			}
		}
	}()
}

func (l *Local) now() time.Time {
	return l.clock.Now().UTC()
}

func (l *Local) author() git.Author {
	return git.Author{Name: "thv-pattern-api", Email: "pattern-catalog@localhost", When: l.now()}
}
