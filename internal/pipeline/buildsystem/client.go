// Package buildsystem is the boundary to the external build system that provisions
// pattern repositories and pipelines, builds packages and tears everything down.
//
// Every request returns as soon as the build system accepted it. Progress is
// reported later as service.Signal values, either pushed to the pipeline-signal
// endpoint, delivered to a Sink, or fetched with RunStatus.
package buildsystem

import (
	"context"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Request identifies the pattern and run a build system call is made for
type Request struct {
	RunID         uuid.UUID           `json:"runId"`
	PatternID     uuid.UUID           `json:"patternId"`
	PatternName   string              `json:"patternName"`
	PatternType   service.PatternType `json:"patternType"`
	RepositoryRef string              `json:"repositoryRef,omitempty"`
	// ExternalRef is the handle the build system returned for the run, if any
	ExternalRef string `json:"externalRef,omitempty"`
	Attempt     int    `json:"attempt"`
}

// NewRequest builds a request for a run of a pattern
func NewRequest(p *service.Pattern, run *service.PipelineRun) Request {
	return Request{
		RunID:         run.ID,
		PatternID:     p.ID,
		PatternName:   p.Name,
		PatternType:   p.Type,
		RepositoryRef: p.RepositoryRef,
		ExternalRef:   run.ExternalRef,
		Attempt:       run.Attempt,
	}
}

// Client issues requests to the build system
type Client interface {
	// ProvisionRepository asks for the backing repository of a pattern
	ProvisionRepository(ctx context.Context, req Request) error
	// ProvisionPipeline asks for the build pipeline of a pattern. Success is reported
	// by a Provisioning signal carrying the repository reference.
	ProvisionPipeline(ctx context.Context, req Request) (externalRef string, err error)
	// Build asks for a build of the repository head. Progress is reported by Building
	// and Publishing signals, success carrying the published packages.
	Build(ctx context.Context, req Request) (externalRef string, err error)
	// Teardown asks for removal of the repository and pipeline of a pattern
	Teardown(ctx context.Context, req Request) (externalRef string, err error)
	// RunStatus returns the latest signal the build system has for a run, nil when none
	RunStatus(ctx context.Context, req Request) (*service.Signal, error)
}

// Sink receives signals from drivers that report in-process
type Sink interface {
	HandleSignal(ctx context.Context, signal service.Signal) (applied bool, err error)
}

// CommitDetector is implemented by drivers that find commits by looking at the
// repositories themselves instead of being told by the build system
type CommitDetector interface {
	// DetectCommits reports a commit signal for every repository whose head moved
	// since the last call and returns how many were reported
	DetectCommits(ctx context.Context) (int, error)
}
