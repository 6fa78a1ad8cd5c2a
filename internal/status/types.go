// Package status defines the pattern lifecycle statuses, pipeline run stages and
// the transition table every status change is checked against.
package status

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle status of a pattern
type Status string

const (
	// StatusCreating means the backing repository and pipeline are being provisioned
	StatusCreating Status = "Creating"

	// StatusReady means the pattern is provisioned and idle
	StatusReady Status = "Ready"

	// StatusPublishing means a build/publish run triggered by a commit is in flight
	StatusPublishing Status = "Publishing"

	// StatusUpdating means a metadata update is being committed
	StatusUpdating Status = "Updating"

	// StatusFailed means provisioning, build or teardown reported a failure
	StatusFailed Status = "Failed"

	// StatusDeleting means teardown has been requested and is in flight
	StatusDeleting Status = "Deleting"

	// StatusDeleted means teardown succeeded; the record is purged right after
	StatusDeleted Status = "Deleted"
)

// AllStatuses lists every pattern status in lifecycle order
var AllStatuses = []Status{
	StatusCreating,
	StatusReady,
	StatusPublishing,
	StatusUpdating,
	StatusFailed,
	StatusDeleting,
	StatusDeleted,
}

// ParseStatus converts a string into a Status, matching case-insensitively
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown pattern status: %q", s)
}

// IsTerminal reports whether no further transition can leave the status
func (s Status) IsTerminal() bool {
	return s == StatusDeleted
}

// Stage represents the step a pipeline run is currently in
type Stage string

const (
	// StageProvisioning is repository and build-pipeline provisioning
	StageProvisioning Stage = "Provisioning"

	// StageAwaitingCommit is a provisioned pipeline waiting for a commit.
	// Signals carrying this stage announce a commit on the backing repository.
	StageAwaitingCommit Stage = "AwaitingCommit"

	// StageBuilding is the build triggered by a commit
	StageBuilding Stage = "Building"

	// StagePublishing is the upload of the packages a build produced
	StagePublishing Stage = "Publishing"

	// StageTearingDown is the removal of repository and pipeline resources
	StageTearingDown Stage = "TearingDown"
)

// ParseStage converts a string into a Stage. "Tearing Down" is accepted as an alias.
func ParseStage(s string) (Stage, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	for _, st := range []Stage{
		StageProvisioning, StageAwaitingCommit, StageBuilding, StagePublishing, StageTearingDown,
	} {
		if strings.EqualFold(string(st), normalized) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline stage: %q", s)
}

// RunKind identifies what a pipeline run is doing for its pattern
type RunKind string

const (
	// RunKindProvision provisions the repository and pipeline of a new pattern
	RunKindProvision RunKind = "provision"

	// RunKindBuild builds and publishes packages after a commit
	RunKindBuild RunKind = "build"

	// RunKindTeardown removes every external resource of a pattern
	RunKindTeardown RunKind = "teardown"
)

// RunPhase represents the lifecycle phase of a pipeline run
type RunPhase string

const (
	// RunPhaseActive means the run is waiting for a terminal signal
	RunPhaseActive RunPhase = "Active"

	// RunPhaseSucceeded means the run ended with a success signal
	RunPhaseSucceeded RunPhase = "Succeeded"

	// RunPhaseFailed means the run ended with a failure signal or exhausted its retries
	RunPhaseFailed RunPhase = "Failed"

	// RunPhaseAborted means the run was preempted by a deletion
	RunPhaseAborted RunPhase = "Aborted"
)

// SignalStatus is the outcome reported by a pipeline signal
type SignalStatus string

const (
	// SignalStarted reports progress without ending the run
	SignalStarted SignalStatus = "started"

	// SignalSucceeded reports a successful stage
	SignalSucceeded SignalStatus = "succeeded"

	// SignalFailed reports a failed stage
	SignalFailed SignalStatus = "failed"
)

// ParseSignalStatus converts a string into a SignalStatus
func ParseSignalStatus(s string) (SignalStatus, error) {
	switch SignalStatus(strings.ToLower(strings.TrimSpace(s))) {
	case SignalStarted:
		return SignalStarted, nil
	case SignalSucceeded:
		return SignalSucceeded, nil
	case SignalFailed:
		return SignalFailed, nil
	default:
		return "", fmt.Errorf("unknown signal status: %q", s)
	}
}
