package status

import "fmt"

// transitions is the complete set of legal status edges. Anything not listed is rejected.
var transitions = map[Status][]Status{
	StatusCreating:   {StatusReady, StatusFailed, StatusDeleting},
	StatusReady:      {StatusPublishing, StatusUpdating, StatusDeleting},
	StatusPublishing: {StatusReady, StatusFailed, StatusDeleting},
	StatusUpdating:   {StatusReady, StatusFailed, StatusDeleting},
	StatusFailed:     {StatusUpdating, StatusDeleting},
	StatusDeleting:   {StatusDeleted, StatusFailed},
	StatusDeleted:    {},
}

// CanTransition reports whether a pattern may move from one status to another
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error describing the edge when it is not legal
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("transition from %s to %s is not allowed", from, to)
	}
	return nil
}

// Next returns the statuses reachable from the given status in one step
func Next(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// stageOrder ranks the stages of each run kind; a run never moves to a lower rank
var stageOrder = map[RunKind]map[Stage]int{
	RunKindProvision: {StageProvisioning: 0},
	RunKindBuild:     {StageBuilding: 0, StagePublishing: 1},
	RunKindTeardown:  {StageTearingDown: 0},
}

// StageRank returns the position of a stage within a run kind, and false when the
// stage does not belong to that kind
func StageRank(kind RunKind, stage Stage) (int, bool) {
	rank, ok := stageOrder[kind][stage]
	return rank, ok
}

// InitialStage returns the stage a new run of the given kind starts in
func InitialStage(kind RunKind) Stage {
	switch kind {
	case RunKindBuild:
		return StageBuilding
	case RunKindTeardown:
		return StageTearingDown
	default:
		return StageProvisioning
	}
}
