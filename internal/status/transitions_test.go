package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCanTransition_ExhaustiveTable(t *testing.T) {
	t.Parallel()

	allowed := map[Status]map[Status]bool{
		StatusCreating:   {StatusReady: true, StatusFailed: true, StatusDeleting: true},
		StatusReady:      {StatusPublishing: true, StatusUpdating: true, StatusDeleting: true},
		StatusPublishing: {StatusReady: true, StatusFailed: true, StatusDeleting: true},
		StatusUpdating:   {StatusReady: true, StatusFailed: true, StatusDeleting: true},
		StatusFailed:     {StatusUpdating: true, StatusDeleting: true},
		StatusDeleting:   {StatusDeleted: true, StatusFailed: true},
		StatusDeleted:    {},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[from][to]
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				t.Parallel()
				assert.Equal(t, want, CanTransition(from, to))
				if want {
					assert.NoError(t, ValidateTransition(from, to))
				} else {
					assert.Error(t, ValidateTransition(from, to))
				}
			})
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	t.Parallel()

	assert.False(t, CanTransition("Bogus", StatusReady))
	assert.False(t, CanTransition(StatusReady, "Bogus"))
}

func TestDeletedIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusDeleted.IsTerminal())
	assert.Empty(t, Next(StatusDeleted))
	for _, st := range AllStatuses {
		if st != StatusDeleted {
			assert.False(t, st.IsTerminal(), st)
		}
	}
}

// TestRandomWalksStayOnDefinedEdges drives random walks through the table and checks
// that only Failed can lead back to Updating and nothing ever leaves Deleted.
func TestRandomWalksStayOnDefinedEdges(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		current := StatusCreating
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			candidate := rapid.SampledFrom(AllStatuses).Draw(rt, "candidate")
			if !CanTransition(current, candidate) {
				continue
			}
			if current == StatusDeleted {
				rt.Fatalf("left terminal status towards %s", candidate)
			}
			if current == StatusFailed && candidate != StatusUpdating && candidate != StatusDeleting {
				rt.Fatalf("Failed may only move to Updating or Deleting, got %s", candidate)
			}
			current = candidate
		}
	})
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, err := ParseStatus("ready")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)

	_, err = ParseStatus("unknown")
	assert.Error(t, err)
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Stage
		wantErr bool
	}{
		{input: "Provisioning", want: StageProvisioning},
		{input: "awaitingcommit", want: StageAwaitingCommit},
		{input: "Tearing Down", want: StageTearingDown},
		{input: "TearingDown", want: StageTearingDown},
		{input: "Publishing", want: StagePublishing},
		{input: "Compiling", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseStage(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageRank(t *testing.T) {
	t.Parallel()

	building, ok := StageRank(RunKindBuild, StageBuilding)
	require.True(t, ok)
	publishing, ok := StageRank(RunKindBuild, StagePublishing)
	require.True(t, ok)
	assert.Less(t, building, publishing)

	_, ok = StageRank(RunKindBuild, StageTearingDown)
	assert.False(t, ok)
	_, ok = StageRank(RunKindTeardown, StageBuilding)
	assert.False(t, ok)

	assert.Equal(t, StageProvisioning, InitialStage(RunKindProvision))
	assert.Equal(t, StageBuilding, InitialStage(RunKindBuild))
	assert.Equal(t, StageTearingDown, InitialStage(RunKindTeardown))
}

func TestParseSignalStatus(t *testing.T) {
	t.Parallel()

	st, err := ParseSignalStatus("Succeeded")
	require.NoError(t, err)
	assert.Equal(t, SignalSucceeded, st)

	_, err = ParseSignalStatus("done")
	assert.Error(t, err)
}
