package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

func TestParsePatternType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    PatternType
		wantErr bool
	}{
		{input: "A", want: PatternTypeA},
		{input: "b", want: PatternTypeB},
		{input: "template-family-a", want: PatternTypeA},
		{input: " TEMPLATE-FAMILY-B ", want: PatternTypeB},
		{input: "C", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePatternType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAttributeRef(t *testing.T) {
	t.Parallel()

	ref, err := ParseAttributeRef("env:prod")
	require.NoError(t, err)
	assert.Equal(t, AttributeRef{Key: "env", Value: "prod"}, ref)

	ref, err = ParseAttributeRef("url:https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", ref.Value)

	for _, bad := range []string{"env", "env:", ":prod", ""} {
		_, err := ParseAttributeRef(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestPatternClone(t *testing.T) {
	t.Parallel()

	original := &Pattern{
		ID:         uuid.New(),
		Name:       "p1",
		Attributes: []AttributeRef{{Key: "env", Value: "prod"}},
		Packages:   []Package{{Name: "pkg-a", Version: "1.0.0"}},
	}
	clone := original.Clone()
	clone.Attributes[0].Value = "dev"
	clone.Packages = append(clone.Packages, Package{Name: "pkg-b", Version: "1.0.0"})

	assert.Equal(t, "prod", original.Attributes[0].Value)
	assert.Len(t, original.Packages, 1)
	assert.True(t, original.HasAttribute(AttributeRef{Key: "env", Value: "prod"}))
	assert.False(t, original.HasAttribute(AttributeRef{Key: "env", Value: "dev"}))

	empty := (&Pattern{}).Clone()
	assert.NotNil(t, empty.Attributes)
	assert.NotNil(t, empty.Packages)
}

func TestPipelineRunHasApplied(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := &PipelineRun{
		Phase:   status.RunPhaseActive,
		Applied: []SignalMark{{Stage: status.StageBuilding, SignalTime: at}},
	}

	assert.True(t, run.IsActive())
	assert.True(t, run.HasApplied(status.StageBuilding, at.In(time.FixedZone("x", 3600))))
	assert.False(t, run.HasApplied(status.StagePublishing, at))
	assert.False(t, run.HasApplied(status.StageBuilding, at.Add(time.Second)))

	var nilRun *PipelineRun
	assert.False(t, nilRun.IsActive())
}

func TestSignalValidate(t *testing.T) {
	t.Parallel()

	valid := Signal{
		PatternID:  uuid.New(),
		Stage:      status.StageBuilding,
		Status:     status.SignalSucceeded,
		SignalTime: time.Now(),
		Packages:   []PackageRef{{Name: "pkg-a", Version: "1.0.0"}},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{name: "missing pattern", mutate: func(s *Signal) { s.PatternID = uuid.Nil }},
		{name: "missing stage", mutate: func(s *Signal) { s.Stage = "" }},
		{name: "missing status", mutate: func(s *Signal) { s.Status = "" }},
		{name: "missing time", mutate: func(s *Signal) { s.SignalTime = time.Time{} }},
		{name: "package without version", mutate: func(s *Signal) { s.Packages = []PackageRef{{Name: "x"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidInput)
		})
	}
}

func TestListPatternsOptions(t *testing.T) {
	t.Parallel()

	p := &Pattern{
		Name:       "Compliant-Bucket",
		Status:     status.StatusReady,
		Attributes: []AttributeRef{{Key: "env", Value: "prod"}, {Key: "tier", Value: "gold"}},
	}

	tests := []struct {
		name string
		opts []Option[ListPatternsOptions]
		want bool
	}{
		{name: "no filter", want: true},
		{name: "name substring case-insensitive", opts: []Option[ListPatternsOptions]{WithNameContains("bucket")}, want: true},
		{name: "name mismatch", opts: []Option[ListPatternsOptions]{WithNameContains("table")}, want: false},
		{
			name: "all attributes match",
			opts: []Option[ListPatternsOptions]{
				WithAttribute(AttributeRef{Key: "env", Value: "prod"}),
				WithAttribute(AttributeRef{Key: "tier", Value: "gold"}),
			},
			want: true,
		},
		{
			name: "one attribute missing",
			opts: []Option[ListPatternsOptions]{
				WithAttribute(AttributeRef{Key: "env", Value: "prod"}),
				WithAttribute(AttributeRef{Key: "tier", Value: "silver"}),
			},
			want: false,
		},
		{
			name: "any status",
			opts: []Option[ListPatternsOptions]{WithStatus(status.StatusFailed), WithStatus(status.StatusReady)},
			want: true,
		},
		{name: "status mismatch", opts: []Option[ListPatternsOptions]{WithStatus(status.StatusFailed)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o, err := NewListPatternsOptions(tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, o.Matches(p))
		})
	}
}

func TestListPatternsOptions_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewListPatternsOptions(WithNameContains("  "))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewListPatternsOptions(WithAttribute(AttributeRef{Key: "env"}))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewListPatternsOptions(WithStatus("Bogus"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
