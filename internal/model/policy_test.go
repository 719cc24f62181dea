package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperator_CompareBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op       Operator
		observed float64
		want     bool
	}{
		{OpLT, 19.99, true},
		{OpLT, 20, false},
		{OpLT, 20.01, false},
		{OpGT, 20.01, true},
		{OpGT, 20, false},
		{OpGT, 19.99, false},
		{OpLTE, 20, true},
		{OpGTE, 20, true},
		{OpEQ, 20, true},
		{OpEQ, 20.5, false},
		{Operator("NE"), 1, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.op.Compare(tt.observed, 20))
		})
	}
}

func TestOperator_Valid(t *testing.T) {
	t.Parallel()

	for _, op := range []Operator{OpLT, OpGT, OpLTE, OpGTE, OpEQ} {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, Operator("lt").Valid())
}

func TestPolicyRule_TriggerIDs(t *testing.T) {
	t.Parallel()

	r := PolicyRule{Triggers: []Trigger{{ID: "a"}, {ID: "b"}}}
	assert.Equal(t, []string{"a", "b"}, r.TriggerIDs())
}

func TestParseCandidateStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseCandidateStatus("applied")
	require.NoError(t, err)
	assert.Equal(t, CandidateApproved, s)

	s, err = ParseCandidateStatus(" pending ")
	require.NoError(t, err)
	assert.Equal(t, CandidatePending, s)

	_, err = ParseCandidateStatus("archived")
	assert.Error(t, err)
}

func TestEvolutionCandidate_TargetParameter(t *testing.T) {
	t.Parallel()

	c := EvolutionCandidate{Type: CandidateMetadata, TargetID: "ds-42"}
	assert.Equal(t, "metadata.ds-42", c.TargetParameter())

	c.Type = CandidatePrompt
	assert.Equal(t, "prompt.ds-42", c.TargetParameter())
}
