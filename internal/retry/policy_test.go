package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   FailureClass
	}{
		{"patch failed", "PATCH_FAILED", ClassPatchFailed},
		{"token escalation", "TOKEN_ESCALATION", ClassTokenBudget},
		{"truncated output", "OUTPUT_TRUNCATED", ClassTokenBudget},
		{"collection errors", "Collection errors detected in CI", ClassUnrecoverable},
		{"collection errors upper", "COLLECTION ERRORS DETECTED", ClassUnrecoverable},
		{"import error", "ci collection/import error: no module named foo", ClassUnrecoverable},
		{"ci failed", "CI_FAILED", ClassGeneric},
		{"empty", "", ClassGeneric},
		{"lowercase patch failed is generic", "patch_failed", ClassGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status))
		})
	}
}

func TestIsUnrecoverable(t *testing.T) {
	assert.True(t, IsUnrecoverable("Collection errors detected in CI"))
	assert.False(t, IsUnrecoverable("CI_FAILED"))
}

func TestIsHTTP500(t *testing.T) {
	assert.True(t, IsHTTP500("upstream returned 500"))
	assert.True(t, IsHTTP500("Internal Server Error"))
	assert.False(t, IsHTTP500("connection refused"))
}

func TestDecide(t *testing.T) {
	t.Run("token budget skips diagnostics", func(t *testing.T) {
		d := Decide(StatusTokenEscalation, AttemptContext{AttemptIndex: 2, MaxAttempts: 5})
		assert.False(t, d.ShouldRunDiagnostics)
		require.NotNil(t, d.NextRetryAttempt)
		assert.Equal(t, 3, *d.NextRetryAttempt)
		assert.True(t, d.SkipsDiagnostics())
	})

	t.Run("generic failure runs diagnostics", func(t *testing.T) {
		d := Decide(StatusPatchFailed, AttemptContext{AttemptIndex: 0, MaxAttempts: 5})
		assert.True(t, d.ShouldRunDiagnostics)
		assert.Nil(t, d.NextRetryAttempt)
		assert.False(t, d.SkipsDiagnostics())
	})

	t.Run("no diagnostics without next attempt does not skip", func(t *testing.T) {
		d := RetryDecision{ShouldRunDiagnostics: false}
		assert.False(t, d.SkipsDiagnostics())
	})
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{StatusPatchFailed, OutcomePatchApplyError},
		{StatusCIFailed, OutcomeCIFail},
		{"Collection errors detected", OutcomeCIFail},
		{StatusBuildFailed, OutcomeBuildFail},
		{StatusTokenEscalation, OutcomeTokenBudget},
		{StatusException, OutcomeInfraError},
		{StatusAuditorRejected, OutcomeAuditorReject},
		{"SOMETHING_ELSE", OutcomeAuditorReject},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeFor(tt.status))
		})
	}
}

func TestFailureClassString(t *testing.T) {
	assert.Equal(t, "generic", ClassGeneric.String())
	assert.Equal(t, "unrecoverable", ClassUnrecoverable.String())
	assert.Equal(t, "unknown", FailureClass(99).String())
}
