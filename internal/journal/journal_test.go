package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daydemir/autopilot/internal/types"
)

func entry(phaseID, runID string) types.JournalEntry {
	return types.JournalEntry{
		ErrorSignature: phaseID + ":PATCH_FAILED:patch_apply_error",
		Symptom:        "patch does not apply",
		RunID:          runID,
		PhaseID:        phaseID,
		SuspectedCause: "patch_apply_error after 5 attempts",
		Priority:       types.PriorityHigh,
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(ctx, entry("p1", "run-1")))
	require.NoError(t, s.Append(ctx, entry("p2", "run-1")))
	require.NoError(t, s.Append(ctx, entry("p1", "run-2")))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p1", all[0].PhaseID)
	assert.Equal(t, "p2", all[1].PhaseID)
	assert.False(t, all[0].RecordedAt.IsZero())
	assert.Equal(t, uint64(3), s.Len())

	byPhase, err := s.List(ctx, Filter{PhaseID: "p1"})
	require.NoError(t, err)
	assert.Len(t, byPhase, 2)

	byRun, err := s.List(ctx, Filter{RunID: "run-2"})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "p1", byRun[0].PhaseID)

	newest, err := s.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "run-2", newest[0].RunID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, entry("p1", "run-1")))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(1), s.Len())

	require.NoError(t, s.Append(ctx, entry("p2", "run-2")))
	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[1].PhaseID)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Append(context.Background(), entry("p1", "run-1")), ErrClosed)
	_, err = s.List(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestAppendCancelled(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Append(ctx, entry("p1", "run-1")), context.Canceled)
	assert.Zero(t, s.Len())
}
