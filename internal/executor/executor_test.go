package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/daydemir/autopilot/internal/orchestrator"
	"github.com/daydemir/autopilot/internal/state"
	"github.com/daydemir/autopilot/internal/types"
)

// scriptedOrchestrator returns results in order, persisting failed attempts
// the way the real orchestrator does.
type scriptedOrchestrator struct {
	repo    *state.MemoryRepository
	results map[string][]orchestrator.ExecutionResult
	calls   []*orchestrator.ExecutionContext
}

func (s *scriptedOrchestrator) ExecuteAttempt(ctx context.Context, ec *orchestrator.ExecutionContext) orchestrator.ExecutionResult {
	s.calls = append(s.calls, ec)
	queue := s.results[ec.Phase.ID]
	if len(queue) == 0 {
		return orchestrator.ExecutionResult{Result: types.PhaseComplete, Success: true, Counters: ec.Counters}
	}
	res := queue[0]
	s.results[ec.Phase.ID] = queue[1:]

	counters := ec.Counters.Clone()
	switch res.Result {
	case types.PhaseComplete:
		_ = s.repo.MarkComplete(ctx, ec.Phase.ID)
	case types.PhaseFailed:
		counters.TotalFailures++
		if !res.ShouldContinue {
			_ = s.repo.MarkFailed(ctx, ec.Phase.ID, res.Reason)
		}
	}
	res.Counters = counters
	return res
}

func (s *scriptedOrchestrator) phaseCalls(phaseID string) []*orchestrator.ExecutionContext {
	var out []*orchestrator.ExecutionContext
	for _, c := range s.calls {
		if c.Phase.ID == phaseID {
			out = append(out, c)
		}
	}
	return out
}

type recordingObserver struct {
	results []types.PhaseResult
}

func (o *recordingObserver) ObserveAttempt(result types.PhaseResult, _ time.Duration) {
	o.results = append(o.results, result)
}

func retryable() orchestrator.ExecutionResult {
	return orchestrator.ExecutionResult{Result: types.PhaseFailed, Status: "CI_FAILED", Reason: "CI_FAILED", ShouldContinue: true}
}

func complete() orchestrator.ExecutionResult {
	return orchestrator.ExecutionResult{Result: types.PhaseComplete, Status: "COMPLETE", Reason: "COMPLETE", Success: true, ShouldContinue: true}
}

func newPhaseFile(ids ...string) *types.PhaseFile {
	pf := &types.PhaseFile{Version: "1.0", Project: "demo"}
	for _, id := range ids {
		pf.Phases = append(pf.Phases, types.PhaseSpec{ID: id, Description: "build " + id, Complexity: types.ComplexityMedium})
	}
	return pf
}

func newTestExecutor(t *testing.T, results map[string][]orchestrator.ExecutionResult, opts ...Option) (*Executor, *scriptedOrchestrator, *state.MemoryRepository) {
	t.Helper()
	repo := state.NewMemoryRepository()
	orch := &scriptedOrchestrator{repo: repo, results: results}
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxAttempts = 3
	cfg.MaxReplans = 1
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e := New(cfg, orch, repo, opts...)
	e.newRunID = func() string { return "run-1" }
	return e, orch, repo
}

func TestLoopAllComplete(t *testing.T) {
	observer := &recordingObserver{}
	e, orch, _ := newTestExecutor(t, map[string][]orchestrator.ExecutionResult{
		"p01": {retryable(), complete()},
	}, WithObserver(observer))

	summary, err := e.Loop(context.Background(), newPhaseFile("p01", "p02"))
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Counters.TotalFailures)
	require.Len(t, summary.Phases, 2)
	assert.Equal(t, 2, summary.Phases[0].Attempts)

	calls := orch.phaseCalls("p01")
	require.Len(t, calls, 2)
	assert.Equal(t, 0, calls[0].AttemptIndex)
	assert.Equal(t, 1, calls[1].AttemptIndex)
	assert.Equal(t, 1, calls[1].Counters.TotalFailures, "counters are threaded between calls")
	assert.Equal(t, "run-1", calls[1].RunID)
	assert.Equal(t, []types.PhaseResult{types.PhaseFailed, types.PhaseComplete, types.PhaseComplete}, observer.results)
}

func TestLoopSkipsCompletedAndResumes(t *testing.T) {
	e, orch, repo := newTestExecutor(t, nil)
	ctx := context.Background()
	require.NoError(t, repo.MarkComplete(ctx, "p01"))
	require.NoError(t, repo.UpdateAttempts(ctx, "p02", types.AttemptUpdate{RetryAttempt: intPtr(2), EscalationLevel: intPtr(1)}))

	summary, err := e.Loop(ctx, newPhaseFile("p01", "p02"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.True(t, summary.Phases[0].Skipped)
	assert.Empty(t, orch.phaseCalls("p01"))

	calls := orch.phaseCalls("p02")
	require.Len(t, calls, 1)
	assert.Equal(t, 2, calls[0].AttemptIndex)
	assert.Equal(t, 1, calls[0].EscalationLevel)
}

func TestLoopStopsOnTerminalFailure(t *testing.T) {
	e, orch, repo := newTestExecutor(t, map[string][]orchestrator.ExecutionResult{
		"p01": {{Result: types.PhaseFailed, Status: "FAILED", Reason: orchestrator.ReasonMaxAttemptsExhausted}},
	})

	summary, err := e.Loop(context.Background(), newPhaseFile("p01", "p02"))

	var stop *StopError
	require.ErrorAs(t, err, &stop)
	assert.Equal(t, "p01", stop.PhaseID)
	assert.Equal(t, types.PhaseFailed, stop.Result)
	assert.Equal(t, orchestrator.ReasonMaxAttemptsExhausted, stop.Reason)
	assert.Equal(t, 0, summary.Completed)
	assert.Empty(t, orch.phaseCalls("p02"), "later phases do not run")

	rec, err := repo.Get(context.Background(), "p01")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
}

func TestLoopStopsOnBlocked(t *testing.T) {
	e, _, _ := newTestExecutor(t, map[string][]orchestrator.ExecutionResult{
		"p01": {{Result: types.PhaseBlocked, Status: "BLOCKED", Reason: "needs credentials"}},
	})

	_, err := e.Loop(context.Background(), newPhaseFile("p01"))

	var stop *StopError
	require.ErrorAs(t, err, &stop)
	assert.Equal(t, types.PhaseBlocked, stop.Result)
	assert.Equal(t, "phase p01 BLOCKED: needs credentials", stop.Error())
}

func TestLoopRefusesPreviouslyFailedPhase(t *testing.T) {
	e, orch, repo := newTestExecutor(t, nil)
	require.NoError(t, repo.MarkFailed(context.Background(), "p01", "STUCK_STOP"))

	_, err := e.Loop(context.Background(), newPhaseFile("p01"))

	var stop *StopError
	require.ErrorAs(t, err, &stop)
	assert.Equal(t, "STUCK_STOP", stop.Reason)
	assert.Empty(t, orch.calls)
}

func TestLoopReplanSavesRevision(t *testing.T) {
	revised := &types.PhaseSpec{ID: "p01", Description: "build p01 in two steps", Complexity: types.ComplexityLow}
	e, orch, _ := newTestExecutor(t, map[string][]orchestrator.ExecutionResult{
		"p01": {
			{Result: types.PhaseReplanRequested, Status: "REPLAN_REQUESTED", Reason: "REPLAN:scope", RevisedPhase: revised},
			complete(),
		},
	})
	path := filepath.Join(e.config.WorkDir, "phases.yaml")
	e.config.PhaseFile = path
	pf := newPhaseFile("p01")

	summary, err := e.Loop(context.Background(), pf)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Phases[0].Replans)

	calls := orch.phaseCalls("p01")
	require.Len(t, calls, 2)
	assert.Equal(t, "build p01 in two steps", calls[1].Phase.Description)

	saved, err := state.LoadPhaseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "build p01 in two steps", saved.Phases[0].Description)
	assert.Equal(t, types.ComplexityLow, saved.Phases[0].Complexity)
}

func TestLoopReplanLimit(t *testing.T) {
	replan := orchestrator.ExecutionResult{Result: types.PhaseReplanRequested, Status: "REPLAN_REQUESTED", Reason: "REPLAN"}
	e, orch, repo := newTestExecutor(t, map[string][]orchestrator.ExecutionResult{
		"p01": {replan, replan, complete()},
	})

	_, err := e.Loop(context.Background(), newPhaseFile("p01"))

	var stop *StopError
	require.ErrorAs(t, err, &stop)
	assert.Equal(t, ReasonReplanLimitExceeded, stop.Reason)
	assert.Len(t, orch.calls, 2)

	rec, err := repo.Get(context.Background(), "p01")
	require.NoError(t, err)
	assert.Equal(t, ReasonReplanLimitExceeded, rec.FailureReason)
}

func TestLoopBoundsRunawayRetries(t *testing.T) {
	endless := make([]orchestrator.ExecutionResult, 50)
	for i := range endless {
		endless[i] = retryable()
	}
	e, orch, _ := newTestExecutor(t, map[string][]orchestrator.ExecutionResult{"p01": endless})

	_, err := e.Loop(context.Background(), newPhaseFile("p01"))

	var stop *StopError
	require.ErrorAs(t, err, &stop)
	assert.Equal(t, orchestrator.ReasonMaxAttemptsExhausted, stop.Reason)
	assert.Len(t, orch.calls, e.config.MaxAttempts*(e.config.MaxReplans+2))
}

func TestLoopCancelled(t *testing.T) {
	e, orch, _ := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Loop(ctx, newPhaseFile("p01"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, orch.calls)
}

type failingRepo struct {
	*state.MemoryRepository
}

func (failingRepo) Get(context.Context, string) (*types.PhaseRecord, error) {
	return nil, errors.New("disk unavailable")
}

func TestLoopStateReadError(t *testing.T) {
	orch := &scriptedOrchestrator{repo: state.NewMemoryRepository()}
	e := New(DefaultConfig(t.TempDir()), orch, failingRepo{state.NewMemoryRepository()})

	_, err := e.Loop(context.Background(), newPhaseFile("p01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read state for phase p01")
}

func intPtr(v int) *int { return &v }
