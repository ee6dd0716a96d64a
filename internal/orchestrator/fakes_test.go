package orchestrator

import (
	"context"
	"sync"

	"github.com/daydemir/autopilot/internal/state"
	"github.com/daydemir/autopilot/internal/types"
)

type fakeRunner struct {
	outcome *AttemptOutcome
	err     error
	panics  any

	calls   int
	budgets []int
	scopes  [][]string
}

func (r *fakeRunner) Run(_ context.Context, phase *types.PhaseSpec, _ int, allowedPaths []string) (*AttemptOutcome, error) {
	r.calls++
	r.budgets = append(r.budgets, phase.TokenBudget)
	r.scopes = append(r.scopes, allowedPaths)
	if r.panics != nil {
		panic(r.panics)
	}
	return r.outcome, r.err
}

func failingRunner(status string) *fakeRunner {
	return &fakeRunner{outcome: &AttemptOutcome{Status: status, Error: "attempt failed: " + status}}
}

type fakeHardener struct {
	result *MitigationResult
	err    error
	calls  int
}

func (h *fakeHardener) DetectAndMitigate(context.Context, string, MitigationContext) (*MitigationResult, error) {
	h.calls++
	return h.result, h.err
}

type fakeDiagnostics struct {
	outcomes []string
}

func (d *fakeDiagnostics) RunForFailure(_ context.Context, _ *types.PhaseSpec, failureOutcome string, _ string) error {
	d.outcomes = append(d.outcomes, failureOutcome)
	return nil
}

type fakeDoctor struct {
	resp        *DoctorResponse
	err         error
	panics      bool
	stop        bool
	invokeCalls int
	requests    []DoctorRequest
}

func (d *fakeDoctor) Invoke(_ context.Context, req DoctorRequest) (*DoctorResponse, error) {
	d.invokeCalls++
	d.requests = append(d.requests, req)
	if d.panics {
		panic("doctor exploded")
	}
	return d.resp, d.err
}

func (d *fakeDoctor) HandleAction(_ context.Context, _ *types.PhaseSpec, resp *DoctorResponse, _ int) (string, bool) {
	return resp.Action, !d.stop
}

type fakeReplan struct {
	trigger bool
	flaw    string
	revised *types.PhaseSpec
	err     error

	triggerCalls int
	reviseCalls  int
	intents      []string
}

func (r *fakeReplan) ShouldTriggerReplan(context.Context, *types.PhaseSpec, []types.PhaseError, int, int) (bool, string) {
	r.triggerCalls++
	return r.trigger, r.flaw
}

func (r *fakeReplan) ReviseApproach(_ context.Context, _ *types.PhaseSpec, _ string, _ []types.PhaseError, originalIntent string) (*types.PhaseSpec, error) {
	r.reviseCalls++
	r.intents = append(r.intents, originalIntent)
	return r.revised, r.err
}

type fakeStuck struct {
	decision types.StuckDecision
	message  string
	err      error
	calls    int
	requests []StuckRequest
}

func (s *fakeStuck) Handle(_ context.Context, req StuckRequest) (types.StuckDecision, string, error) {
	s.calls++
	s.requests = append(s.requests, req)
	return s.decision, s.message, s.err
}

type fakeAnchor struct {
	intent     string
	iterations []int
}

func (a *fakeAnchor) RecordIteration(_ context.Context, _ string, attemptIndex int) error {
	a.iterations = append(a.iterations, attemptIndex)
	return nil
}

func (a *fakeAnchor) OriginalIntent(string) string { return a.intent }

type fakeWiring struct {
	context string
}

func (w *fakeWiring) IntentionContext(context.Context, string) (string, error) {
	return w.context, nil
}

type fakeScope struct {
	scope []string
	err   error
}

func (s *fakeScope) GenerateScope(context.Context, *types.PhaseSpec) ([]string, float64, error) {
	return s.scope, 0.8, s.err
}

type fakeJournal struct {
	entries []types.JournalEntry
}

func (j *fakeJournal) Append(_ context.Context, entry types.JournalEntry) error {
	j.entries = append(j.entries, entry)
	return nil
}

type recordingTelemetry struct {
	mu         sync.Mutex
	hints      []LearningHint
	errors     []types.PhaseError
	efficiency []TokenEfficiency
	outcomes   []types.PhaseResult
}

func (t *recordingTelemetry) RecordLearningHint(_ context.Context, hint LearningHint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hints = append(t.hints, hint)
}

func (t *recordingTelemetry) RecordPhaseError(_ context.Context, perr types.PhaseError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, perr)
}

func (t *recordingTelemetry) RecordTokenEfficiency(_ context.Context, eff TokenEfficiency) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.efficiency = append(t.efficiency, eff)
}

func (t *recordingTelemetry) RecordPhaseOutcome(_ context.Context, _ string, result types.PhaseResult, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = append(t.outcomes, result)
}

func (t *recordingTelemetry) hintKinds() []string {
	kinds := make([]string, 0, len(t.hints))
	for _, h := range t.hints {
		kinds = append(kinds, h.Kind)
	}
	return kinds
}

// recordingRepo is a MemoryRepository that remembers every write
type recordingRepo struct {
	*state.MemoryRepository
	completes int
	failures  []string
	updates   []types.AttemptUpdate
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{MemoryRepository: state.NewMemoryRepository()}
}

func (r *recordingRepo) MarkComplete(ctx context.Context, phaseID string) error {
	r.completes++
	return r.MemoryRepository.MarkComplete(ctx, phaseID)
}

func (r *recordingRepo) MarkFailed(ctx context.Context, phaseID, reason string) error {
	r.failures = append(r.failures, reason)
	return r.MemoryRepository.MarkFailed(ctx, phaseID, reason)
}

func (r *recordingRepo) UpdateAttempts(ctx context.Context, phaseID string, update types.AttemptUpdate) error {
	r.updates = append(r.updates, update)
	return r.MemoryRepository.UpdateAttempts(ctx, phaseID, update)
}

// brokenRepo fails every call
type brokenRepo struct{}

func (brokenRepo) MarkComplete(context.Context, string) error { return errBroken }

func (brokenRepo) MarkFailed(context.Context, string, string) error { return errBroken }

func (brokenRepo) UpdateAttempts(context.Context, string, types.AttemptUpdate) error {
	return errBroken
}

func (brokenRepo) Get(context.Context, string) (*types.PhaseRecord, error) { panic("disk on fire") }

func intPtr(v int) *int { return &v }

// panickingTelemetry panics on every signal, like a metrics sink given a bad label
type panickingTelemetry struct{}

func (panickingTelemetry) RecordLearningHint(context.Context, LearningHint) {
	panic("label cardinality")
}

func (panickingTelemetry) RecordPhaseError(context.Context, types.PhaseError) {
	panic("label cardinality")
}

func (panickingTelemetry) RecordTokenEfficiency(context.Context, TokenEfficiency) {
	panic("label cardinality")
}

func (panickingTelemetry) RecordPhaseOutcome(context.Context, string, types.PhaseResult, string) {
	panic("label cardinality")
}
