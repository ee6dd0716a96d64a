package state

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/daydemir/autopilot/internal/types"
)

// ErrPhaseNotFound is returned by Get for a phase that has no record yet
var ErrPhaseNotFound = errors.New("phase not found")

// NopRepository discards writes and reports every phase as unrecorded
type NopRepository struct{}

func (NopRepository) MarkComplete(context.Context, string) error { return nil }

func (NopRepository) MarkFailed(context.Context, string, string) error { return nil }

func (NopRepository) UpdateAttempts(context.Context, string, types.AttemptUpdate) error { return nil }

func (NopRepository) Get(context.Context, string) (*types.PhaseRecord, error) { return nil, nil }

// MemoryRepository keeps phase records in memory. It is safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*types.PhaseRecord
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*types.PhaseRecord),
		now:     time.Now,
	}
}

// MarkComplete records the phase as complete. Repeated calls keep the first completion time.
func (r *MemoryRepository) MarkComplete(_ context.Context, phaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	markComplete(r.getOrCreate(phaseID), r.now())
	return nil
}

// MarkFailed records the phase as failed with reason (last write wins)
func (r *MemoryRepository) MarkFailed(_ context.Context, phaseID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	markFailed(r.getOrCreate(phaseID), reason, r.now())
	return nil
}

// UpdateAttempts applies a partial update to the phase's counters
func (r *MemoryRepository) UpdateAttempts(_ context.Context, phaseID string, update types.AttemptUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	updateAttempts(r.getOrCreate(phaseID), update, r.now())
	return nil
}

// Get returns a copy of the phase record
func (r *MemoryRepository) Get(_ context.Context, phaseID string) (*types.PhaseRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[phaseID]
	if !ok {
		return nil, ErrPhaseNotFound
	}
	c := *rec
	return &c, nil
}

// All returns copies of every record sorted by phase ID
func (r *MemoryRepository) All() []types.PhaseRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedRecords(r.records)
}

func (r *MemoryRepository) getOrCreate(phaseID string) *types.PhaseRecord {
	rec, ok := r.records[phaseID]
	if !ok {
		rec = newRecord(phaseID)
		r.records[phaseID] = rec
	}
	return rec
}

func newRecord(phaseID string) *types.PhaseRecord {
	return &types.PhaseRecord{PhaseID: phaseID, Status: types.StatusPending}
}

func markComplete(rec *types.PhaseRecord, now time.Time) {
	rec.Status = types.StatusComplete
	rec.FailureReason = ""
	rec.UpdatedAt = now
	if rec.CompletedAt == nil {
		rec.CompletedAt = &now
	}
}

func markFailed(rec *types.PhaseRecord, reason string, now time.Time) {
	rec.Status = types.StatusFailed
	rec.FailureReason = reason
	rec.UpdatedAt = now
}

func updateAttempts(rec *types.PhaseRecord, update types.AttemptUpdate, now time.Time) {
	update.Apply(rec)
	if rec.Status == types.StatusPending {
		rec.Status = types.StatusInProgress
	}
	rec.UpdatedAt = now
}

func sortedRecords(m map[string]*types.PhaseRecord) []types.PhaseRecord {
	out := make([]types.PhaseRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhaseID < out[j].PhaseID })
	return out
}
