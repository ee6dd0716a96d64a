package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daydemir/autopilot/internal/types"
)

// stateFileVersion is the schema version written to the state file
const stateFileVersion = "1.0"

// stateFile is the on-disk layout of the phase state file
type stateFile struct {
	Version     string                        `json:"version"`
	LastUpdated time.Time                     `json:"last_updated"`
	Phases      map[string]*types.PhaseRecord `json:"phases"`
}

// FileRepository persists phase records to a single JSON file.
// Every write rewrites the file atomically (temp file + rename).
type FileRepository struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileRepository creates a repository backed by path. The file is created on first write.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path, now: time.Now}
}

// Path returns the state file location
func (r *FileRepository) Path() string {
	return r.path
}

// MarkComplete records the phase as complete
func (r *FileRepository) MarkComplete(_ context.Context, phaseID string) error {
	return r.modify(phaseID, func(rec *types.PhaseRecord, now time.Time) {
		markComplete(rec, now)
	})
}

// MarkFailed records the phase as failed with reason
func (r *FileRepository) MarkFailed(_ context.Context, phaseID, reason string) error {
	return r.modify(phaseID, func(rec *types.PhaseRecord, now time.Time) {
		markFailed(rec, reason, now)
	})
}

// UpdateAttempts applies a partial update to the phase's counters
func (r *FileRepository) UpdateAttempts(_ context.Context, phaseID string, update types.AttemptUpdate) error {
	return r.modify(phaseID, func(rec *types.PhaseRecord, now time.Time) {
		updateAttempts(rec, update, now)
	})
}

// Get returns the phase record, or ErrPhaseNotFound
func (r *FileRepository) Get(_ context.Context, phaseID string) (*types.PhaseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, ok := sf.Phases[phaseID]
	if !ok {
		return nil, ErrPhaseNotFound
	}
	return rec, nil
}

// All returns every record sorted by phase ID
func (r *FileRepository) All() ([]types.PhaseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sf, err := r.load()
	if err != nil {
		return nil, err
	}
	return sortedRecords(sf.Phases), nil
}

// Reset removes a phase's record so the next run starts it fresh
func (r *FileRepository) Reset(phaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sf, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := sf.Phases[phaseID]; !ok {
		return ErrPhaseNotFound
	}
	delete(sf.Phases, phaseID)
	return r.save(sf)
}

func (r *FileRepository) modify(phaseID string, fn func(rec *types.PhaseRecord, now time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sf, err := r.load()
	if err != nil {
		return err
	}
	rec, ok := sf.Phases[phaseID]
	if !ok {
		rec = newRecord(phaseID)
		sf.Phases[phaseID] = rec
	}
	fn(rec, r.now())
	return r.save(sf)
}

// load reads the state file. A missing file is an empty state.
func (r *FileRepository) load() (*stateFile, error) {
	file, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return &stateFile{Version: stateFileVersion, Phases: make(map[string]*types.PhaseRecord)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open state file: %w", err)
	}
	defer file.Close()

	var sf stateFile
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&sf); err != nil {
		return nil, fmt.Errorf("cannot decode state file: %w", err)
	}
	if sf.Phases == nil {
		sf.Phases = make(map[string]*types.PhaseRecord)
	}
	return &sf, nil
}

// save writes the state file atomically
func (r *FileRepository) save(sf *stateFile) error {
	sf.Version = stateFileVersion
	sf.LastUpdated = r.now()

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("cannot create state directory: %w", err)
	}

	tempPath := r.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("cannot write temp state file: %w", err)
	}

	if err := os.Rename(tempPath, r.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("cannot rename temp state file: %w", err)
	}

	return nil
}
