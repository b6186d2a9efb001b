package service

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// defaultRunRetention is how many finished runs the manager remembers.
const defaultRunRetention = 50

// ScanRun is the live state of one scan, shared with dashboards.
type ScanRun struct {
	ID              string
	SourceID        string
	Status          models.ScanStatus
	ChunksTotal     int
	ChunksProcessed int
	ChunksFailed    int
	EntitiesFound   int
	Message         string
	StartedAt       time.Time
	CompletedAt     *time.Time

	mu sync.RWMutex
}

// Snapshot returns a thread-safe copy of run state.
func (r *ScanRun) Snapshot() ScanRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ScanRun{
		ID:              r.ID,
		SourceID:        r.SourceID,
		Status:          r.Status,
		ChunksTotal:     r.ChunksTotal,
		ChunksProcessed: r.ChunksProcessed,
		ChunksFailed:    r.ChunksFailed,
		EntitiesFound:   r.EntitiesFound,
		Message:         r.Message,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// RunManager tracks running and recently finished scans in memory.
type RunManager struct {
	runs      map[string]*ScanRun
	mu        sync.RWMutex
	retention int
}

// NewRunManager creates a run manager keeping up to retention finished runs.
func NewRunManager(retention int) *RunManager {
	if retention <= 0 {
		retention = defaultRunRetention
	}
	return &RunManager{
		runs:      make(map[string]*ScanRun),
		retention: retention,
	}
}

// Start registers a new running scan for sourceID.
func (m *RunManager) Start(sourceID string) *ScanRun {
	run := &ScanRun{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		SourceID:  sourceID,
		Status:    models.ScanRunning,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	return run
}

// Get retrieves a run by ID.
func (m *RunManager) Get(id string) *ScanRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

// List returns snapshots of all runs, most recent first.
func (m *RunManager) List() []ScanRun {
	m.mu.RLock()
	runs := make([]ScanRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r.Snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(runs, func(a, b ScanRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs
}

// Running returns snapshots of scans still in progress.
func (m *RunManager) Running() []ScanRun {
	var out []ScanRun
	for _, r := range m.List() {
		if r.Status == models.ScanRunning {
			out = append(out, r)
		}
	}
	return out
}

// UpdateProgress records chunk progress for a run.
func (m *RunManager) UpdateProgress(run *ScanRun, total, processed, failed, entities int) {
	run.mu.Lock()
	run.ChunksTotal = total
	run.ChunksProcessed = processed
	run.ChunksFailed = failed
	run.EntitiesFound = entities
	run.mu.Unlock()
}

// Finish marks the run terminal and prunes old finished runs.
func (m *RunManager) Finish(run *ScanRun, status models.ScanStatus, message string) {
	run.mu.Lock()
	run.Status = status
	run.Message = message
	now := time.Now()
	run.CompletedAt = &now
	run.mu.Unlock()

	m.prune()
}

// prune drops the oldest finished runs beyond the retention limit.
func (m *RunManager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*ScanRun
	for _, r := range m.runs {
		r.mu.RLock()
		done := r.CompletedAt != nil
		r.mu.RUnlock()
		if done {
			finished = append(finished, r)
		}
	}
	if len(finished) <= m.retention {
		return
	}
	slices.SortFunc(finished, func(a, b *ScanRun) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	for _, r := range finished[:len(finished)-m.retention] {
		delete(m.runs, r.ID)
	}
}
