package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// MemoryStore is a Store kept in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]models.Checkpoint
	scans       []models.ScanRecord
	queue       []models.QueueEntry
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]models.Checkpoint),
		now:         time.Now,
	}
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, sourceID string) (*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[sourceID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *MemoryStore) UpsertCheckpoint(_ context.Context, cp models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp.UpdatedAt = m.now().UTC()
	m.checkpoints[cp.SourceID] = cp
	return nil
}

func (m *MemoryStore) ResetCheckpoint(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checkpoints[sourceID]; !ok {
		return ErrNotFound
	}
	delete(m.checkpoints, sourceID)
	return nil
}

func (m *MemoryStore) ListCheckpoints(_ context.Context) ([]models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b models.Checkpoint) int { return cmp.Compare(a.SourceID, b.SourceID) })
	return out, nil
}

func (m *MemoryStore) AddScan(_ context.Context, rec models.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scans = append(m.scans, rec)
	return nil
}

func (m *MemoryStore) ListScans(_ context.Context, sourceID string, limit int) ([]models.ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ScanRecord
	for i := len(m.scans) - 1; i >= 0; i-- {
		if sourceID != "" && m.scans[i].SourceID != sourceID {
			continue
		}
		out = append(out, m.scans[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) LastScan(ctx context.Context, sourceID string) (*models.ScanRecord, error) {
	recs, err := m.ListScans(ctx, sourceID, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (m *MemoryStore) Enqueue(_ context.Context, entries []models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		e.EntityData = e.EntityData.Clone()
		m.queue = append(m.queue, e)
	}
	return nil
}

func (m *MemoryStore) ListPending(_ context.Context, entityType models.EntityType) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.QueueEntry
	for _, e := range m.queue {
		if e.Status != models.QueuePending {
			continue
		}
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b models.QueueEntry) int { return cmp.Compare(b.Confidence, a.Confidence) })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
