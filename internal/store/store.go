// Package store persists checkpoints, scan history and the review queue.
package store

import (
	"context"
	"errors"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Checkpoints tracks how far each source has been processed.
type Checkpoints interface {
	// GetCheckpoint returns nil and no error when the source has never been scanned.
	GetCheckpoint(ctx context.Context, sourceID string) (*models.Checkpoint, error)
	UpsertCheckpoint(ctx context.Context, cp models.Checkpoint) error
	// ResetCheckpoint removes the checkpoint so the next scan starts from the beginning.
	// Returns ErrNotFound when there is none.
	ResetCheckpoint(ctx context.Context, sourceID string) error
	ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error)
}

// ScanHistory records one entry per scan attempt.
type ScanHistory interface {
	AddScan(ctx context.Context, rec models.ScanRecord) error
	// ListScans returns the most recent scans first. An empty sourceID lists all sources.
	ListScans(ctx context.Context, sourceID string, limit int) ([]models.ScanRecord, error)
	// LastScan returns nil and no error when the source has no history.
	LastScan(ctx context.Context, sourceID string) (*models.ScanRecord, error)
}

// ReviewQueue receives merged entities for human review.
type ReviewQueue interface {
	Enqueue(ctx context.Context, entries []models.QueueEntry) error
	// ListPending returns pending entries, highest confidence first. An empty type lists all types.
	ListPending(ctx context.Context, entityType models.EntityType) ([]models.QueueEntry, error)
}

// Store bundles the persistence the scan pipeline needs.
type Store interface {
	Checkpoints
	ScanHistory
	ReviewQueue
	Close() error
}
