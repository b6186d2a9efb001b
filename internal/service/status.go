package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/raphaelgruber/lorekeeper/internal/parser"
	"github.com/raphaelgruber/lorekeeper/internal/source"
	"github.com/raphaelgruber/lorekeeper/internal/store"
)

// SourceSummary is a transcript with its scan progress.
type SourceSummary struct {
	source.Info
	LastProcessedIndex int  `json:"last_processed_index"`
	TotalMessagesSeen  int  `json:"total_messages_seen"`
	Scanning           bool `json:"scanning"`
}

// SourceStatus describes where a source stands and what the next scan would do.
type SourceStatus struct {
	SourceID         string             `json:"source_id"`
	TotalMessages    int                `json:"total_messages"`
	Checkpoint       *models.Checkpoint `json:"checkpoint,omitempty"`
	LastScan         *models.ScanRecord `json:"last_scan,omitempty"`
	Scanning         bool               `json:"scanning"`
	Pending          parser.Window      `json:"pending"`
	EstimatedSeconds int                `json:"estimated_seconds"`
}

// NewMessages returns how many messages lie beyond the checkpoint.
func (s SourceStatus) NewMessages() int {
	if s.Checkpoint == nil {
		return s.TotalMessages
	}
	return max(s.TotalMessages-s.Checkpoint.LastProcessedIndex, 0)
}

// ListSources returns every transcript with its checkpoint, if any.
func (s *ScanService) ListSources(ctx context.Context) ([]SourceSummary, error) {
	infos, err := s.source.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	checkpoints, err := s.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	byID := make(map[string]models.Checkpoint, len(checkpoints))
	for _, cp := range checkpoints {
		byID[cp.SourceID] = cp
	}

	out := make([]SourceSummary, 0, len(infos))
	for _, info := range infos {
		sum := SourceSummary{Info: info, Scanning: s.locks.IsActive(info.ID)}
		if cp, ok := byID[info.ID]; ok {
			sum.LastProcessedIndex = cp.LastProcessedIndex
			sum.TotalMessagesSeen = cp.TotalMessagesSeen
		}
		out = append(out, sum)
	}
	return out, nil
}

// Status previews the next scan of sourceID without running it.
func (s *ScanService) Status(ctx context.Context, sourceID string) (*SourceStatus, error) {
	messages, err := s.source.ListMessages(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	cp, err := s.store.GetCheckpoint(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	last, err := s.store.LastScan(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get last scan: %w", err)
	}

	from := 0
	if cp != nil && s.incremental {
		from = cp.LastProcessedIndex
	}
	window, err := parser.Plan(len(messages), from, s.chunking)
	if err != nil {
		return nil, fmt.Errorf("plan chunks: %w", err)
	}

	return &SourceStatus{
		SourceID:         sourceID,
		TotalMessages:    len(messages),
		Checkpoint:       cp,
		LastScan:         last,
		Scanning:         s.locks.IsActive(sourceID),
		Pending:          window,
		EstimatedSeconds: len(window.Spans) * SecondsPerChunk,
	}, nil
}

// ResetCheckpoint forgets the progress of sourceID so the next scan starts
// from the first message. Fails with ErrScanInProgress while it is being scanned.
func (s *ScanService) ResetCheckpoint(ctx context.Context, sourceID string) error {
	token, ok := s.locks.TryAcquire(sourceID)
	if !ok {
		return fmt.Errorf("reset %s: %w", sourceID, ErrScanInProgress)
	}
	defer s.locks.Release(sourceID, token)

	if err := s.store.ResetCheckpoint(ctx, sourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reset %s: no checkpoint: %w", sourceID, err)
		}
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	slog.Info("checkpoint reset", "source", sourceID)
	return nil
}

// History returns recent scan records, newest first. An empty sourceID lists all sources.
func (s *ScanService) History(ctx context.Context, sourceID string, limit int) ([]models.ScanRecord, error) {
	recs, err := s.store.ListScans(ctx, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return recs, nil
}

// Queue returns pending review entries, highest confidence first.
func (s *ScanService) Queue(ctx context.Context, entityType models.EntityType) ([]models.QueueEntry, error) {
	entries, err := s.store.ListPending(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}
