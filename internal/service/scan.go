// Package service orchestrates incremental entity scans of chat transcripts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/raphaelgruber/lorekeeper/internal/extract"
	"github.com/raphaelgruber/lorekeeper/internal/filter"
	"github.com/raphaelgruber/lorekeeper/internal/llm"
	"github.com/raphaelgruber/lorekeeper/internal/merge"
	"github.com/raphaelgruber/lorekeeper/internal/metrics"
	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/raphaelgruber/lorekeeper/internal/parser"
	"github.com/raphaelgruber/lorekeeper/internal/source"
	"github.com/raphaelgruber/lorekeeper/internal/store"
)

// SecondsPerChunk is the rough oracle time used for scan estimates.
const SecondsPerChunk = 15

// ErrScanInProgress is returned when an operation needs the source to be idle.
var ErrScanInProgress = errors.New("scan in progress")

// Source lists transcripts and reads their messages.
type Source interface {
	source.Reader
	ListSources(ctx context.Context) ([]source.Info, error)
	CharacterFor(sourceID string) string
}

// ScanDeps holds the collaborators of a ScanService.
type ScanDeps struct {
	Source   Source
	Store    store.Store
	Oracle   extract.Oracle
	Filter   *filter.Detector   // nil uses the default thresholds
	Metrics  *metrics.Collector // optional
	Observer Observer           // optional
}

// ScanOptions configures a single scan.
type ScanOptions struct {
	// Force ignores the checkpoint and windows from the first message.
	Force bool
	// TargetFile overrides the character file recorded on queue entries.
	TargetFile string
	// Progress receives this scan's events in addition to the service observer.
	Progress Observer
}

// ScanResult summarizes a scan attempt.
type ScanResult struct {
	RunID           string             `json:"run_id,omitempty"`
	SourceID        string             `json:"source_id"`
	TargetFile      string             `json:"target_file,omitempty"`
	Status          models.ScanStatus  `json:"status"`
	StartIndex      int                `json:"start_index"`
	EndIndex        int                `json:"end_index"`
	TotalMessages   int                `json:"total_messages"`
	Truncated       bool               `json:"truncated"`
	ChunksTotal     int                `json:"chunks_total"`
	ChunksProcessed int                `json:"chunks_processed"`
	ChunksFailed    int                `json:"chunks_failed"`
	Dropped         int                `json:"dropped"`
	Flagged         int                `json:"flagged"`
	EntitiesFound   int                `json:"entities_found"`
	Entities        []models.Candidate `json:"entities,omitempty"`
	Message         string             `json:"message"`
}

// Skipped reports whether the scan did not run because another scan held the source.
func (r *ScanResult) Skipped() bool {
	return r.Status == models.ScanSkipped
}

// ScanService runs scans: window, extract, filter, merge, enqueue, checkpoint.
type ScanService struct {
	source   Source
	store    store.Store
	oracle   extract.Oracle
	filter   *filter.Detector
	metrics  *metrics.Collector
	observer Observer

	locks *LockTable
	runs  *RunManager

	chunking    parser.ChunkConfig
	incremental bool
	mentionMode merge.MentionMode
	batchSize   int
	pacing      time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScanService creates a scan service. Invalid chunking fails here,
// before any scan starts.
func NewScanService(deps ScanDeps, cfg config.ScanConfig) (*ScanService, error) {
	chunking := parser.ChunkConfig{
		Size:      cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		MaxChunks: cfg.MaxChunks,
	}
	if err := chunking.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Store == nil || deps.Oracle == nil {
		return nil, errors.New("scan service needs a source, a store and an oracle")
	}

	detector := deps.Filter
	if detector == nil {
		detector = filter.New(config.DefaultFilterConfig())
	}

	return &ScanService{
		source:      deps.Source,
		store:       deps.Store,
		oracle:      deps.Oracle,
		filter:      detector,
		metrics:     deps.Metrics,
		observer:    deps.Observer,
		locks:       NewLockTable(cfg.LockStaleAfter),
		runs:        NewRunManager(0),
		chunking:    chunking,
		incremental: cfg.IncrementalMode,
		mentionMode: merge.MentionMode(cfg.MentionCounting),
		batchSize:   cfg.BatchSize,
		pacing:      cfg.RateLimitDelay,
		sleep:       sleepContext,
	}, nil
}

// Runs returns the in-memory run tracker.
func (s *ScanService) Runs() *RunManager {
	return s.runs
}

// Locks returns the per-source lock table.
func (s *ScanService) Locks() *LockTable {
	return s.locks
}

// Scan processes the messages of sourceID added since its checkpoint.
//
// A scan already running for the same source yields a result with status
// skipped and a nil error. On failure the result is returned together with
// the error; the checkpoint is only advanced by a completed scan.
func (s *ScanService) Scan(ctx context.Context, sourceID string, opts ScanOptions) (*ScanResult, error) {
	token, ok := s.locks.TryAcquire(sourceID)
	if !ok {
		return s.skip(sourceID, opts), nil
	}
	defer s.locks.Release(sourceID, token)
	return s.scanLocked(ctx, sourceID, opts)
}

// ScanAsync starts a scan in the background. Returns false when a scan of
// the source is already running.
func (s *ScanService) ScanAsync(sourceID string, opts ScanOptions) bool {
	token, ok := s.locks.TryAcquire(sourceID)
	if !ok {
		s.skip(sourceID, opts)
		return false
	}
	go func() {
		defer s.locks.Release(sourceID, token)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("scan goroutine panicked", "source", sourceID, "panic", r)
			}
		}()
		if _, err := s.scanLocked(context.Background(), sourceID, opts); err != nil {
			slog.Warn("background scan failed", "source", sourceID, "error", err)
		}
	}()
	return true
}

func (s *ScanService) skip(sourceID string, opts ScanOptions) *ScanResult {
	msg := "scan already running for this source"
	slog.Info("scan skipped", "source", sourceID, "reason", msg)
	s.emit(opts, models.ProgressEvent{
		Type:     models.EventScanSkipped,
		SourceID: sourceID,
		Status:   models.ScanSkipped,
		Message:  msg,
	})
	return &ScanResult{SourceID: sourceID, Status: models.ScanSkipped, Message: msg}
}

// scanLocked runs one scan. The caller holds the source lock.
func (s *ScanService) scanLocked(ctx context.Context, sourceID string, opts ScanOptions) (*ScanResult, error) {
	started := time.Now()
	run := s.runs.Start(sourceID)

	target := opts.TargetFile
	if target == "" {
		target = s.source.CharacterFor(sourceID)
	}
	res := &ScanResult{
		RunID:      run.ID,
		SourceID:   sourceID,
		TargetFile: target,
		Status:     models.ScanRunning,
	}

	slog.Info("scan started", "run_id", run.ID, "source", sourceID, "force", opts.Force)
	s.emit(opts, s.event(models.EventScanStarted, res))

	fail := func(err error) (*ScanResult, error) {
		res.Status = models.ScanFailed
		res.Message = err.Error()
		s.finish(ctx, run, res, started, opts)
		return res, err
	}

	messages, err := s.source.ListMessages(ctx, sourceID)
	if err != nil {
		return fail(fmt.Errorf("read source: %w", err))
	}
	res.TotalMessages = len(messages)

	prev, err := s.store.GetCheckpoint(ctx, sourceID)
	if err != nil {
		return fail(fmt.Errorf("get checkpoint: %w", err))
	}
	from := 0
	if prev != nil && s.incremental && !opts.Force {
		from = prev.LastProcessedIndex
	}

	window, err := parser.Plan(len(messages), from, s.chunking)
	if err != nil {
		return fail(fmt.Errorf("plan chunks: %w", err))
	}
	res.StartIndex = window.StartIndex
	res.EndIndex = window.EndIndex
	res.Truncated = window.Truncated
	res.ChunksTotal = len(window.Spans)

	if window.Empty() {
		res.Status = models.ScanCompleted
		res.Message = "No new messages to process"
		s.finish(ctx, run, res, started, opts)
		return res, nil
	}

	set := merge.NewSet(s.mentionMode)
	chunks := parser.Render(window, messages)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("scan cancelled: %w", err))
		}

		if err := s.processChunk(ctx, chunk, set, res); err != nil {
			if errors.Is(err, llm.ErrFatalAPI) || ctx.Err() != nil {
				return fail(fmt.Errorf("chunk %d [%d,%d): %w", chunk.Position, chunk.StartIndex, chunk.EndIndex, err))
			}
			res.ChunksFailed++
			slog.Warn("chunk failed, continuing", "run_id", run.ID, "chunk", chunk.Position,
				"start", chunk.StartIndex, "end", chunk.EndIndex, "error", err)
		}
		res.ChunksProcessed++
		res.EntitiesFound = set.Len()

		s.runs.UpdateProgress(run, res.ChunksTotal, res.ChunksProcessed, res.ChunksFailed, res.EntitiesFound)
		s.emit(opts, s.event(models.EventScanProgress, res))

		more := i+1 < len(chunks)
		if more && s.pacing > 0 && s.batchSize > 0 && (i+1)%s.batchSize == 0 {
			slog.Debug("pacing between chunk batches", "run_id", run.ID, "delay", s.pacing)
			if err := s.sleep(ctx, s.pacing); err != nil {
				return fail(fmt.Errorf("scan cancelled: %w", err))
			}
		}
	}

	res.Entities = set.Entities()
	res.EntitiesFound = len(res.Entities)

	if err := s.enqueue(ctx, res, window); err != nil {
		return fail(fmt.Errorf("enqueue entities: %w", err))
	}
	if err := s.advance(ctx, sourceID, prev, window, messages); err != nil {
		return fail(fmt.Errorf("advance checkpoint: %w", err))
	}

	res.Status = models.ScanCompleted
	res.Message = fmt.Sprintf("Processed %d messages, found %d entities", window.MessagesCovered(), res.EntitiesFound)
	if res.ChunksFailed > 0 {
		res.Message += fmt.Sprintf(" (%d of %d chunks failed)", res.ChunksFailed, res.ChunksTotal)
	}
	s.finish(ctx, run, res, started, opts)
	return res, nil
}

// processChunk extracts, filters and merges one chunk into set.
func (s *ScanService) processChunk(ctx context.Context, chunk models.Chunk, set *merge.Set, res *ScanResult) error {
	text := chunk.Text()
	if text == "" {
		return nil
	}

	extracted, err := s.oracle.Extract(ctx, text)
	if err != nil {
		return err
	}

	batch := extracted.All()
	for i := range batch {
		batch[i].MentionIndices = chunk.MentionIndices(batch[i].Name)
	}

	filtered := s.filter.Filter(batch, text)
	res.Dropped += filtered.Dropped
	res.Flagged += filtered.Flagged
	set.Add(filtered.Kept)
	return nil
}

// enqueue hands every merged entity to the review queue.
func (s *ScanService) enqueue(ctx context.Context, res *ScanResult, window parser.Window) error {
	if len(res.Entities) == 0 {
		return nil
	}

	now := time.Now()
	span := fmt.Sprintf("Messages %d-%d from %s", window.StartIndex, window.EndIndex, res.SourceID)
	entries := make([]models.QueueEntry, 0, len(res.Entities))
	for _, e := range res.Entities {
		entries = append(entries, models.QueueEntry{
			ID:             uuid.New().String(),
			EntityType:     e.Type,
			EntityName:     e.Name,
			EntityData:     e,
			TargetFile:     res.TargetFile,
			SourceID:       res.SourceID,
			SourceMessages: span,
			Confidence:     e.Confidence,
			Status:         models.QueuePending,
			CreatedAt:      now,
		})
	}

	start := time.Now()
	if err := s.store.Enqueue(ctx, entries); err != nil {
		s.metrics.RecordFailure(metrics.OpQueue, time.Since(start))
		return err
	}
	s.metrics.RecordTiming(metrics.OpQueue, time.Since(start))
	return nil
}

// advance moves the checkpoint to the covered boundary. The index never
// decreases and never exceeds the number of messages.
func (s *ScanService) advance(ctx context.Context, sourceID string, prev *models.Checkpoint, window parser.Window, messages []models.Message) error {
	index := window.EndIndex
	if prev != nil && prev.LastProcessedIndex > index {
		index = prev.LastProcessedIndex
	}
	index = min(index, len(messages))

	cp := models.Checkpoint{
		SourceID:           sourceID,
		LastProcessedIndex: index,
		TotalMessagesSeen:  len(messages),
		UpdatedAt:          time.Now(),
	}
	if index > 0 {
		if ts := messages[index-1].RawTimestamp; ts != "" {
			cp.LastProcessedTimestamp = &ts
		}
	}

	start := time.Now()
	if err := s.store.UpsertCheckpoint(ctx, cp); err != nil {
		s.metrics.RecordFailure(metrics.OpCheckpoint, time.Since(start))
		return err
	}
	s.metrics.RecordTiming(metrics.OpCheckpoint, time.Since(start))
	return nil
}

// finish writes the terminal scan record and emits the terminal event.
func (s *ScanService) finish(ctx context.Context, run *ScanRun, res *ScanResult, started time.Time, opts ScanOptions) {
	finished := time.Now()
	rec := models.ScanRecord{
		ID:              run.ID,
		SourceID:        res.SourceID,
		TargetFile:      res.TargetFile,
		Status:          res.Status,
		StartIndex:      res.StartIndex,
		EndIndex:        res.EndIndex,
		MessagesScanned: res.EndIndex - res.StartIndex,
		ChunksTotal:     res.ChunksTotal,
		ChunksProcessed: res.ChunksProcessed,
		ChunksFailed:    res.ChunksFailed,
		EntitiesFound:   res.EntitiesFound,
		Message:         res.Message,
		StartedAt:       run.StartedAt,
		FinishedAt:      &finished,
	}
	if res.Status != models.ScanCompleted {
		rec.MessagesScanned = 0
	}

	// The record must be written even when the scan was cancelled.
	if err := s.store.AddScan(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("failed to record scan", "run_id", run.ID, "source", res.SourceID, "error", err)
	}

	s.runs.UpdateProgress(run, res.ChunksTotal, res.ChunksProcessed, res.ChunksFailed, res.EntitiesFound)
	s.runs.Finish(run, res.Status, res.Message)

	eventType := models.EventScanCompleted
	if res.Status == models.ScanFailed {
		eventType = models.EventScanFailed
		s.metrics.RecordFailure(metrics.OpScan, time.Since(started))
		slog.Error("scan failed", "run_id", run.ID, "source", res.SourceID, "error", res.Message)
	} else {
		s.metrics.RecordTiming(metrics.OpScan, time.Since(started))
		slog.Info("scan completed", "run_id", run.ID, "source", res.SourceID,
			"start", res.StartIndex, "end", res.EndIndex, "chunks", res.ChunksTotal,
			"failed_chunks", res.ChunksFailed, "entities", res.EntitiesFound)
	}
	s.emit(opts, s.event(eventType, res))
}

func (s *ScanService) event(eventType string, res *ScanResult) models.ProgressEvent {
	return models.ProgressEvent{
		Type:            eventType,
		RunID:           res.RunID,
		SourceID:        res.SourceID,
		Status:          res.Status,
		ChunksTotal:     res.ChunksTotal,
		ChunksProcessed: res.ChunksProcessed,
		EntitiesFound:   res.EntitiesFound,
		Message:         res.Message,
	}
}

// emit delivers an event to the observers.
func (s *ScanService) emit(opts ScanOptions, event models.ProgressEvent) {
	multiObserver{s.observer, opts.Progress}.Publish(event)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
