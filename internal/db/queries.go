package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

type checkpointRow struct {
	SourceID               string    `json:"source_id"`
	LastProcessedIndex     int       `json:"last_processed_index"`
	LastProcessedTimestamp string    `json:"last_processed_timestamp"`
	TotalMessagesSeen      int       `json:"total_messages_seen"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (r checkpointRow) model() models.Checkpoint {
	cp := models.Checkpoint{
		SourceID:           r.SourceID,
		LastProcessedIndex: r.LastProcessedIndex,
		TotalMessagesSeen:  r.TotalMessagesSeen,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.LastProcessedTimestamp != "" {
		ts := r.LastProcessedTimestamp
		cp.LastProcessedTimestamp = &ts
	}
	return cp
}

type scanRow struct {
	ID              surrealmodels.RecordID `json:"id"`
	SourceID        string                 `json:"source_id"`
	TargetFile      string                 `json:"target_file"`
	Status          string                 `json:"status"`
	StartIndex      int                    `json:"start_index"`
	EndIndex        int                    `json:"end_index"`
	MessagesScanned int                    `json:"messages_scanned"`
	ChunksTotal     int                    `json:"chunks_total"`
	ChunksProcessed int                    `json:"chunks_processed"`
	ChunksFailed    int                    `json:"chunks_failed"`
	EntitiesFound   int                    `json:"entities_found"`
	Message         string                 `json:"message"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
}

type queueRow struct {
	ID              surrealmodels.RecordID `json:"id"`
	EntityType      string                 `json:"entity_type"`
	EntityName      string                 `json:"entity_name"`
	EntityData      string                 `json:"entity_data"`
	TargetFile      string                 `json:"target_file"`
	SourceID        string                 `json:"source_id"`
	SourceMessages  string                 `json:"source_messages"`
	ConfidenceScore float64                `json:"confidence_score"`
	Status          string                 `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
}

// recordIDString extracts the string ID from a SurrealDB RecordID.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// GetCheckpoint returns the checkpoint of a source, or nil if it has none.
func (c *Client) GetCheckpoint(ctx context.Context, sourceID string) (*models.Checkpoint, error) {
	results, err := surrealdb.Query[[]checkpointRow](ctx, c.db, `
		SELECT * FROM type::record("processing_checkpoint", $id)
	`, map[string]any{"id": sourceID})
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	cp := (*results)[0].Result[0].model()
	return &cp, nil
}

// UpsertCheckpoint creates or replaces the checkpoint of a source.
func (c *Client) UpsertCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	ts := ""
	if cp.LastProcessedTimestamp != nil {
		ts = *cp.LastProcessedTimestamp
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("processing_checkpoint", $id) SET
			source_id = $id,
			last_processed_index = $index,
			last_processed_timestamp = $ts,
			total_messages_seen = $total,
			updated_at = time::now()
	`, map[string]any{
		"id":    cp.SourceID,
		"index": cp.LastProcessedIndex,
		"ts":    ts,
		"total": cp.TotalMessagesSeen,
	})
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", wrapQueryError(err))
	}
	return nil
}

// ResetCheckpoint deletes the checkpoint of a source. Returns ErrNotFound if there was none.
func (c *Client) ResetCheckpoint(ctx context.Context, sourceID string) error {
	results, err := surrealdb.Query[[]checkpointRow](ctx, c.db, `
		DELETE type::record("processing_checkpoint", $id) RETURN BEFORE
	`, map[string]any{"id": sourceID})
	if err != nil {
		return fmt.Errorf("reset checkpoint: %w", wrapQueryError(err))
	}

	// RETURN BEFORE returns the deleted record
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCheckpoints returns all checkpoints ordered by source.
func (c *Client) ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	results, err := surrealdb.Query[[]checkpointRow](ctx, c.db, `
		SELECT * FROM processing_checkpoint ORDER BY source_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Checkpoint{}, nil
	}
	out := make([]models.Checkpoint, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		out = append(out, r.model())
	}
	return out, nil
}

// AddScan records one scan attempt.
func (c *Client) AddScan(ctx context.Context, rec models.ScanRecord) error {
	content := map[string]any{
		"source_id":        rec.SourceID,
		"target_file":      rec.TargetFile,
		"status":           string(rec.Status),
		"start_index":      rec.StartIndex,
		"end_index":        rec.EndIndex,
		"messages_scanned": rec.MessagesScanned,
		"chunks_total":     rec.ChunksTotal,
		"chunks_processed": rec.ChunksProcessed,
		"chunks_failed":    rec.ChunksFailed,
		"entities_found":   rec.EntitiesFound,
		"message":          rec.Message,
		"started_at":       rec.StartedAt,
	}
	// option<datetime> must be omitted rather than null
	if rec.FinishedAt != nil {
		content["finished_at"] = *rec.FinishedAt
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("scan_history", $id) CONTENT $content
	`, map[string]any{"id": rec.ID, "content": content})
	if err != nil {
		return fmt.Errorf("add scan: %w", wrapQueryError(err))
	}
	return nil
}

// ListScans returns scan records, most recent first. An empty sourceID lists all sources.
func (c *Client) ListScans(ctx context.Context, sourceID string, limit int) ([]models.ScanRecord, error) {
	whereClause := ""
	vars := map[string]any{}
	if sourceID != "" {
		whereClause = "WHERE source_id = $source"
		vars["source"] = sourceID
	}
	limitClause := ""
	if limit > 0 {
		limitClause = "LIMIT $limit"
		vars["limit"] = limit
	}

	sql := fmt.Sprintf(`SELECT * FROM scan_history %s ORDER BY started_at DESC %s`, whereClause, limitClause)
	results, err := surrealdb.Query[[]scanRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.ScanRecord{}, nil
	}
	out := make([]models.ScanRecord, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		id, err := recordIDString(r.ID)
		if err != nil {
			return nil, fmt.Errorf("list scans: %w", err)
		}
		out = append(out, models.ScanRecord{
			ID:              id,
			SourceID:        r.SourceID,
			TargetFile:      r.TargetFile,
			Status:          models.ScanStatus(r.Status),
			StartIndex:      r.StartIndex,
			EndIndex:        r.EndIndex,
			MessagesScanned: r.MessagesScanned,
			ChunksTotal:     r.ChunksTotal,
			ChunksProcessed: r.ChunksProcessed,
			ChunksFailed:    r.ChunksFailed,
			EntitiesFound:   r.EntitiesFound,
			Message:         r.Message,
			StartedAt:       r.StartedAt,
			FinishedAt:      r.FinishedAt,
		})
	}
	return out, nil
}

// LastScan returns the most recent scan of a source, or nil if it was never scanned.
func (c *Client) LastScan(ctx context.Context, sourceID string) (*models.ScanRecord, error) {
	recs, err := c.ListScans(ctx, sourceID, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Enqueue writes queue entries in one transaction.
func (c *Client) Enqueue(ctx context.Context, entries []models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e.EntityData)
		if err != nil {
			return fmt.Errorf("encode entity %q: %w", e.EntityName, err)
		}
		rows = append(rows, map[string]any{
			"id": e.ID,
			"content": map[string]any{
				"entity_type":      string(e.EntityType),
				"entity_name":      e.EntityName,
				"entity_data":      string(data),
				"target_file":      e.TargetFile,
				"source_id":        e.SourceID,
				"source_messages":  e.SourceMessages,
				"confidence_score": e.Confidence,
				"status":           string(e.Status),
				"created_at":       e.CreatedAt,
			},
		})
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		FOR $row IN $rows {
			CREATE type::record("entity_queue", $row.id) CONTENT $row.content;
		};
		COMMIT TRANSACTION;
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("enqueue: %w", wrapQueryError(err))
	}
	return nil
}

// ListPending returns pending queue entries, highest confidence first.
func (c *Client) ListPending(ctx context.Context, entityType models.EntityType) ([]models.QueueEntry, error) {
	typeClause := ""
	vars := map[string]any{}
	if entityType != "" {
		typeClause = "AND entity_type = $type"
		vars["type"] = string(entityType)
	}

	sql := fmt.Sprintf(`
		SELECT * FROM entity_queue WHERE status = 'pending' %s ORDER BY confidence_score DESC
	`, typeClause)
	results, err := surrealdb.Query[[]queueRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.QueueEntry{}, nil
	}
	out := make([]models.QueueEntry, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		id, err := recordIDString(r.ID)
		if err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		e := models.QueueEntry{
			ID:             id,
			EntityType:     models.EntityType(r.EntityType),
			EntityName:     r.EntityName,
			TargetFile:     r.TargetFile,
			SourceID:       r.SourceID,
			SourceMessages: r.SourceMessages,
			Confidence:     r.ConfidenceScore,
			Status:         models.QueueStatus(r.Status),
			CreatedAt:      r.CreatedAt,
		}
		if err := json.Unmarshal([]byte(r.EntityData), &e.EntityData); err != nil {
			return nil, fmt.Errorf("decode entity %q: %w", r.EntityName, err)
		}
		out = append(out, e)
	}
	return out, nil
}
