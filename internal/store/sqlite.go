package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and applies the schema.
// Pass ":memory:" for an in-memory database (testing).
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = expandPath(path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS processing_checkpoints (
		source_id                TEXT PRIMARY KEY,
		last_processed_index     INTEGER NOT NULL DEFAULT 0,
		last_processed_timestamp TEXT,
		total_messages_seen      INTEGER NOT NULL DEFAULT 0,
		updated_at               TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scan_history (
		id               TEXT PRIMARY KEY,
		source_id        TEXT NOT NULL,
		target_file      TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		start_index      INTEGER NOT NULL DEFAULT 0,
		end_index        INTEGER NOT NULL DEFAULT 0,
		messages_scanned INTEGER NOT NULL DEFAULT 0,
		chunks_total     INTEGER NOT NULL DEFAULT 0,
		chunks_processed INTEGER NOT NULL DEFAULT 0,
		chunks_failed    INTEGER NOT NULL DEFAULT 0,
		entities_found   INTEGER NOT NULL DEFAULT 0,
		message          TEXT NOT NULL DEFAULT '',
		started_at       TEXT NOT NULL,
		finished_at      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_history_source ON scan_history(source_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS entity_queue (
		id               TEXT PRIMARY KEY,
		entity_type      TEXT NOT NULL CHECK (entity_type IN ('npc','faction','location','item','alias','stat')),
		entity_name      TEXT NOT NULL,
		entity_data      TEXT NOT NULL,
		target_file      TEXT NOT NULL DEFAULT '',
		source_id        TEXT NOT NULL,
		source_messages  TEXT NOT NULL DEFAULT '',
		confidence_score REAL NOT NULL DEFAULT 0,
		status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
		created_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entity_queue_status ON entity_queue(status, confidence_score)`,
}

func (s *SQLiteStore) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, sourceID string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_id, last_processed_index, last_processed_timestamp, total_messages_seen, updated_at
		 FROM processing_checkpoints WHERE source_id = ?`, sourceID)

	var cp models.Checkpoint
	var ts sql.NullString
	var updated string
	err := row.Scan(&cp.SourceID, &cp.LastProcessedIndex, &ts, &cp.TotalMessagesSeen, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}
	if ts.Valid {
		cp.LastProcessedTimestamp = &ts.String
	}
	cp.UpdatedAt = parseTime(updated)
	return &cp, nil
}

func (s *SQLiteStore) UpsertCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	var ts sql.NullString
	if cp.LastProcessedTimestamp != nil {
		ts = sql.NullString{String: *cp.LastProcessedTimestamp, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_checkpoints (source_id, last_processed_index, last_processed_timestamp, total_messages_seen, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET
		     last_processed_index = excluded.last_processed_index,
		     last_processed_timestamp = excluded.last_processed_timestamp,
		     total_messages_seen = excluded.total_messages_seen,
		     updated_at = excluded.updated_at`,
		cp.SourceID, cp.LastProcessedIndex, ts, cp.TotalMessagesSeen, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upserting checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetCheckpoint(ctx context.Context, sourceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processing_checkpoints WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("resetting checkpoint: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, last_processed_index, last_processed_timestamp, total_messages_seen, updated_at
		 FROM processing_checkpoints ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		var ts sql.NullString
		var updated string
		if err := rows.Scan(&cp.SourceID, &cp.LastProcessedIndex, &ts, &cp.TotalMessagesSeen, &updated); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		if ts.Valid {
			cp.LastProcessedTimestamp = &ts.String
		}
		cp.UpdatedAt = parseTime(updated)
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddScan(ctx context.Context, rec models.ScanRecord) error {
	var finished sql.NullString
	if rec.FinishedAt != nil {
		finished = sql.NullString{String: rec.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_history (id, source_id, target_file, status, start_index, end_index, messages_scanned,
		     chunks_total, chunks_processed, chunks_failed, entities_found, message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceID, rec.TargetFile, string(rec.Status), rec.StartIndex, rec.EndIndex, rec.MessagesScanned,
		rec.ChunksTotal, rec.ChunksProcessed, rec.ChunksFailed, rec.EntitiesFound, rec.Message,
		rec.StartedAt.UTC().Format(timeLayout), finished)
	if err != nil {
		return fmt.Errorf("adding scan record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListScans(ctx context.Context, sourceID string, limit int) ([]models.ScanRecord, error) {
	query := `SELECT id, source_id, target_file, status, start_index, end_index, messages_scanned,
	                 chunks_total, chunks_processed, chunks_failed, entities_found, message, started_at, finished_at
	          FROM scan_history`
	var args []any
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	var out []models.ScanRecord
	for rows.Next() {
		var rec models.ScanRecord
		var status, started string
		var finished sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.TargetFile, &status, &rec.StartIndex, &rec.EndIndex,
			&rec.MessagesScanned, &rec.ChunksTotal, &rec.ChunksProcessed, &rec.ChunksFailed, &rec.EntitiesFound,
			&rec.Message, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning scan record: %w", err)
		}
		rec.Status = models.ScanStatus(status)
		rec.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			rec.FinishedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastScan(ctx context.Context, sourceID string) (*models.ScanRecord, error) {
	recs, err := s.ListScans(ctx, sourceID, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, entries []models.QueueEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entity_queue (id, entity_type, entity_name, entity_data, target_file, source_id,
		     source_messages, confidence_score, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		data, err := json.Marshal(e.EntityData)
		if err != nil {
			return fmt.Errorf("encoding entity %q: %w", e.EntityName, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.EntityType), e.EntityName, string(data), e.TargetFile,
			e.SourceID, e.SourceMessages, e.Confidence, string(e.Status), e.CreatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("queueing entity %q: %w", e.EntityName, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListPending(ctx context.Context, entityType models.EntityType) ([]models.QueueEntry, error) {
	query := `SELECT id, entity_type, entity_name, entity_data, target_file, source_id, source_messages,
	                 confidence_score, status, created_at
	          FROM entity_queue WHERE status = 'pending'`
	var args []any
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, string(entityType))
	}
	query += " ORDER BY confidence_score DESC, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var typ, data, status, created string
		if err := rows.Scan(&e.ID, &typ, &e.EntityName, &data, &e.TargetFile, &e.SourceID, &e.SourceMessages,
			&e.Confidence, &status, &created); err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.EntityData); err != nil {
			return nil, fmt.Errorf("decoding entity %q: %w", e.EntityName, err)
		}
		e.EntityType = models.EntityType(typ)
		e.Status = models.QueueStatus(status)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
