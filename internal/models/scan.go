package models

import "time"

// ScanStatus is the state of a scan run.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	// ScanSkipped marks an attempt that found another scan of the same source running.
	ScanSkipped ScanStatus = "skipped"
)

// ScanRecord is the persisted summary of one scan attempt.
type ScanRecord struct {
	ID              string     `json:"id"`
	SourceID        string     `json:"source_id"`
	TargetFile      string     `json:"target_file,omitempty"`
	Status          ScanStatus `json:"status"`
	StartIndex      int        `json:"start_index"`
	EndIndex        int        `json:"end_index"`
	MessagesScanned int        `json:"messages_scanned"`
	ChunksTotal     int        `json:"chunks_total"`
	ChunksProcessed int        `json:"chunks_processed"`
	ChunksFailed    int        `json:"chunks_failed"`
	EntitiesFound   int        `json:"entities_found"`
	Message         string     `json:"message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Event types emitted while scanning.
const (
	EventScanStarted   = "scan_started"
	EventScanProgress  = "scan_progress"
	EventScanCompleted = "scan_completed"
	EventScanFailed    = "scan_failed"
	EventScanSkipped   = "scan_skipped"
)

// ProgressEvent is pushed to observers as a scan advances.
type ProgressEvent struct {
	Type            string     `json:"type"`
	RunID           string     `json:"run_id,omitempty"`
	SourceID        string     `json:"source_id"`
	Status          ScanStatus `json:"status"`
	ChunksTotal     int        `json:"chunks_total"`
	ChunksProcessed int        `json:"chunks_processed"`
	EntitiesFound   int        `json:"entities_found"`
	Message         string     `json:"message,omitempty"`
}
