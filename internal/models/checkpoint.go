package models

import "time"

// Checkpoint records how far a source has been processed.
// Invariant: 0 <= LastProcessedIndex <= TotalMessagesSeen.
type Checkpoint struct {
	SourceID               string    `json:"source_id"`
	LastProcessedIndex     int       `json:"last_processed_index"`
	LastProcessedTimestamp *string   `json:"last_processed_timestamp,omitempty"`
	TotalMessagesSeen      int       `json:"total_messages_seen"`
	UpdatedAt              time.Time `json:"updated_at"`
}
