package models

import "time"

// QueueStatus is the review state of a queued entity.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueApproved QueueStatus = "approved"
	QueueRejected QueueStatus = "rejected"
)

// QueueEntry is one merged entity awaiting human review.
type QueueEntry struct {
	ID             string      `json:"id"`
	EntityType     EntityType  `json:"entity_type"`
	EntityName     string      `json:"entity_name"`
	EntityData     Candidate   `json:"entity_data"`
	TargetFile     string      `json:"target_file,omitempty"`
	SourceID       string      `json:"source_id"`
	SourceMessages string      `json:"source_messages"` // "Messages 0-47 from chat.jsonl"
	Confidence     float64     `json:"confidence_score"`
	Status         QueueStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}
