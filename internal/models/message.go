// Package models defines data structures shared by the lorekeeper pipeline.
package models

import (
	"strings"
	"time"
)

// Message is one speaker-tagged line of a chat transcript.
// Immutable once read; SequenceIndex is unique and strictly increasing within a source.
type Message struct {
	Speaker       string     `json:"speaker"`
	Text          string     `json:"text"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	RawTimestamp  string     `json:"raw_timestamp,omitempty"` // send_date as written in the transcript
	SequenceIndex int        `json:"sequence_index"`
	IsUser        bool       `json:"is_user,omitempty"`
	IsSystem      bool       `json:"is_system,omitempty"`
}

// Line renders the message as "<speaker>: <text>".
// Returns false for system messages and messages without text.
func (m Message) Line() (string, bool) {
	if m.IsSystem {
		return "", false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return "", false
	}
	speaker := m.Speaker
	if speaker == "" {
		speaker = "Unknown"
	}
	return speaker + ": " + text, true
}

// Chunk is a contiguous window of messages [StartIndex, EndIndex) rendered to text lines.
type Chunk struct {
	Position   int      `json:"position"` // order within the scan
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"`
	Lines      []string `json:"lines"`

	// indexes[i] is the SequenceIndex of Lines[i].
	indexes []int
}

// NewChunk renders messages into a chunk covering [start, end).
func NewChunk(position, start, end int, messages []Message) Chunk {
	c := Chunk{Position: position, StartIndex: start, EndIndex: end}
	for _, m := range messages {
		if line, ok := m.Line(); ok {
			c.Lines = append(c.Lines, line)
			c.indexes = append(c.indexes, m.SequenceIndex)
		}
	}
	return c
}

// Text joins the chunk lines with newlines.
func (c Chunk) Text() string {
	return strings.Join(c.Lines, "\n")
}

// Len returns the number of messages the chunk spans, rendered or not.
func (c Chunk) Len() int {
	return c.EndIndex - c.StartIndex
}

// MentionIndices returns the sequence indices of rendered lines that contain
// name, case-insensitively.
func (c Chunk) MentionIndices(name string) []int {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	var out []int
	for i, line := range c.Lines {
		if strings.Contains(strings.ToLower(line), needle) {
			out = append(out, c.indexes[i])
		}
	}
	return out
}
