// Package parser reads chat transcripts and slices them into overlapping windows.
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// maxLineSize bounds a single transcript line. Long roleplay turns can exceed bufio's 64KB default.
const maxLineSize = 16 * 1024 * 1024

// rawMessage is one SillyTavern JSONL line.
type rawMessage struct {
	Name     string          `json:"name"`
	IsUser   bool            `json:"is_user"`
	IsSystem bool            `json:"is_system"`
	Mes      string          `json:"mes"`
	SendDate json.RawMessage `json:"send_date"`
}

// ParseTranscript reads a SillyTavern JSONL transcript into ordered messages.
// The chat_metadata header and blank lines are skipped. Lines that fail to
// decode are logged and skipped without consuming a sequence index.
func ParseTranscript(r io.Reader) ([]models.Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var messages []models.Message
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if isMetadataLine(line) {
			continue
		}

		var raw rawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			slog.Warn("skipping malformed transcript line", "line", lineNo, "error", err)
			continue
		}

		speaker := strings.TrimSpace(raw.Name)
		if speaker == "" {
			speaker = "Unknown"
		}
		rawTS := rawTimestamp(raw.SendDate)
		messages = append(messages, models.Message{
			Speaker:       speaker,
			Text:          raw.Mes,
			Timestamp:     ParseTimestamp(rawTS),
			RawTimestamp:  rawTS,
			SequenceIndex: len(messages),
			IsUser:        raw.IsUser,
			IsSystem:      raw.IsSystem,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return messages, nil
}

// isMetadataLine reports whether a line is the chat header object.
func isMetadataLine(line []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return false
	}
	_, ok := fields["chat_metadata"]
	return ok
}

// rawTimestamp returns send_date as written: strings unquoted, numbers verbatim.
func rawTimestamp(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(v))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"January 2, 2006 3:04pm",
	"January 2, 2006 3:04 PM",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats SillyTavern has written over time.
// Returns nil when the value is empty or unrecognized.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
