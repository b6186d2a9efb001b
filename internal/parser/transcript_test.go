package parser

import (
	"strings"
	"testing"
	"time"
)

func TestParseTranscript(t *testing.T) {
	input := strings.Join([]string{
		`{"user_name":"You","character_name":"Aria","chat_metadata":{"note_prompt":""}}`,
		`{"name":"You","is_user":true,"mes":"Hello there.","send_date":"2024-03-01T10:00:00.000Z"}`,
		``,
		`{"name":"Aria","is_user":false,"mes":"Welcome to Brightwater.","send_date":1709287260000}`,
		`not json at all`,
		`{"name":"","is_system":true,"mes":"[scene break]","send_date":"March 1, 2024 10:02am"}`,
		`{"name":"Aria","mes":"The Silver Hand rules here."}`,
	}, "\n")

	messages, err := ParseTranscript(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseTranscript() error = %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("ParseTranscript() got %d messages, want 4", len(messages))
	}

	for i, m := range messages {
		if m.SequenceIndex != i {
			t.Errorf("messages[%d].SequenceIndex = %d", i, m.SequenceIndex)
		}
	}

	if !messages[0].IsUser || messages[0].Speaker != "You" {
		t.Errorf("messages[0] = %+v, want user message from You", messages[0])
	}
	if messages[0].Timestamp == nil || !messages[0].Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("messages[0].Timestamp = %v", messages[0].Timestamp)
	}
	if messages[1].RawTimestamp != "1709287260000" {
		t.Errorf("messages[1].RawTimestamp = %q", messages[1].RawTimestamp)
	}
	if messages[1].Timestamp == nil || messages[1].Timestamp.Unix() != 1709287260 {
		t.Errorf("messages[1].Timestamp = %v", messages[1].Timestamp)
	}
	if !messages[2].IsSystem || messages[2].Speaker != "Unknown" {
		t.Errorf("messages[2] = %+v, want system message from Unknown", messages[2])
	}
	if _, ok := messages[2].Line(); ok {
		t.Error("system message should not render")
	}
	if messages[3].Timestamp != nil || messages[3].RawTimestamp != "" {
		t.Errorf("messages[3] should have no timestamp, got %v %q", messages[3].Timestamp, messages[3].RawTimestamp)
	}
}

func TestParseTranscript_Empty(t *testing.T) {
	messages, err := ParseTranscript(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseTranscript() error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("ParseTranscript() got %d messages, want 0", len(messages))
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
	}{
		{"2024-03-01T10:00:00Z", true},
		{"2024-03-01T10:00:00.123Z", true},
		{"2024-03-01 10:00:00", true},
		{"March 1, 2024 10:02am", true},
		{"1709287260000", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseTimestamp(tt.in)
			if (got != nil) != tt.wantOK {
				t.Errorf("ParseTimestamp(%q) = %v, want ok=%v", tt.in, got, tt.wantOK)
			}
		})
	}
}
