package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolRequest(name, args string) *mcp.CallToolRequest {
	return &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Name: name, Arguments: json.RawMessage(args)}}
}

// logged runs one request through the middleware and returns the decoded log record.
func logged(t *testing.T, req mcp.Request, result mcp.Result, delay time.Duration) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	next := func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		time.Sleep(delay)
		return result, nil
	}
	_, err := LoggingMiddleware(logger)(next)(context.Background(), "tools/call", req)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestLoggingMiddlewareToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		req       mcp.Request
		result    mcp.Result
		delay     time.Duration
		wantMsg   string
		wantLevel string
		wantSrc   any
	}{
		{
			name:      "status call",
			req:       toolRequest("scan_status", `{"source_id":"Aria.jsonl"}`),
			result:    &mcp.CallToolResult{},
			wantMsg:   "request completed",
			wantLevel: "DEBUG",
			wantSrc:   "Aria.jsonl",
		},
		{
			name:      "slow scan is expected",
			req:       toolRequest("scan_source", `{"source_id":"Aria.jsonl","background":false}`),
			result:    &mcp.CallToolResult{},
			delay:     150 * time.Millisecond,
			wantMsg:   "scan tool completed",
			wantLevel: "INFO",
			wantSrc:   "Aria.jsonl",
		},
		{
			name:      "slow reset",
			req:       toolRequest("reset_checkpoint", `{"source_id":"Aria.jsonl"}`),
			result:    &mcp.CallToolResult{},
			delay:     150 * time.Millisecond,
			wantMsg:   "slow request",
			wantLevel: "WARN",
			wantSrc:   "Aria.jsonl",
		},
		{
			name:      "tool error",
			req:       toolRequest("reset_checkpoint", `{"source_id":"nobody.jsonl"}`),
			result:    &mcp.CallToolResult{IsError: true},
			wantMsg:   "tool returned an error",
			wantLevel: "WARN",
			wantSrc:   "nobody.jsonl",
		},
		{
			name:      "no source argument",
			req:       toolRequest("list_sources", `{}`),
			result:    &mcp.CallToolResult{},
			wantMsg:   "request completed",
			wantLevel: "DEBUG",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := logged(t, tt.req, tt.result, tt.delay)
			assert.Equal(t, tt.wantMsg, rec["msg"])
			assert.Equal(t, tt.wantLevel, rec["level"])
			assert.Equal(t, tt.req.GetParams().(*mcp.CallToolParamsRaw).Name, rec["tool"])
			assert.Equal(t, tt.wantSrc, rec["source_id"])
			assert.NotContains(t, rec, "params")
		})
	}
}

func TestDescribeToolCall(t *testing.T) {
	call, ok := describeToolCall(toolRequest("scan_source", `{"source_id":"a.jsonl"}`))
	require.True(t, ok)
	assert.Equal(t, toolCall{Tool: "scan_source", SourceID: "a.jsonl"}, call)

	call, ok = describeToolCall(toolRequest("scan_source", `not json`))
	require.True(t, ok)
	assert.Equal(t, "scan_source", call.Tool)
	assert.Empty(t, call.SourceID)

	_, ok = describeToolCall(&mcp.ListToolsRequest{Params: &mcp.ListToolsParams{}})
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
