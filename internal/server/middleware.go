package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxArgLogLen is the maximum length for logged arguments before truncation.
const maxArgLogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 100 * time.Millisecond

// scanTools call the language model and are expected to be slow.
var scanTools = map[string]bool{
	"scan_source": true,
}

// toolCall is the part of a tools/call request worth logging.
type toolCall struct {
	Tool     string
	SourceID string
}

// LoggingMiddleware returns middleware that logs all requests with timing.
// Tool calls carry the tool name and the transcript they target. Requests
// slower than 100ms are logged at WARN, except scans, which are logged at
// INFO with their elapsed time.
func LoggingMiddleware(logger *slog.Logger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)
			duration := time.Since(start)

			attrs := []any{
				"method", method,
				"duration_ms", duration.Milliseconds(),
			}

			call, isTool := describeToolCall(req)
			if isTool {
				attrs = append(attrs, "tool", call.Tool)
				if call.SourceID != "" {
					attrs = append(attrs, "source_id", call.SourceID)
				}
			} else if params := formatParams(req); params != "" {
				attrs = append(attrs, "params", truncate(params, maxArgLogLen))
			}

			switch {
			case err != nil:
				attrs = append(attrs, "error", err.Error())
				logger.Error("request failed", attrs...)
			case isToolError(result):
				logger.Warn("tool returned an error", attrs...)
			case isTool && scanTools[call.Tool]:
				logger.Info("scan tool completed", append(attrs, "elapsed", duration.Round(time.Millisecond).String())...)
			case duration > slowRequestThreshold:
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}

			return result, err
		}
	}
}

// describeToolCall extracts the tool name and source_id argument of a tools/call request.
func describeToolCall(req mcp.Request) (toolCall, bool) {
	if req == nil {
		return toolCall{}, false
	}
	params, ok := req.GetParams().(*mcp.CallToolParamsRaw)
	if !ok || params == nil {
		return toolCall{}, false
	}
	call := toolCall{Tool: params.Name}
	var args struct {
		SourceID string `json:"source_id"`
	}
	if len(params.Arguments) > 0 && json.Unmarshal(params.Arguments, &args) == nil {
		call.SourceID = args.SourceID
	}
	return call, true
}

func isToolError(result mcp.Result) bool {
	r, ok := result.(*mcp.CallToolResult)
	return ok && r != nil && r.IsError
}

// formatParams extracts and formats request parameters for logging.
func formatParams(req mcp.Request) string {
	if req == nil {
		return ""
	}
	params := req.GetParams()
	if params == nil {
		return ""
	}
	return fmt.Sprintf("%+v", params)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
