package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/lorekeeper/internal/service"
	"github.com/raphaelgruber/lorekeeper/internal/source"
	"github.com/raphaelgruber/lorekeeper/internal/store"
)

// SourceInput names one transcript.
type SourceInput struct {
	SourceID string `json:"source_id" jsonschema:"Transcript ID as returned by list_sources"`
}

// ScanSourceInput defines the input schema for the scan_source tool.
type ScanSourceInput struct {
	SourceID   string `json:"source_id" jsonschema:"Transcript ID as returned by list_sources"`
	Force      bool   `json:"force,omitempty" jsonschema:"Ignore the checkpoint and scan from the first message"`
	TargetFile string `json:"target_file,omitempty" jsonschema:"Character file to attach queued entities to"`
	Background bool   `json:"background,omitempty" jsonschema:"Start the scan and return immediately"`
}

// ScanSourceResult is the response from the scan_source tool.
type ScanSourceResult struct {
	service.ScanResult
	EntityNames []string `json:"entity_names,omitempty"`
}

// NewListSourcesHandler creates the list_sources tool handler.
func NewListSourcesHandler(deps *Dependencies) mcp.ToolHandlerFor[struct{}, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (
		*mcp.CallToolResult, any, error,
	) {
		sources, err := deps.Scans.ListSources(ctx)
		if err != nil {
			deps.Logger.Error("list sources failed", "error", err)
			return ErrorResult("Failed to list sources", "Check that the chats directory exists"), nil, nil
		}
		if len(sources) == 0 {
			return TextResult("No transcripts found"), nil, nil
		}
		return JSONResult(sources), nil, nil
	}
}

// NewScanStatusHandler creates the scan_status tool handler.
func NewScanStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[SourceInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SourceInput) (
		*mcp.CallToolResult, any, error,
	) {
		id := strings.TrimSpace(input.SourceID)
		if id == "" {
			return ErrorResult("source_id is required", "Use list_sources to find transcript IDs"), nil, nil
		}

		status, err := deps.Scans.Status(ctx, id)
		if err != nil {
			return sourceError(deps, id, err), nil, nil
		}
		return JSONResult(status), nil, nil
	}
}

// NewScanSourceHandler creates the scan_source tool handler.
// A scan already running for the source is reported, not treated as an error.
func NewScanSourceHandler(deps *Dependencies) mcp.ToolHandlerFor[ScanSourceInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ScanSourceInput) (
		*mcp.CallToolResult, any, error,
	) {
		id := strings.TrimSpace(input.SourceID)
		if id == "" {
			return ErrorResult("source_id is required", "Use list_sources to find transcript IDs"), nil, nil
		}
		opts := service.ScanOptions{Force: input.Force, TargetFile: input.TargetFile}

		if input.Background {
			if !deps.Scans.ScanAsync(id, opts) {
				return TextResult(fmt.Sprintf("A scan of %s is already running", id)), nil, nil
			}
			return TextResult(fmt.Sprintf("Scan of %s started. Use scan_status to follow it", id)), nil, nil
		}

		res, err := deps.Scans.Scan(ctx, id, opts)
		if err != nil {
			return sourceError(deps, id, err), nil, nil
		}

		out := ScanSourceResult{ScanResult: *res}
		out.Entities = nil
		for _, e := range res.Entities {
			out.EntityNames = append(out.EntityNames, fmt.Sprintf("%s: %s", e.Type, e.Name))
		}

		deps.Logger.Info("scan_source completed", "source", id, "status", res.Status, "entities", res.EntitiesFound)
		return JSONResult(out), nil, nil
	}
}

// NewResetCheckpointHandler creates the reset_checkpoint tool handler.
func NewResetCheckpointHandler(deps *Dependencies) mcp.ToolHandlerFor[SourceInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SourceInput) (
		*mcp.CallToolResult, any, error,
	) {
		id := strings.TrimSpace(input.SourceID)
		if id == "" {
			return ErrorResult("source_id is required", "Use list_sources to find transcript IDs"), nil, nil
		}

		err := deps.Scans.ResetCheckpoint(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return TextResult(fmt.Sprintf("%s has no checkpoint; the next scan already starts from the beginning", id)), nil, nil
		case errors.Is(err, service.ErrScanInProgress):
			return ErrorResult(fmt.Sprintf("%s is being scanned", id), "Wait for the scan to finish and retry"), nil, nil
		case err != nil:
			deps.Logger.Error("reset checkpoint failed", "source", id, "error", err)
			return ErrorResult("Failed to reset checkpoint", "Storage may be unavailable"), nil, nil
		}
		return TextResult(fmt.Sprintf("Checkpoint for %s reset", id)), nil, nil
	}
}

// sourceError maps service errors to tool results with recovery hints.
func sourceError(deps *Dependencies, id string, err error) *mcp.CallToolResult {
	if errors.Is(err, source.ErrSourceNotFound) {
		return ErrorResult(fmt.Sprintf("Transcript %q not found", id), "Use list_sources to find transcript IDs")
	}
	deps.Logger.Error("scan tool failed", "source", id, "error", err)
	return ErrorResult(err.Error(), "")
}
