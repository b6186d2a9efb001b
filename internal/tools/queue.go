package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// defaultQueueLimit caps list_queue output.
const defaultQueueLimit = 50

// ListQueueInput defines the input schema for the list_queue tool.
type ListQueueInput struct {
	EntityType string `json:"entity_type,omitempty" jsonschema:"Filter by type: npc, faction, location, item, alias or stat"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum entries to return (default 50)"`
}

// ListQueueResult is the response from the list_queue tool.
type ListQueueResult struct {
	Total   int                 `json:"total"`
	Entries []models.QueueEntry `json:"entries"`
}

// NewListQueueHandler creates the list_queue tool handler.
func NewListQueueHandler(deps *Dependencies) mcp.ToolHandlerFor[ListQueueInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListQueueInput) (
		*mcp.CallToolResult, any, error,
	) {
		var entityType models.EntityType
		if input.EntityType != "" {
			t, err := models.ParseEntityType(input.EntityType)
			if err != nil {
				return ErrorResult(err.Error(), "Use one of npc, faction, location, item, alias, stat"), nil, nil
			}
			entityType = t
		}

		limit := input.Limit
		if limit <= 0 {
			limit = defaultQueueLimit
		}

		entries, err := deps.Scans.Queue(ctx, entityType)
		if err != nil {
			deps.Logger.Error("list queue failed", "error", err)
			return ErrorResult("Failed to list queue", "Storage may be unavailable"), nil, nil
		}

		result := ListQueueResult{Total: len(entries), Entries: entries}
		if len(entries) > limit {
			result.Entries = entries[:limit]
		}
		if result.Entries == nil {
			result.Entries = []models.QueueEntry{}
		}
		return JSONResult(result), nil, nil
	}
}
