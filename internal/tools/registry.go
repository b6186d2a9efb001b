package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List chat transcripts with how far each has been scanned",
	}, NewListSourcesHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_status",
		Description: "Show the checkpoint, last scan and pending chunks of a transcript",
	}, NewScanStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_source",
		Description: "Extract new entities from a transcript into the review queue, resuming from its checkpoint",
	}, NewScanSourceHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_checkpoint",
		Description: "Forget scan progress so the next scan starts from the first message",
	}, NewResetCheckpointHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_queue",
		Description: "List entities awaiting review, highest confidence first",
	}, NewListQueueHandler(deps))
}
