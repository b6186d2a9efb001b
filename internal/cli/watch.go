package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/lorekeeper/internal/client"
	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/spf13/cobra"
)

var (
	watchServer string
	watchSource string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream scan progress from a notification server",
	Long: `Connect to a running notification server and print scan events as they
happen. Stops on Ctrl+C or when the server shuts down.

Examples:
  lorekeeper watch
  lorekeeper watch --source "Aria_-_2024-03-01.jsonl"
  lorekeeper watch --server http://nas.local:8585`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "server URL (default $LOREKEEPER_SERVER_URL or http://localhost:8585)")
	watchCmd.Flags().StringVarP(&watchSource, "source", "s", "", "only show events of this transcript")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	c := client.New(watchServer)

	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("server %s not reachable: %w", c.Endpoint(), err)
	}
	fmt.Fprintf(out, "Connected to %s (%d active scans)\n", c.Endpoint(), len(stats.ActiveScans))
	for _, run := range stats.ActiveScans {
		fmt.Fprintf(out, "  %s: %d/%d chunks\n", run.SourceID, run.ChunksProcessed, run.ChunksTotal)
	}

	err = c.Watch(ctx, func(e models.ProgressEvent) error {
		if watchSource == "" || e.SourceID == watchSource {
			printEvent(out, e)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
