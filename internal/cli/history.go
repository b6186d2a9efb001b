package cli

import (
	"fmt"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [source]",
	Short: "Show recent scans",
	Long: `Show recent scan attempts, newest first, for one transcript or all of them.

Examples:
  lorekeeper history
  lorekeeper history "Aria_-_2024-03-01.jsonl" -n 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max results")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var sourceID string
	if len(args) == 1 {
		sourceID = args[0]
	}

	a, err := openApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	records, err := a.Scans.History(ctx, sourceID, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No scans recorded.")
		return nil
	}

	for _, r := range records {
		fmt.Fprintf(out, "%s  %-9s %s  messages %d-%d, %d/%d chunks, %d entities\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.SourceID,
			r.StartIndex, r.EndIndex, r.ChunksProcessed, r.ChunksTotal, r.EntitiesFound)
		if r.Message != "" && (verbose || r.ChunksFailed > 0) {
			fmt.Fprintf(out, "  %s\n", r.Message)
		}
	}
	return nil
}
