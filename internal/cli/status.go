package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/service"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [source]",
	Short: "Show checkpoint and pending work for transcripts",
	Long: `Show how far a transcript has been processed, its last scan and what the
next scan would do: the chunk spans and an estimated duration.

Without a source, prints one line per transcript.

Examples:
  lorekeeper status
  lorekeeper status "Aria_-_2024-03-01.jsonl"
  lorekeeper status "Aria_-_2024-03-01.jsonl" --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	var ids []string
	if len(args) == 1 {
		ids = args
	} else {
		sources, err := a.Scans.ListSources(ctx)
		if err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
		for _, s := range sources {
			ids = append(ids, s.ID)
		}
	}

	statuses := make([]*service.SourceStatus, 0, len(ids))
	for _, id := range ids {
		st, err := a.Scans.Status(ctx, id)
		if err != nil {
			return fmt.Errorf("status of %s: %w", id, err)
		}
		statuses = append(statuses, st)
	}

	if statusJSON {
		if len(args) == 1 {
			return printJSON(cmd, statuses[0])
		}
		return printJSON(cmd, statuses)
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		printStatus(out, statuses[0])
		return nil
	}
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No transcripts found.")
		return nil
	}
	for _, st := range statuses {
		fmt.Fprintf(out, "- %s: %d new messages, %d chunks pending (~%ds)\n",
			st.SourceID, st.NewMessages(), len(st.Pending.Spans), st.EstimatedSeconds)
	}
	return nil
}

func printStatus(out io.Writer, st *service.SourceStatus) {
	fmt.Fprintf(out, "Transcript: %s\n", st.SourceID)
	fmt.Fprintf(out, "Messages:   %d\n", st.TotalMessages)
	if st.Checkpoint != nil {
		fmt.Fprintf(out, "Processed:  %d (updated %s)\n",
			st.Checkpoint.LastProcessedIndex, st.Checkpoint.UpdatedAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(out, "Processed:  never scanned")
	}
	if st.Scanning {
		fmt.Fprintln(out, "Scanning:   yes")
	}
	if st.LastScan != nil {
		fmt.Fprintf(out, "Last scan:  %s, %d entities", st.LastScan.Status, st.LastScan.EntitiesFound)
		if st.LastScan.Message != "" {
			fmt.Fprintf(out, " (%s)", st.LastScan.Message)
		}
		fmt.Fprintln(out)
	}

	if st.Pending.Empty() {
		fmt.Fprintln(out, "\nNothing new to process.")
		return
	}

	fmt.Fprintf(out, "\nNext scan: messages %d-%d in %d chunks, about %ds\n",
		st.Pending.StartIndex, st.Pending.EndIndex, len(st.Pending.Spans), st.EstimatedSeconds)
	if st.Pending.Truncated {
		fmt.Fprintf(out, "  Limited by max_chunks_per_scan; %d messages remain after it\n",
			st.Pending.TotalMessages-st.Pending.EndIndex)
	}
	if verbose {
		for i, span := range st.Pending.Spans {
			fmt.Fprintf(out, "  chunk %d: [%d, %d)\n", i+1, span.Start, span.End)
		}
	}
}
