package cli

import (
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/spf13/cobra"
)

var sourcesJSON bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List chat transcripts and their scan progress",
	Long: `List every transcript in the chats directory with the character it belongs
to and how many of its messages have been processed.

Examples:
  lorekeeper sources
  lorekeeper sources --json`,
	Args: cobra.NoArgs,
	RunE: runSources,
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesJSON, "json", false, "print JSON")
}

func runSources(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	sources, err := a.Scans.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	out := cmd.OutOrStdout()
	if sourcesJSON {
		return printJSON(cmd, sources)
	}

	if len(sources) == 0 {
		fmt.Fprintf(out, "No transcripts found in %s.\n", a.Source.Root())
		return nil
	}

	fmt.Fprintf(out, "Transcripts (%d):\n\n", len(sources))
	for _, s := range sources {
		progress := "never scanned"
		if s.TotalMessagesSeen > 0 || s.LastProcessedIndex > 0 {
			progress = fmt.Sprintf("%d/%d processed", s.LastProcessedIndex, s.TotalMessagesSeen)
		}
		scanning := ""
		if s.Scanning {
			scanning = " [scanning]"
		}
		fmt.Fprintf(out, "- %s [%s] %s%s\n", s.ID, s.Character, progress, scanning)
		if verbose {
			fmt.Fprintf(out, "  Modified: %s, %d bytes\n", s.ModifiedAt.Format("2006-01-02 15:04"), s.SizeBytes)
		}
	}
	return nil
}

// printJSON writes v as indented JSON to the command output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
