package cli

import (
	"fmt"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/spf13/cobra"
)

var (
	queueType  string
	queueLimit int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List entities awaiting review",
	Long: `List pending review entries, highest confidence first.

Examples:
  lorekeeper queue
  lorekeeper queue --type npc
  lorekeeper queue --type locations -n 10`,
	Args: cobra.NoArgs,
	RunE: runQueue,
}

func init() {
	queueCmd.Flags().StringVarP(&queueType, "type", "t", "", "filter by entity type")
	queueCmd.Flags().IntVarP(&queueLimit, "limit", "n", 50, "max results")
}

func runQueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var entityType models.EntityType
	if queueType != "" {
		t, err := models.ParseEntityType(queueType)
		if err != nil {
			return err
		}
		entityType = t
	}

	a, err := openApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	entries, err := a.Scans.Queue(ctx, entityType)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Review queue is empty.")
		return nil
	}

	fmt.Fprintf(out, "Pending review (%d):\n\n", len(entries))
	for i, e := range entries {
		if queueLimit > 0 && i == queueLimit {
			fmt.Fprintf(out, "... %d more\n", len(entries)-queueLimit)
			break
		}
		fmt.Fprintf(out, "- %s [%s] %.2f\n", e.EntityName, e.EntityType, e.Confidence)
		if desc := e.EntityData.Attributes[models.AttrDescription]; desc != "" {
			fmt.Fprintf(out, "  %s\n", desc)
		}
		if verbose {
			fmt.Fprintf(out, "  %s, target %s\n", e.SourceMessages, e.TargetFile)
		}
	}
	return nil
}
