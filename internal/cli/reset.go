package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/store"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Forget the checkpoint of a transcript",
	Long: `Delete the checkpoint of a transcript so the next scan starts from the
first message. Queued entities are kept.

Examples:
  lorekeeper reset "Aria_-_2024-03-01.jsonl"`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	a, err := openApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	err = a.Scans.ResetCheckpoint(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has no checkpoint.\n", id)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint for %s reset.\n", id)
	return nil
}
