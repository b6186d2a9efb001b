package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/client"
	"github.com/raphaelgruber/lorekeeper/internal/extract"
	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/raphaelgruber/lorekeeper/internal/notify"
	"github.com/raphaelgruber/lorekeeper/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	scanForce      bool
	scanNoProgress bool
	scanTarget     string
	scanServer     string

	// scanOracle replaces the configured language model when set.
	scanOracle extract.Oracle
)

// errScanFinished stops watching once the followed scan has ended.
var errScanFinished = errors.New("scan finished")

var scanCmd = &cobra.Command{
	Use:   "scan <source>",
	Short: "Extract entities from new messages of a transcript",
	Long: `Scan a transcript in overlapping chunks, starting at its checkpoint, and
queue the merged entities for review.

Use --force to rescan from the first message. The checkpoint never moves
backwards, so a forced scan does not cause the next scan to repeat work.

With --server the scan runs on a running notification server and this
command follows its progress.

Examples:
  lorekeeper scan "Aria_-_2024-03-01.jsonl"
  lorekeeper scan "Aria_-_2024-03-01.jsonl" --force --no-progress
  lorekeeper scan "Aria_-_2024-03-01.jsonl" --server http://localhost:8585`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVarP(&scanForce, "force", "f", false, "ignore the checkpoint and scan from the first message")
	scanCmd.Flags().BoolVar(&scanNoProgress, "no-progress", false, "print plain progress lines instead of the progress bar")
	scanCmd.Flags().StringVar(&scanTarget, "target", "", "character file to attach queued entities to")
	scanCmd.Flags().StringVar(&scanServer, "server", "", "run the scan on a notification server at this URL")
}

func runScan(cmd *cobra.Command, args []string) error {
	id := args[0]
	if scanServer != "" {
		return runRemoteScan(cmd, id)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(ctx, app.Options{Oracle: scanOracle})
	if err != nil {
		return err
	}
	defer closeApp(a)

	opts := service.ScanOptions{Force: scanForce, TargetFile: scanTarget}

	if !scanNoProgress && isTerminal(out) {
		_, err := RunScanProgress(ctx, a.Scans, id, opts)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	opts.Progress = logProgress(out)
	res, err := a.Scans.Scan(ctx, id, opts)
	if err != nil {
		if res != nil {
			fmt.Fprintf(out, "Scan failed after %d/%d chunks.\n", res.ChunksProcessed, res.ChunksTotal)
		}
		return err
	}
	writeScanResult(out, res, "Completed")
	return nil
}

// runRemoteScan starts the scan on a notification server and follows it.
func runRemoteScan(cmd *cobra.Command, id string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()
	c := client.New(scanServer)

	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("server %s not reachable: %w", c.Endpoint(), err)
	}

	watchErr := make(chan error, 1)
	var failure error
	go func() {
		watchErr <- c.Watch(ctx, func(e models.ProgressEvent) error {
			if e.SourceID != id {
				return nil
			}
			printEvent(out, e)
			switch e.Type {
			case models.EventScanFailed:
				failure = fmt.Errorf("scan failed: %s", e.Message)
				return errScanFinished
			case models.EventScanCompleted:
				return errScanFinished
			}
			return nil
		})
	}()

	err := c.StartScan(ctx, notify.ScanRequest{SourceID: id, Force: scanForce, TargetFile: scanTarget})
	switch {
	case errors.Is(err, client.ErrScanRunning):
		fmt.Fprintf(out, "A scan of %s is already running on %s; following it.\n", id, c.Endpoint())
	case err != nil:
		return err
	}

	err = <-watchErr
	if errors.Is(err, errScanFinished) {
		return failure
	}
	return err
}

// printEvent prints one progress event as a line.
func printEvent(out io.Writer, e models.ProgressEvent) {
	switch e.Type {
	case models.EventScanStarted:
		fmt.Fprintf(out, "%s: scan started\n", e.SourceID)
	case models.EventScanProgress:
		fmt.Fprintf(out, "%s: chunk %d/%d, %d entities\n", e.SourceID, e.ChunksProcessed, e.ChunksTotal, e.EntitiesFound)
	default:
		fmt.Fprintf(out, "%s: %s %s\n", e.SourceID, e.Status, e.Message)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
