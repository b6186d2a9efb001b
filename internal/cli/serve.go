package cli

import (
	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/notify"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification server",
	Long: `Run the HTTP server that starts background scans and pushes their progress
to websocket clients.

Endpoints:
  GET  /health  liveness
  GET  /stats   metrics and active scans
  GET  /scans   recent scan runs
  POST /scans   start a scan: {"source_id": "...", "force": false}
  GET  /ws      progress events

Examples:
  lorekeeper serve
  lorekeeper serve --addr 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	hub := notify.NewHub()
	a, err := openApp(ctx, app.Options{Observer: hub, Oracle: scanOracle})
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr := serveAddr
	if addr == "" {
		addr = a.Config.HTTPAddr
	}

	router := notify.NewRouter(notify.RouterDeps{Hub: hub, Scans: a.Scans, Metrics: a.Metrics})
	return notify.ListenAndServe(ctx, addr, router, hub.Close)
}
