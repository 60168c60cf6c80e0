package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/server"
	"github.com/gkobilansky/abgoat/internal/store"
)

const tokenFileName = ".abg-token"

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the abgoat HTTP server.

The server provides:
  - Beacon endpoints for events (/b) and observations (/o)
  - A token-protected JSON API under /api
  - Prometheus metrics at /metrics and a health check at /health

Example:
  abg serve --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withStore(func(s store.Store) error {
				srv := server.New(s, a.runner(s), a.logger, a.metrics, server.Options{
					Port:      a.cfg.Server.Port,
					TokenFile: a.tokenFilePath(),
				})

				out := cmd.OutOrStdout()
				fmt.Fprintln(out)
				fmt.Fprintf(out, "abgoat running on http://localhost:%d\n", srv.Port())
				fmt.Fprintf(out, "API token: %s\n", srv.Token())
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Press Ctrl+C to stop")

				return srv.Start(ctx)
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

// tokenFilePath keeps the token file alongside the database.
func (a *app) tokenFilePath() string {
	return filepath.Join(filepath.Dir(a.cfg.DBPath), tokenFileName)
}
